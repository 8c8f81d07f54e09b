// internal/pii/verify.go
package pii

import (
	"fmt"
	"regexp"

	"github.com/Corphon/TranscriptQA/internal/models"
)

// Residue 脱敏后仍疑似 PII 的残留
type Residue struct {
	CallID string `json:"call_id"`
	Field  string `json:"field"`
	Kind   string `json:"kind"`
	Count  int    `json:"count"`
}

func (r Residue) String() string {
	return fmt.Sprintf("%s - %s (%s): %d items", r.CallID, r.Kind, r.Field, r.Count)
}

var verificationPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"Phone numbers", regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`)},
	{"Email addresses", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"Long number sequences", regexp.MustCompile(`\b\d{10,15}\b`)},
}

// Verify 重新扫描已脱敏记录，只报告不修复
func Verify(records []models.TranscriptRecord) []Residue {
	residues := []Residue{}
	for _, rec := range records {
		callID := rec.CallID
		if callID == "" {
			callID = "Unknown"
		}

		fields := []struct {
			name  string
			value string
		}{
			{"transcript", rec.Transcript},
			{"resolution", rec.Resolution},
			{"impact", rec.Impact},
		}
		for _, f := range fields {
			if f.value == "" {
				continue
			}
			for _, p := range verificationPatterns {
				if n := len(p.re.FindAllStringIndex(f.value, -1)); n > 0 {
					residues = append(residues, Residue{CallID: callID, Field: f.name, Kind: p.kind, Count: n})
				}
			}
		}
	}
	return residues
}
