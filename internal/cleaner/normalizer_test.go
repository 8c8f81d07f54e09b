package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Corphon/TranscriptQA/internal/models"
)

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"device activation issue", "Device Activation"},
		{"", "Unknown"},
		{"   ", "Unknown"},
		{"Plan Change Severity: High", "Plan Change"},
		{"billing dispute TRANSCRIPT: Agent: hello", "Billing Dispute"},
		{"Auto Pay Management", "Auto-Pay Management"},
		{"SIM card activation failure", "SIM Card Activation"},
		{"roaming charges High", "Roaming Charges"},
		{"network outage", "Network Outage"},
		{"Low", "Unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCategory(tt.raw), "raw=%q", tt.raw)
	}
}

func TestNormalizeCategory_TableOrder(t *testing.T) {
	// both "device upgrade" and "plan change" appear; the earlier table entry wins
	assert.Equal(t, "Plan Change", NormalizeCategory("device upgrade with plan change"))
}

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "Medium"},
		{"High", "High"},
		{"  critical outage ", "Critical"},
		{"critical/high", "Critical"},
		{"LOW Category: Billing", "Low"},
		{"medium TRANSCRIPT: ...", "Medium"},
		{"P2", "P2"},
		{"Agent: hi", "Medium"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSeverity(tt.raw), "raw=%q", tt.raw)
	}
	assert.Equal(t, Unclassified, NormalizeSeverityOr("", Unclassified))
}

func TestNormalizeJourneyType(t *testing.T) {
	assert.Equal(t, "Non-tangible", NormalizeJourneyType(""))
	assert.Equal(t, "Non-tangible", NormalizeJourneyType("non-tangible journey"))
	assert.Equal(t, "Tangible", NormalizeJourneyType("TANGIBLE"))
	assert.Equal(t, "Hybrid", NormalizeJourneyType(" Hybrid "))
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "August 1, 2024", NormalizeDate("Call on August 1, 2024 at 10am"))
	assert.Equal(t, "2024-08-01", NormalizeDate("2024-08-01T10:00"))
	assert.Equal(t, "8/1/2024", NormalizeDate("logged 8/1/2024"))
	assert.Equal(t, "last Tuesday", NormalizeDate("  last Tuesday "))
	assert.Empty(t, NormalizeDate(""))
}

func TestCleanConversation(t *testing.T) {
	body := "TOTAL WIRELESS - Customer Support Transcripts\n" +
		"Agent: Hello\n" +
		"=====\n" +
		"Support Dataset v2\n" +
		"Channels: Web, App\n" +
		"\n\n\n" +
		"Customer: Hi there\n"

	assert.Equal(t, "Agent: Hello\n\nCustomer: Hi there", CleanConversation(body))
	assert.Empty(t, CleanConversation(""))
}

func TestCleanResolutionAndImpact(t *testing.T) {
	assert.Equal(t, "Reset the SIM", CleanResolution("Reset the SIM Impact: none Root Cause: x"))
	assert.Equal(t, "Two days offline", CleanImpact("Two days offline Root Cause: provisioning"))
	assert.Equal(t, "Refund issued", CleanImpact("Refund issued resolution: done"))
}

func TestNormalizer_Apply(t *testing.T) {
	rec := models.TranscriptRecord{
		CallID:     "TW_WEB_001",
		Category:   "plan change request",
		Date:       "Date of call March 3, 2025",
		Transcript: "Agent: hi\n\n\n\nCustomer: hello",
		Resolution: "Plan switched Impact: minor",
		RootCause:  "  UI bug  ",
	}

	NewNormalizer("").Apply(&rec)

	assert.Equal(t, "Plan Change", rec.Category)
	assert.Equal(t, "Medium", rec.Severity)
	assert.Equal(t, "Non-tangible", rec.JourneyType)
	assert.Equal(t, "March 3, 2025", rec.Date)
	assert.Equal(t, "Agent: hi\n\nCustomer: hello", rec.Transcript)
	assert.Equal(t, "Plan switched", rec.Resolution)
	assert.Equal(t, "UI bug", rec.RootCause)
	assert.Equal(t, "TW_WEB_001", rec.CallID)
}

func TestNormalizer_ApplyAllCopies(t *testing.T) {
	in := []models.TranscriptRecord{{Severity: ""}}
	out := NewNormalizer(Unclassified).ApplyAll(in)

	assert.Equal(t, Unclassified, out[0].Severity)
	assert.Empty(t, in[0].Severity)
}
