package parser

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/models"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

// callBlock is a realistic call section, comfortably longer than MinSegmentLength.
const callBlock = `Channel: web portal support
Date: March 5, 2025
Category: device activation issue
Severity: High
Agent: Thank you for contacting support, how can I help you today with your account?
Customer: My new phone will not activate. You can call me back at 555-987-6543 if we get disconnected.
Agent: I can see the activation is pending on our side; let me push it through now.
Customer: Great, thank you so much for the quick help with this activation problem.
Resolution: Activation pushed manually by agent.
Impact: Customer unable to use device for two days.`

func quietParser() *Parser {
	logger := utils.NewLogger(&bytes.Buffer{}, utils.DEBUG)
	return NewParser(logger, utils.NewPipelineMetrics(utils.NewMetricsCollector(), logger))
}

func markedDocument(n int) string {
	var sb strings.Builder
	sb.WriteString("TOTAL WIRELESS Customer Support Dataset\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "TW_WEB_%03d\n%s\n\n", i, callBlock)
	}
	return sb.String()
}

func TestRuleSet_FirstMatchWins(t *testing.T) {
	rs := LabelRuleSet("category", "category:", "issue type:", "type:", "problem:")

	value, rule, ok := rs.Apply("Problem: dropped calls\nType: Billing")
	require.True(t, ok)
	assert.Equal(t, "type:", rule)
	assert.Equal(t, "Billing", value)

	_, _, ok = rs.Apply("nothing labelled here")
	assert.False(t, ok)
	assert.Equal(t, []string{"category:", "issue type:", "type:", "problem:"}, rs.Names())
}

func TestLabelRule_TrimsAndIgnoresCase(t *testing.T) {
	value, ok := LabelRule("root cause:").Match("ROOT CAUSE:   Billing system outage   \nNext line")
	require.True(t, ok)
	assert.Equal(t, "Billing system outage", value)
}

func TestPatternRule(t *testing.T) {
	rule := PatternRule("digits", regexp.MustCompile(`(\d+)`), func(g []string) (string, bool) {
		return g[1], g[1] != "0"
	})

	v, ok := rule.Match("order 42")
	assert.True(t, ok)
	assert.Equal(t, "42", v)

	_, ok = rule.Match("order 0")
	assert.False(t, ok)
}

func TestSegment_MarkedBlocks(t *testing.T) {
	for _, n := range []int{2, 3, 5} {
		result := NewSegmenter().Segment(markedDocument(n))
		assert.Len(t, result.Sections, n, "blocks=%d", n)
		assert.Equal(t, "id_marker", result.Pattern)
	}

	// a single block ties with the unsplit document, so the earlier pattern keeps it
	single := NewSegmenter().Segment(markedDocument(1))
	assert.Len(t, single.Sections, 1)
	assert.Equal(t, "call_marker", single.Pattern)
}

func TestSegment_WinnerHasMostSections(t *testing.T) {
	doc := markedDocument(3)
	result := NewSegmenter().Segment(doc)

	for _, sep := range DefaultSeparators {
		count := 0
		for _, piece := range sep.Pattern.Split(doc, -1) {
			if len([]rune(strings.TrimSpace(piece))) > MinSegmentLength {
				count++
			}
		}
		assert.LessOrEqual(t, count, len(result.Sections), sep.Name)
	}
}

func TestSegment_TieKeepsFirstPattern(t *testing.T) {
	// "Section N" markers and "===" rules both yield two pieces
	doc := "Section 1\n===\n" + callBlock + "\nSection 2\n===\n" + callBlock
	result := NewSegmenter().Segment(doc)

	assert.Len(t, result.Sections, 2)
	assert.Equal(t, "section_marker", result.Pattern)
}

func TestSegment_NoSeparatorFallsBackToWholeDocument(t *testing.T) {
	doc := "short text without any separator"
	result := NewSegmenter().Segment(doc)

	assert.Equal(t, []string{doc}, result.Sections)
	assert.Empty(t, result.Pattern)
}

func TestExtract_SynthesizesWebCallID(t *testing.T) {
	record := NewExtractor().Extract(callBlock, 1)

	assert.Equal(t, "TW_WEB_001", record.CallID)
	assert.Equal(t, models.ChannelWebPortal, record.Channel)
	assert.Equal(t, "March 5, 2025", record.Date)
	assert.Equal(t, "device activation issue", record.Category)
	assert.Equal(t, "High", record.Severity)
	assert.Empty(t, record.JourneyType)
	assert.Equal(t, "Activation pushed manually by agent.", record.Resolution)
	assert.Equal(t, "Customer unable to use device for two days.", record.Impact)
	assert.Empty(t, record.RootCause)
	assert.True(t, strings.HasPrefix(record.Transcript, "Agent: Thank you"))
	assert.Contains(t, record.Transcript, "555-987-6543")
	assert.NotContains(t, record.Transcript, "Resolution:")
	assert.Equal(t, len([]rune(callBlock)), record.RawTextLength)
}

func TestExtract_UnknownFallback(t *testing.T) {
	section := "Customer reported a billing question regarding last month charges. " +
		"Agent reviewed the invoice line by line and explained each fee in detail."

	record := NewExtractor().Extract(section, 3)

	assert.Equal(t, "TW_UNKNOWN_003", record.CallID)
	assert.Equal(t, models.ChannelUnknown, record.Channel)
	assert.Empty(t, record.Severity)
}

func TestExtract_CallIDRules(t *testing.T) {
	e := NewExtractor()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"explicit marker", "Ref TW_TASORA_014 escalated", "TW_TASORA_014"},
		{"call marker", "Call AB_CD_12 opened", "TW_AB_CD_12"},
		{"id label", "Ticket ID: 88XZ_1 logged", "TW_88XZ_1"},
		{"id label already prefixed", "ID: TW_MISC", "TW_MISC"},
		{"word containing id is ignored", "I did 45 checks on the mobile line", "TW_APP_007"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Extract(tt.text, 7).CallID)
		})
	}
}

func TestInferChannel(t *testing.T) {
	tests := []struct {
		text   string
		callID string
		want   models.Channel
	}{
		{"", "TW_TASORA_001", models.ChannelTASORA},
		{"tasora mentioned", "TW_WEB_001", models.ChannelWebPortal},
		{"customer used the website", "TW_X_1", models.ChannelWebPortal},
		{"opened the mobile app", "TW_X_1", models.ChannelMobileApp},
		{"bought at Target", "TW_X_1", models.ChannelTarget},
		{"reached the IVR menu", "TW_X_1", models.ChannelSMSBotIVR},
		{"nothing useful", "TW_X_1", models.ChannelUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, InferChannel(tt.text, tt.callID), tt.text)
	}
}

func TestConversationRules(t *testing.T) {
	rs := conversationRules()

	t.Run("transcript block", func(t *testing.T) {
		v, rule, ok := rs.Apply("Header\nTranscript: Agent: Hi\nCustomer: hello\nResolution: done")
		require.True(t, ok)
		assert.Equal(t, "transcript_block", rule)
		assert.Equal(t, "Agent: Hi\nCustomer: hello", v)
	})

	t.Run("conversation block runs to end", func(t *testing.T) {
		v, rule, _ := rs.Apply("Conversation:\nAgent: Hi\nCustomer: bye")
		assert.Equal(t, "conversation_block", rule)
		assert.Equal(t, "Agent: Hi\nCustomer: bye", v)
	})

	t.Run("agent turns split on two letter labels", func(t *testing.T) {
		v, rule, _ := rs.Apply("Agent: hi\nCustomer: hello\nQA: note\nAgent: bye\nCustomer: ok")
		assert.Equal(t, "agent_turns", rule)
		assert.Equal(t, "Agent: hi\nCustomer: hello\n\nAgent: bye\nCustomer: ok", v)
	})

	t.Run("truncation fallback", func(t *testing.T) {
		v, rule, _ := rs.Apply(strings.Repeat("x", 1200))
		assert.Equal(t, "truncated", rule)
		assert.Equal(t, strings.Repeat("x", 1000)+"...", v)
	})

	t.Run("short text returned whole", func(t *testing.T) {
		v, _, _ := rs.Apply("just a note")
		assert.Equal(t, "just a note", v)
	})
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll…", TruncateRunes("héllo wörld", 4, "…"))
	assert.Equal(t, "short", TruncateRunes("short", 10, "…"))
}

func TestParseText_TwoSections(t *testing.T) {
	result := quietParser().ParseText(markedDocument(2))

	require.Len(t, result.Records, 2)
	assert.Equal(t, "TW_WEB_001", result.Records[0].CallID)
	assert.Equal(t, "TW_WEB_002", result.Records[1].CallID)
	for _, r := range result.Records {
		assert.Equal(t, models.ChannelWebPortal, r.Channel)
		assert.Equal(t, "High", r.Severity)
	}
	assert.Zero(t, result.Failed)
}

func TestParseText_SkipsShortSections(t *testing.T) {
	result := quietParser().ParseText("tiny")

	assert.Empty(t, result.Records)
	assert.Equal(t, 1, result.Skipped)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calls.txt")
	require.NoError(t, os.WriteFile(path, []byte(markedDocument(3)), 0644))

	result, err := quietParser().ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, result.Records, 3)

	_, err = quietParser().ParseFile(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("   \n"), 0644))
	_, err = quietParser().ParseFile(empty)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestReadPDF_Empty(t *testing.T) {
	_, err := ReadPDF(bytes.NewReader(nil))
	assert.Error(t, err)

	_, err = ReadPDFFile("")
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	summary := Summary([]models.TranscriptRecord{
		{Channel: models.ChannelWebPortal, Category: "Plan Change", Severity: "High"},
		{Channel: models.ChannelWebPortal, Severity: "Low"},
	})

	assert.Equal(t, 2, summary["channels"]["Web Portal"])
	assert.Equal(t, 1, summary["categories"]["Plan Change"])
	assert.Len(t, summary["severities"], 2)
}
