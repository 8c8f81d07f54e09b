package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/TranscriptQA/internal/errors"
	"github.com/Corphon/TranscriptQA/internal/models"
)

func dashboardRecords() []models.TranscriptRecord {
	return []models.TranscriptRecord{
		{CallID: "1", Channel: models.ChannelWebPortal, Category: "Billing Dispute", Severity: "High", Transcript: "I switched from TracFone last month"},
		{CallID: "2", Channel: models.ChannelMobileApp, Category: "Plan Change", Severity: "Critical", Transcript: "Straight Talk plan question"},
		{CallID: "3", Channel: models.ChannelWebPortal, Category: "Plan Change", Severity: "Low", Transcript: "nothing special"},
	}
}

func TestTranscriptFilters(t *testing.T) {
	records := dashboardRecords()

	tests := []struct {
		name    string
		filters TranscriptFilters
		want    []string
	}{
		{"all means no filter", TranscriptFilters{Channel: "all", Category: "all", Severity: "all", Brand: "all"}, []string{"1", "2", "3"}},
		{"empty means no filter", TranscriptFilters{}, []string{"1", "2", "3"}},
		{"channel", TranscriptFilters{Channel: "Web Portal"}, []string{"1", "3"}},
		{"channel and category", TranscriptFilters{Channel: "Web Portal", Category: "Plan Change"}, []string{"3"}},
		{"severity", TranscriptFilters{Severity: "Critical"}, []string{"2"}},
		{"brand mention", TranscriptFilters{Brand: "tracfone"}, []string{"1"}},
		{"no match", TranscriptFilters{Channel: "Target"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := []string{}
			for _, rec := range tt.filters.Apply(records) {
				got = append(got, rec.CallID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateStats(t *testing.T) {
	stats := CalculateStats(dashboardRecords())

	assert.Equal(t, 3, stats.TotalTranscripts)
	assert.Equal(t, map[string]int{"Web Portal": 2, "Mobile App": 1}, stats.Channels)
	assert.Equal(t, map[string]int{"High": 1, "Medium": 0, "Low": 1, "Critical": 1}, stats.Severities)

	empty := CalculateStats(nil)
	assert.Equal(t, map[string]int{"High": 0, "Medium": 0, "Low": 0}, empty.Severities)
}

func TestDashboardService_LoadDefaultsWithoutData(t *testing.T) {
	svc := NewDashboardService(newTestStore(t), quietLogger())

	data := svc.Load()
	assert.False(t, data.HasData)
	assert.Zero(t, data.Stats.TotalTranscripts)
	assert.Equal(t, []string{"Web Portal", "Mobile App", "TASORA"}, data.Channels)
	assert.Equal(t, []string{"Device Activation", "Plan Management", "Billing"}, data.Categories)
	assert.Equal(t, SupportedBrands, data.Brands)

	_, _, err := svc.Transcripts(TranscriptFilters{})
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestDashboardService_LoadLatestBatch(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SaveBatch(models.StageCleaned, "20250301T000000_a", models.NewTranscriptBatch(models.StageCleaned, dashboardRecords(), fixedClock()()))
	require.NoError(t, err)

	svc := NewDashboardService(store, quietLogger())
	data := svc.Load()

	assert.True(t, data.HasData)
	assert.Equal(t, "cleaned_20250301T000000_a.json", data.SourceFile)
	assert.Equal(t, 3, data.Stats.TotalTranscripts)
	assert.Equal(t, []string{"Mobile App", "Web Portal"}, data.Channels)
	assert.Equal(t, []string{"Billing Dispute", "Plan Change"}, data.Categories)

	records, source, err := svc.Transcripts(TranscriptFilters{Category: "Plan Change"})
	require.NoError(t, err)
	assert.Equal(t, "cleaned_20250301T000000_a.json", source)
	assert.Len(t, records, 2)

	// 生成只读取脱敏批次
	_, _, err = svc.MaskedTranscripts(TranscriptFilters{})
	assert.True(t, apperrors.IsNotFoundError(err))

	_, err = store.SaveBatch(models.StageMasked, "20250301T000000_a", models.NewTranscriptBatch(models.StageMasked, dashboardRecords(), fixedClock()()))
	require.NoError(t, err)
	records, source, err = svc.MaskedTranscripts(TranscriptFilters{Category: "Plan Change"})
	require.NoError(t, err)
	assert.Equal(t, "masked_20250301T000000_a.json", source)
	assert.Len(t, records, 2)
}
