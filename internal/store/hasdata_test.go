package store

import (
	"testing"

	"candlesync/internal/domain"
)

func TestNextStatus(t *testing.T) {
	confirm := Policy{ConfirmMisses: 3}
	sticky := Policy{Sticky: true}

	tests := []struct {
		name     string
		prev     Status
		outcome  Outcome
		inserted int
		policy   Policy
		want     Status
	}{
		{"insert sets true", Status{domain.HasDataUnknown, 0}, OutcomeFetched, 3, confirm, Status{domain.HasDataTrue, 0}},
		{"insert revives false", Status{domain.HasDataFalse, 4}, OutcomeFetched, 1, confirm, Status{domain.HasDataTrue, 0}},
		{"no data on unknown", Status{domain.HasDataUnknown, 0}, OutcomeNoData, 0, confirm, Status{domain.HasDataFalse, 1}},
		{"no data on false unchanged", Status{domain.HasDataFalse, 1}, OutcomeNoData, 0, confirm, Status{domain.HasDataFalse, 1}},
		{"no data after reset keeps streak", Status{domain.HasDataFalse, 3}, OutcomeNoData, 0, confirm, Status{domain.HasDataFalse, 3}},
		{"single miss keeps true", Status{domain.HasDataTrue, 0}, OutcomeNoData, 0, confirm, Status{domain.HasDataTrue, 1}},
		{"confirmed misses reset true", Status{domain.HasDataTrue, 2}, OutcomeNoData, 0, confirm, Status{domain.HasDataFalse, 3}},
		{"sticky never resets", Status{domain.HasDataTrue, 50}, OutcomeNoData, 0, sticky, Status{domain.HasDataTrue, 51}},
		{"threshold floor of two", Status{domain.HasDataTrue, 0}, OutcomeNoData, 0, Policy{ConfirmMisses: 1}, Status{domain.HasDataTrue, 1}},
		{"current proves history", Status{domain.HasDataUnknown, 0}, OutcomeAlreadyCurrent, 0, confirm, Status{domain.HasDataTrue, 0}},
		{"current keeps true, clears streak", Status{domain.HasDataTrue, 2}, OutcomeAlreadyCurrent, 0, confirm, Status{domain.HasDataTrue, 0}},
		{"fetched without inserts unchanged", Status{domain.HasDataUnknown, 0}, OutcomeFetched, 0, confirm, Status{domain.HasDataUnknown, 0}},
		{"fetched without inserts keeps true", Status{domain.HasDataTrue, 1}, OutcomeFetched, 0, confirm, Status{domain.HasDataTrue, 0}},
	}
	for _, tt := range tests {
		if got := NextStatus(tt.prev, tt.outcome, tt.inserted, tt.policy); got != tt.want {
			t.Errorf("%s: NextStatus = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestOutcomeString(t *testing.T) {
	if OutcomeNoData.String() != "no_data" || OutcomeFetched.String() != "fetched" || OutcomeAlreadyCurrent.String() != "current" {
		t.Error("unexpected outcome names")
	}
}
