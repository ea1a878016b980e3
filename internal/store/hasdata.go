package store

import "candlesync/internal/domain"

// Outcome is the result of one collection attempt for an instrument.
type Outcome int

const (
	// OutcomeFetched means an adapter returned a non-empty series.
	OutcomeFetched Outcome = iota
	// OutcomeNoData means every adapter in the chain failed or returned nothing.
	OutcomeNoData
	// OutcomeAlreadyCurrent means the stored series already reaches the cutoff.
	OutcomeAlreadyCurrent
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeFetched:
		return "fetched"
	case OutcomeNoData:
		return "no_data"
	case OutcomeAlreadyCurrent:
		return "current"
	}
	return "unknown"
}

// Policy controls when a true has_data flag may be reset.
type Policy struct {
	// Sticky keeps a true flag forever.
	Sticky bool
	// ConfirmMisses is the number of consecutive no-data runs required to
	// reset a true flag. Values below 2 are raised to 2.
	ConfirmMisses int
}

// Status is an instrument's availability flag and consecutive miss count.
type Status struct {
	HasData    domain.HasData
	MissStreak int
}

// NextStatus applies the has_data policy to one collection outcome.
//
//   - inserting at least one candle sets the flag to true
//   - a no-data outcome sets an unknown flag to false and resets a true flag
//     only after ConfirmMisses consecutive misses, never when Sticky; a false
//     flag is left as it is
//   - an already-current series proves history exists, so unknown becomes true
//   - a fetched series that inserted nothing leaves the flag unchanged
func NextStatus(prev Status, outcome Outcome, inserted int, p Policy) Status {
	if inserted > 0 {
		return Status{HasData: domain.HasDataTrue}
	}
	switch outcome {
	case OutcomeNoData:
		streak := prev.MissStreak + 1
		switch prev.HasData {
		case domain.HasDataTrue:
			if !p.Sticky && streak >= max(p.ConfirmMisses, 2) {
				return Status{HasData: domain.HasDataFalse, MissStreak: streak}
			}
			return Status{HasData: domain.HasDataTrue, MissStreak: streak}
		case domain.HasDataFalse:
			return prev
		default:
			return Status{HasData: domain.HasDataFalse, MissStreak: streak}
		}
	case OutcomeAlreadyCurrent:
		if prev.HasData == domain.HasDataUnknown {
			return Status{HasData: domain.HasDataTrue}
		}
		return Status{HasData: prev.HasData}
	}
	return Status{HasData: prev.HasData}
}
