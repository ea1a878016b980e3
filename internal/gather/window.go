package gather

import (
	"time"

	"candlesync/internal/domain"
)

// ComputeWindow returns the days still missing for an instrument.
//
// With a last stored day D and cutoff C the window is [D+1, C]. Without
// history it starts at start. ok is false only when D has reached C; any
// other start past the cutoff is clamped to the single day C.
func ComputeWindow(last *time.Time, cutoff, start time.Time) (DateRange, bool) {
	end := domain.Day(cutoff)
	from := domain.Day(start)
	if last != nil {
		if !domain.Day(*last).Before(end) {
			return DateRange{}, false
		}
		from = domain.Day(*last).AddDate(0, 0, 1)
	}
	if from.After(end) {
		from = end
	}
	return DateRange{Start: from, End: end}, true
}
