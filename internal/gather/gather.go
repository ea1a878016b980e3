// Package gather drives incremental candle collection: it computes the
// missing window per instrument, walks the adapter chain, converts closes to
// USD and commits the result.
package gather

import (
	"context"

	"candlesync/internal/domain"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run starts the data gathering process. It blocks until ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents an inclusive range of days to fetch.
type DateRange = domain.DateRange
