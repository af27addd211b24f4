package storage

import (
	"context"

	"tychoscope/internal/model"
)

// Sink receives every report the monitor produces.
type Sink interface {
	PutReport(ctx context.Context, report model.Report) error
	Close() error
}
