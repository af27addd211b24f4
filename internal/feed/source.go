package feed

import (
	"context"
	"fmt"

	"tychoscope/internal/model"
)

// Result is one item of the feed: a message or a transient transport fault.
type Result struct {
	Message model.FeedMessage
	Err     error
}

// Source yields feed messages in order. Run returns nil when the stream ends and
// when ctx is cancelled; faults that do not end the session travel as Result.Err.
type Source interface {
	Run(ctx context.Context, out chan<- Result) error
	RequestSnapshot(ctx context.Context, exchange string) error
}

// TransportError is a recoverable feed-level fault.
type TransportError struct {
	Source string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Source, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// send blocks until out accepts res or ctx is done. It never drops a result.
func send(ctx context.Context, out chan<- Result, res Result) error {
	select {
	case out <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
