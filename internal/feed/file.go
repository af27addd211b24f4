package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"tychoscope/internal/model"
)

// FileSource replays FeedMessages recorded one JSON object per line.
type FileSource struct {
	path    string
	tracker *Tracker
	logger  *zap.Logger

	mu       sync.Mutex
	requests []string
}

func NewFileSource(path string, filters map[string]Filter, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{path: path, tracker: NewTracker(filters), logger: logger}
}

// Run streams the file into out. Malformed lines are sent as transport errors.
func (s *FileSource) Run(ctx context.Context, out chan<- Result) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 64*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg model.FeedMessage
		res := Result{}
		if err := json.Unmarshal(line, &msg); err != nil {
			res.Err = &TransportError{Source: "file", Err: fmt.Errorf("line %d: %w", lineNo, err)}
		} else {
			res.Message = s.tracker.Apply(msg)
		}

		if err := send(ctx, out, res); err != nil {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}
	return nil
}

// RequestSnapshot is recorded only; a recording cannot be asked for new data.
func (s *FileSource) RequestSnapshot(_ context.Context, exchange string) error {
	s.mu.Lock()
	s.requests = append(s.requests, exchange)
	s.mu.Unlock()
	s.logger.Warn("snapshot requested from a recording; waiting for the next recorded snapshot", zap.String("exchange", exchange))
	return nil
}

// Requests returns the exchanges a snapshot was requested for, in order.
func (s *FileSource) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}
