package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tychoscope/internal/model"
)

const (
	defaultWSPath    = "/v1/ws"
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 15 * time.Second
)

var (
	errStreamEnd    = errors.New("stream closed by server")
	errNotConnected = errors.New("not connected")
)

// WSConfig describes a websocket feed subscription.
type WSConfig struct {
	URL       string
	AuthToken string
	Chain     string
	Exchanges map[string]Filter
	// MaxBackoff caps the reconnect delay; zero uses the backoff default.
	MaxBackoff time.Duration
}

type extractorID struct {
	Chain string `json:"chain"`
	Name  string `json:"name"`
}

type subscribeRequest struct {
	Method       string      `json:"method"`
	ExtractorID  extractorID `json:"extractor_id"`
	IncludeState bool        `json:"include_state"`
}

type controlMessage struct {
	Method         string `json:"method"`
	SubscriptionID string `json:"subscription_id"`
}

// WSSource subscribes to a websocket feed and reconnects with exponential backoff.
// Every new subscription starts with a full snapshot, so a snapshot is requested by
// dropping the connection and subscribing again. Filters are applied client-side.
type WSSource struct {
	cfg     WSConfig
	dialer  *websocket.Dialer
	tracker *Tracker
	logger  *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	resubscribe bool
}

func NewWSSource(cfg WSConfig, logger *zap.Logger) *WSSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout
	return &WSSource{cfg: cfg, dialer: &dialer, tracker: NewTracker(cfg.Exchanges), logger: logger}
}

// Run connects, subscribes and forwards messages until the server closes the stream
// normally or ctx is cancelled.
func (s *WSSource) Run(ctx context.Context, out chan<- Result) error {
	endpoint, err := websocketURL(s.cfg.URL)
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	if s.cfg.MaxBackoff > 0 {
		policy.MaxInterval = s.cfg.MaxBackoff
	}
	retry := backoff.WithContext(policy, ctx)

	for {
		conn, err := s.connect(ctx, endpoint)
		if err == nil {
			retry.Reset()
			err = s.readLoop(ctx, conn, out)
			resubscribe := s.detach()
			conn.Close()
			if resubscribe && ctx.Err() == nil {
				s.logger.Info("resubscribing feed", zap.String("url", endpoint))
				continue
			}
			if errors.Is(err, errStreamEnd) {
				s.logger.Info("feed stream ended", zap.String("url", endpoint))
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		if sendErr := send(ctx, out, Result{Err: &TransportError{Source: "websocket", Err: err}}); sendErr != nil {
			return nil
		}

		delay := retry.NextBackOff()
		if delay == backoff.Stop {
			return nil
		}
		s.logger.Info("reconnecting feed", zap.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RequestSnapshot closes the current connection so Run subscribes again without
// backoff and receives a fresh snapshot. Requests made before the new subscription
// is up are folded into the pending one.
func (s *WSSource) RequestSnapshot(_ context.Context, exchange string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errNotConnected
	}
	if s.resubscribe {
		return nil
	}
	s.resubscribe = true
	s.logger.Info("dropping feed connection for a fresh snapshot", zap.String("exchange", exchange))
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "resubscribe"), time.Now().Add(writeTimeout))
	return s.conn.Close()
}

func (s *WSSource) connect(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	header := http.Header{}
	if s.cfg.AuthToken != "" {
		header.Set("Authorization", s.cfg.AuthToken)
	}

	s.logger.Info("connecting feed", zap.String("url", endpoint), zap.Bool("authenticated", s.cfg.AuthToken != ""))
	conn, resp, err := s.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	s.setConn(conn)

	exchanges := make([]string, 0, len(s.cfg.Exchanges))
	for name := range s.cfg.Exchanges {
		exchanges = append(exchanges, name)
	}
	sort.Strings(exchanges)

	for _, name := range exchanges {
		req := subscribeRequest{
			Method:       "subscribe",
			ExtractorID:  extractorID{Chain: s.cfg.Chain, Name: name},
			IncludeState: true,
		}
		if err := s.write(req); err != nil {
			s.detach()
			conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", name, err)
		}
	}
	return conn, nil
}

func (s *WSSource) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- Result) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errStreamEnd
			}
			return fmt.Errorf("read: %w", err)
		}

		var ctrl controlMessage
		if err := json.Unmarshal(data, &ctrl); err == nil && ctrl.Method != "" {
			s.logger.Debug("feed control message", zap.String("method", ctrl.Method), zap.String("subscription_id", ctrl.SubscriptionID))
			continue
		}

		res := Result{}
		var msg model.FeedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			res.Err = &TransportError{Source: "websocket", Err: fmt.Errorf("decode frame: %w", err)}
		} else {
			res.Message = s.tracker.Apply(msg)
		}
		if err := send(ctx, out, res); err != nil {
			return err
		}
	}
}

func (s *WSSource) write(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errNotConnected
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *WSSource) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// detach forgets the current connection and reports whether it was dropped for a
// resubscription.
func (s *WSSource) detach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = nil
	resubscribe := s.resubscribe
	s.resubscribe = false
	return resubscribe
}

func websocketURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("feed url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported feed url scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("feed url has no host: %s", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultWSPath
	}
	return u.String(), nil
}
