package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/bskyttrpg/gamebot/internal/domain"
	"github.com/gorilla/websocket"
)

const statsLogInterval = 30 * time.Second

// wantedCollections is the set of AT Proto collection NSIDs requested from
// the event stream: posts for command matching, likes for the monitored
// service record.
var wantedCollections = []string{
	domain.CollectionPost,
	domain.CollectionLike,
}

// Jetstream is the push-based event source. It carries no durable cursor;
// resumption after a reconnect is left to the server's own replay window,
// so events in flight during a disconnect may be re-delivered or lost.
type Jetstream struct {
	url            string
	reconnectDelay time.Duration
	logger         *slog.Logger
}

// NewJetstream creates a push-based subscriber for the given WebSocket
// endpoint. The endpoint is validated here; a bad endpoint is a fatal
// configuration error, not a retryable one.
func NewJetstream(endpoint string, reconnectDelay time.Duration, logger *slog.Logger) (*Jetstream, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}
	return &Jetstream{
		url:            endpoint,
		reconnectDelay: reconnectDelay,
		logger:         logger.With("connector", "jetstream"),
	}, nil
}

// Run connects to the firehose and processes events until the context is
// cancelled, reconnecting after the configured delay on any connection
// error. Retries are unbounded.
func (s *Jetstream) Run(ctx context.Context, handle domain.EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx, handle); err != nil {
				s.logger.Error("firehose connection error, reconnecting",
					"error", err,
					"delay", s.reconnectDelay,
				)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.reconnectDelay):
				}
			}
		}
	}
}

func (s *Jetstream) subscribe(ctx context.Context, handle domain.EventHandler) error {
	wsURL := buildURL(s.url, 0)
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	s.logger.Info("connected to firehose")

	return readEvents(ctx, conn, s.logger, handle, nil)
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid subscription endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid subscription endpoint %q: scheme must be ws or wss", endpoint)
	}
	return nil
}

func buildURL(endpoint string, cursor int64) string {
	u, _ := url.Parse(endpoint)
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// readEvents pumps frames from conn until the context is cancelled or the
// connection fails. Frames that fail to decode are logged and skipped;
// transport errors terminate the loop so the caller can reconnect. observe,
// when non-nil, is called with the stream position of every well-formed
// frame, before the event is handled.
func readEvents(
	ctx context.Context,
	conn *websocket.Conn,
	logger *slog.Logger,
	handle domain.EventHandler,
	observe func(seq int64),
) error {
	var eventsReceived, commitsProcessed int64
	lastStatsLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		eventsReceived++

		evt, seq, err := parseEvent(message)
		if err != nil {
			logger.Error("failed to parse event", "error", err)
			continue
		}

		if observe != nil && seq > 0 {
			observe(seq)
		}

		if evt != nil {
			commitsProcessed++
			handle(ctx, evt)
		}

		if time.Since(lastStatsLog) >= statsLogInterval {
			logger.Info("firehose stats",
				"events_received", eventsReceived,
				"commits_processed", commitsProcessed,
			)
			lastStatsLog = time.Now()
		}
	}
}
