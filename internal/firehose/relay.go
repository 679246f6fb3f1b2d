package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bskyttrpg/gamebot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// cursorService is the sub_state key for this connector.
	cursorService = "relay"

	defaultCursorSaveInterval = 5 * time.Second
)

// Relay is the cursor-tracking event source. It loads the last durably
// saved stream position before dialing and asks the server to replay from
// there, so a restart within the server's backfill window loses nothing.
// The cursor is saved periodically rather than per event; anything between
// the last save and a crash is re-delivered and absorbed by the idempotent
// inserts.
type Relay struct {
	url            string
	reconnectDelay time.Duration
	cursors        domain.CursorRepository
	logger         *slog.Logger
	saveInterval   time.Duration
}

// NewRelay creates a cursor-tracking subscriber for the given WebSocket
// endpoint, persisting its position through cursors.
func NewRelay(endpoint string, reconnectDelay time.Duration, cursors domain.CursorRepository, logger *slog.Logger) (*Relay, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}
	return &Relay{
		url:            endpoint,
		reconnectDelay: reconnectDelay,
		cursors:        cursors,
		logger:         logger.With("connector", "relay"),
		saveInterval:   defaultCursorSaveInterval,
	}, nil
}

// Run connects to the firehose and processes events until the context is
// cancelled, reconnecting after the configured delay on any connection
// error. Retries are unbounded.
func (s *Relay) Run(ctx context.Context, handle domain.EventHandler) error {
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

func (s *Relay) subscribe(ctx context.Context, handle domain.EventHandler) error {
	cursor, err := s.cursors.GetCursor(ctx, cursorService)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL := buildURL(s.url, cursor)
	s.logger.Info("connecting to firehose", "url", wsURL, "cursor", cursor)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	s.logger.Info("connected to firehose")

	lastSave := time.Now()
	observe := func(seq int64) {
		if time.Since(lastSave) < s.saveInterval {
			return
		}
		if err := s.cursors.UpdateCursor(ctx, cursorService, seq); err != nil {
			s.logger.Error("failed to save cursor", "error", err)
			return
		}
		lastSave = time.Now()
	}

	return readEvents(ctx, conn, s.logger, handle, observe)
}
