package firehose

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bskyttrpg/gamebot/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postFrame(seq int64, did, rkey, text string) string {
	return fmt.Sprintf(`{"did":%q,"time_us":%d,"kind":"commit","commit":{"rev":"r1","operation":"create","collection":"app.bsky.feed.post","rkey":%q,"record":{"$type":"app.bsky.feed.post","text":%q,"createdAt":"2024-05-01T12:00:00Z","langs":["en"]},"cid":"bafy-%s"}}`,
		did, seq, rkey, text, rkey)
}

func TestParseEventPostCreate(t *testing.T) {
	frame := `{"did":"did:plc:abc","time_us":42,"kind":"commit","commit":{"rev":"r1","operation":"create","collection":"app.bsky.feed.post","rkey":"1","record":{"$type":"app.bsky.feed.post","text":"accept","createdAt":"2024-05-01T12:00:00Z","langs":["pt","en"],"reply":{"root":{"uri":"at://root","cid":"bafyroot"},"parent":{"uri":"at://parent","cid":"bafyparent"}}},"cid":"bafy1"}}`

	evt, seq, err := parseEvent([]byte(frame))
	require.NoError(t, err)
	require.NotNil(t, evt)

	assert.Equal(t, int64(42), seq)
	assert.Equal(t, int64(42), evt.Seq)
	assert.Equal(t, "did:plc:abc", evt.DID)
	assert.Equal(t, domain.OpCreate, evt.Operation)
	assert.Equal(t, domain.CollectionPost, evt.Collection)
	assert.Equal(t, "1", evt.RKey)
	assert.Equal(t, "bafy1", evt.CID)
	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/1", evt.URI())

	require.NotNil(t, evt.Post)
	assert.Equal(t, "accept", evt.Post.Text)
	assert.Equal(t, []string{"pt", "en"}, evt.Post.Langs)
	require.NotNil(t, evt.Post.Reply)
	assert.Equal(t, "at://root", evt.Post.Reply.Root.URI)
	assert.Equal(t, "at://parent", evt.Post.Reply.Parent.URI)
	assert.Nil(t, evt.Like)
}

func TestParseEventLikeCreate(t *testing.T) {
	frame := `{"did":"did:plc:fan","time_us":7,"kind":"commit","commit":{"rev":"r1","operation":"create","collection":"app.bsky.feed.like","rkey":"9","record":{"$type":"app.bsky.feed.like","subject":{"uri":"at://did:plc:bot/app.bsky.labeler.service/self","cid":"bafysub"},"createdAt":"2024-05-01T12:00:00Z"},"cid":"bafy9"}}`

	evt, _, err := parseEvent([]byte(frame))
	require.NoError(t, err)
	require.NotNil(t, evt)
	require.NotNil(t, evt.Like)
	assert.Equal(t, "at://did:plc:bot/app.bsky.labeler.service/self", evt.Like.Subject.URI)
	assert.Nil(t, evt.Post)
}

func TestParseEventDelete(t *testing.T) {
	frame := `{"did":"did:plc:abc","time_us":43,"kind":"commit","commit":{"rev":"r2","operation":"delete","collection":"app.bsky.feed.post","rkey":"1","cid":""}}`

	evt, _, err := parseEvent([]byte(frame))
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, domain.OpDelete, evt.Operation)
	assert.Nil(t, evt.Post)
	assert.Nil(t, evt.Like)
}

func TestParseEventNonCommit(t *testing.T) {
	evt, seq, err := parseEvent([]byte(`{"did":"did:plc:abc","time_us":99,"kind":"identity"}`))
	require.NoError(t, err)
	assert.Nil(t, evt)
	assert.Equal(t, int64(99), seq)
}

func TestParseEventMalformed(t *testing.T) {
	_, _, err := parseEvent([]byte(`{not json`))
	assert.Error(t, err)
}

// wsServer upgrades each request and hands the connection to serve along
// with a 1-based connection number.
func wsServer(t *testing.T, serve func(n int32, conn *websocket.Conn)) (*httptest.Server, string, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conns.Add(1), conn)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http"), &conns
}

func collectEvents(t *testing.T, events <-chan *domain.CommitEvent, want int) map[string]bool {
	t.Helper()
	got := map[string]bool{}
	for len(got) < want {
		select {
		case evt := <-events:
			got[evt.RKey] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for events, got %d of %d", len(got), want)
		}
	}
	return got
}

func TestJetstreamReconnectsAfterDrop(t *testing.T) {
	_, wsURL, conns := wsServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			conn.WriteMessage(websocket.TextMessage, []byte(postFrame(1, "did:plc:abc", "1", "accept")))
			conn.WriteMessage(websocket.TextMessage, []byte(postFrame(2, "did:plc:abc", "2", "accept")))
			return // server drops the connection
		}
		conn.WriteMessage(websocket.TextMessage, []byte(postFrame(3, "did:plc:abc", "3", "accept")))
	})

	source, err := NewJetstream(wsURL, 10*time.Millisecond, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan *domain.CommitEvent, 256)
	done := make(chan error, 1)
	go func() {
		done <- source.Run(ctx, func(_ context.Context, evt *domain.CommitEvent) {
			select {
			case events <- evt:
			default:
			}
		})
	}()

	got := collectEvents(t, events, 3)
	assert.True(t, got["1"] && got["2"] && got["3"])
	assert.GreaterOrEqual(t, conns.Load(), int32(2), "expected a reconnect after the drop")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("source did not stop after cancellation")
	}
}

func TestJetstreamSkipsMalformedFrames(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	_, wsURL, conns := wsServer(t, func(n int32, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(postFrame(1, "did:plc:abc", "1", "accept")))
		<-block // hold the connection open
	})

	source, err := NewJetstream(wsURL, 10*time.Millisecond, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan *domain.CommitEvent, 16)
	go source.Run(ctx, func(_ context.Context, evt *domain.CommitEvent) {
		events <- evt
	})

	got := collectEvents(t, events, 1)
	assert.True(t, got["1"])
	assert.Equal(t, int32(1), conns.Load(), "a bad frame must not force a reconnect")
}

func TestNewJetstreamRejectsBadEndpoint(t *testing.T) {
	_, err := NewJetstream("http://not-a-websocket", time.Second, discardLogger())
	assert.Error(t, err)

	_, err = NewJetstream("://", time.Second, discardLogger())
	assert.Error(t, err)
}

// fakeCursors is an in-memory domain.CursorRepository.
type fakeCursors struct {
	mu     sync.Mutex
	cursor int64
	saves  []int64
}

func (f *fakeCursors) GetCursor(_ context.Context, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeCursors) UpdateCursor(_ context.Context, _ string, cursor int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = cursor
	f.saves = append(f.saves, cursor)
	return nil
}

func TestRelayResumesFromSavedCursor(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	requests := make(chan string, 4)
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		conn.WriteMessage(websocket.TextMessage, []byte(postFrame(100, "did:plc:abc", "1", "accept")))
		conn.WriteMessage(websocket.TextMessage, []byte(postFrame(101, "did:plc:abc", "2", "accept")))
		<-block
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	cursors := &fakeCursors{cursor: 42}
	source, err := NewRelay(wsURL, 10*time.Millisecond, cursors, discardLogger())
	require.NoError(t, err)
	source.saveInterval = 0 // save on every event

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan *domain.CommitEvent, 16)
	go source.Run(ctx, func(_ context.Context, evt *domain.CommitEvent) {
		events <- evt
	})

	query := <-requests
	assert.Contains(t, query, "cursor=42")
	assert.Contains(t, query, "wantedCollections=app.bsky.feed.post")
	assert.Contains(t, query, "wantedCollections=app.bsky.feed.like")

	collectEvents(t, events, 2)

	require.Eventually(t, func() bool {
		cursors.mu.Lock()
		defer cursors.mu.Unlock()
		return len(cursors.saves) > 0 && cursors.cursor == 101
	}, 5*time.Second, 10*time.Millisecond, "cursor should advance to the latest stream position")
}
