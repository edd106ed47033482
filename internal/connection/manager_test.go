package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/cf-feed/internal/auth"
	"github.com/rickgao/cf-feed/internal/model"
	"github.com/rickgao/cf-feed/internal/router"
)

const (
	testSecret    = "c3VwZXItc2VjcmV0LWtleS1ieXRlcy0wMTIzNDU2Nzg5"
	testChallenge = "c100b894-1729-464d-ace1-52dbce11db42"
)

// fakeExchange is an in-process feed server. Frames the client sends are
// decoded onto received; the test writes server frames through send.
type fakeExchange struct {
	t        *testing.T
	server   *httptest.Server
	conns    chan *websocket.Conn
	received chan map[string]any
	conn     *websocket.Conn
}

func newFakeExchange(t *testing.T) *fakeExchange {
	t.Helper()
	fx := &fakeExchange{
		t:        t,
		conns:    make(chan *websocket.Conn, 1),
		received: make(chan map[string]any, 64),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fx.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		fx.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Logf("client sent non-JSON frame: %s", data)
				continue
			}
			fx.received <- frame
		}
	}))
	t.Cleanup(fx.server.Close)
	return fx
}

func (fx *fakeExchange) url() string {
	return wsURL(fx.server)
}

// accept waits for the client's connection.
func (fx *fakeExchange) accept() {
	fx.t.Helper()
	select {
	case fx.conn = <-fx.conns:
	case <-time.After(2 * time.Second):
		fx.t.Fatal("client never connected")
	}
}

func (fx *fakeExchange) send(frame string) {
	fx.t.Helper()
	require.NoError(fx.t, fx.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (fx *fakeExchange) expect() map[string]any {
	fx.t.Helper()
	select {
	case frame := <-fx.received:
		return frame
	case <-time.After(2 * time.Second):
		fx.t.Fatal("timeout waiting for client frame")
		return nil
	}
}

func (fx *fakeExchange) expectNone(wait time.Duration) {
	fx.t.Helper()
	select {
	case frame := <-fx.received:
		fx.t.Fatalf("unexpected client frame: %v", frame)
	case <-time.After(wait):
	}
}

func testManagerConfig(url string) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = url
	cfg.ConnectTimeout = time.Second
	cfg.AuthTimeout = 2 * time.Second
	cfg.PingInterval = 0
	return cfg
}

func TestManager_PublicSubscribeAndDispatch(t *testing.T) {
	fx := newFakeExchange(t)
	m := NewManager(testManagerConfig(fx.url()), nil)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	defer m.Exit()
	fx.accept()
	assert.Equal(t, StateConnected, m.State())

	got := make(chan json.RawMessage, 4)
	_, err := m.AddCallback(ctx, model.FeedTrade, []string{"PI_XBTUSD"}, "collect",
		func(exchange string, payload json.RawMessage, kwargs map[string]any) {
			assert.Equal(t, "futures", exchange)
			got <- payload
		}, nil)
	require.NoError(t, err)

	require.NoError(t, m.Subscribe(ctx, model.FeedTrade, "PI_XBTUSD"))
	require.NoError(t, m.Subscribe(ctx, model.FeedTrade, "PI_XBTUSD"))

	frame := fx.expect()
	assert.Equal(t, "subscribe", frame["event"])
	assert.Equal(t, "trade", frame["feed"])
	assert.Equal(t, []any{"PI_XBTUSD"}, frame["product_ids"])
	fx.expectNone(50 * time.Millisecond)

	fx.send(`{"event":"subscribed","feed":"trade","product_ids":["PI_XBTUSD"]}`)
	fx.send(`{"feed":"trade_snapshot","product_id":"PI_XBTUSD","trades":[]}`)
	fx.send(`{"feed":"trade","product_id":"PI_XBTUSD","price":34000}`)

	select {
	case payload := <-got:
		assert.JSONEq(t, `{"feed":"trade","product_id":"PI_XBTUSD","price":34000}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
	assert.Empty(t, got)

	assert.Equal(t, []string{"PI_XBTUSD"}, m.Subscriptions().Public[model.FeedTrade])
}

func TestManager_PrivateSubscribeAfterChallenge(t *testing.T) {
	fx := newFakeExchange(t)
	cfg := testManagerConfig(fx.url())
	cfg.Credentials = auth.Credentials{APIKey: "my-key", APISecret: testSecret}
	m := NewManager(cfg, nil)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	defer m.Exit()
	fx.accept()

	// A challenge is requested as soon as the socket opens.
	frame := fx.expect()
	assert.Equal(t, map[string]any{"event": "challenge", "api_key": "my-key"}, frame)

	subscribed := make(chan error, 1)
	go func() { subscribed <- m.Subscribe(ctx, model.FeedFills) }()

	// Nothing goes out until the challenge is answered.
	fx.expectNone(50 * time.Millisecond)
	fx.send(`{"event":"challenge","message":"` + testChallenge + `"}`)

	require.NoError(t, <-subscribed)
	want, err := auth.SignChallenge(testChallenge, testSecret)
	require.NoError(t, err)

	frame = fx.expect()
	assert.Equal(t, map[string]any{
		"event":              "subscribe",
		"feed":               "fills",
		"api_key":            "my-key",
		"original_challenge": testChallenge,
		"signed_challenge":   want,
	}, frame)

	got := make(chan string, 4)
	_, err = m.AddCallback(ctx, model.FeedFills, nil, "fills",
		func(_ string, payload json.RawMessage, _ map[string]any) { got <- string(payload) }, nil)
	require.NoError(t, err)

	fx.send(`{"feed":"fills","username":"u","fills":[{"fill_id":"a"},{"fill_id":"b"}]}`)
	for _, want := range []string{`{"fill_id":"a"}`, `{"fill_id":"b"}`} {
		select {
		case p := <-got:
			assert.Equal(t, want, p)
		case <-time.After(2 * time.Second):
			t.Fatal("callback not invoked")
		}
	}
}

func TestManager_InfoEventRequestsChallenge(t *testing.T) {
	fx := newFakeExchange(t)
	cfg := testManagerConfig(fx.url())
	cfg.Credentials = auth.Credentials{APIKey: "my-key", APISecret: testSecret}
	m := NewManager(cfg, nil)

	require.NoError(t, m.Connect(context.Background()))
	defer m.Exit()
	fx.accept()
	assert.Equal(t, "challenge", fx.expect()["event"])

	fx.send(`{"event":"info","version":1}`)
	assert.Equal(t, "challenge", fx.expect()["event"])
}

func TestManager_NoChallengeWithoutCredentials(t *testing.T) {
	fx := newFakeExchange(t)
	m := NewManager(testManagerConfig(fx.url()), nil)

	require.NoError(t, m.Connect(context.Background()))
	defer m.Exit()
	fx.accept()

	fx.send(`{"event":"info","version":1}`)
	fx.expectNone(100 * time.Millisecond)

	err := m.Subscribe(context.Background(), model.FeedOpenOrders)
	assert.Error(t, err)
}

func TestManager_RemoveCallbackUnsubscribes(t *testing.T) {
	fx := newFakeExchange(t)
	m := NewManager(testManagerConfig(fx.url()), nil)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	defer m.Exit()
	fx.accept()

	calls := make(chan struct{}, 4)
	h, err := m.AddCallback(ctx, model.FeedBook, []string{"PI_ETHUSD"}, "book",
		func(string, json.RawMessage, map[string]any) { calls <- struct{}{} }, nil)
	require.NoError(t, err)
	require.NoError(t, m.Subscribe(ctx, model.FeedBook, "PI_ETHUSD"))
	assert.Equal(t, "subscribe", fx.expect()["event"])

	require.NoError(t, m.RemoveCallback(ctx, model.FeedBook, []string{"PI_ETHUSD"}, h))

	// Commands are applied when the next data frame arrives.
	fx.send(`{"feed":"book","product_id":"PI_ETHUSD","side":"buy","price":1,"qty":1}`)

	frame := fx.expect()
	assert.Equal(t, "unsubscribe", frame["event"])
	assert.Equal(t, "book", frame["feed"])
	assert.Equal(t, []any{"PI_ETHUSD"}, frame["product_ids"])
	assert.Empty(t, calls)
}

func TestManager_MalformedFrameClosesConnection(t *testing.T) {
	fx := newFakeExchange(t)
	m := NewManager(testManagerConfig(fx.url()), nil)

	require.NoError(t, m.Connect(context.Background()))
	fx.accept()

	fx.send(`{not json`)

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop on malformed frame")
	}
	assert.True(t, errors.Is(m.Err(), router.ErrMalformedFrame))
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_ServerCloseIsTerminal(t *testing.T) {
	fx := newFakeExchange(t)
	m := NewManager(testManagerConfig(fx.url()), nil)

	require.NoError(t, m.Connect(context.Background()))
	fx.accept()
	require.NoError(t, fx.conn.Close())

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop after server close")
	}
	assert.Error(t, m.Err())
	assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyClosed)
	assert.Error(t, m.Subscribe(context.Background(), model.FeedTrade, "PI_XBTUSD"))
}

func TestManager_FramesBeforeCloseAreDispatched(t *testing.T) {
	fx := newFakeExchange(t)
	m := NewManager(testManagerConfig(fx.url()), nil)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	fx.accept()

	var invoked atomic.Int64
	_, err := m.AddCallback(ctx, model.FeedTrade, []string{"PI_XBTUSD"}, "slow",
		func(string, json.RawMessage, map[string]any) {
			time.Sleep(2 * time.Millisecond)
			invoked.Add(1)
		}, nil)
	require.NoError(t, err)

	const frames = 200
	for i := 0; i < frames; i++ {
		fx.send(`{"feed":"trade","product_id":"PI_XBTUSD","price":34000}`)
	}
	require.NoError(t, fx.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop after server close")
	}
	assert.Error(t, m.Err())
	assert.Equal(t, int64(frames), invoked.Load())
}

func TestManager_ConnectTimeout(t *testing.T) {
	// Accepts TCP but never completes the WebSocket handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	cfg := testManagerConfig("ws://" + ln.Addr().String())
	cfg.ConnectTimeout = 100 * time.Millisecond
	m := NewManager(cfg, nil)

	start := time.Now()
	err = m.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-m.Done():
	default:
		t.Fatal("manager not torn down after connect failure")
	}
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_ExitIdempotent(t *testing.T) {
	fx := newFakeExchange(t)
	m := NewManager(testManagerConfig(fx.url()), nil)

	require.NoError(t, m.Connect(context.Background()))
	fx.accept()

	m.Exit()
	m.Exit()

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not stop")
	}
	assert.NoError(t, m.Err())
	assert.Equal(t, StateClosed, m.State())

	_, err := m.AddCallback(context.Background(), model.FeedTrade, []string{"A"}, "f",
		func(string, json.RawMessage, map[string]any) {}, nil)
	assert.ErrorIs(t, err, router.ErrQueueClosed)
}

func TestManager_ExitBeforeConnect(t *testing.T) {
	m := NewManager(testManagerConfig("ws://127.0.0.1:1"), nil)
	m.Exit()

	<-m.Done()
	assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyClosed)
}

func TestManager_WaitStopsOnContext(t *testing.T) {
	fx := newFakeExchange(t)
	m := NewManager(testManagerConfig(fx.url()), nil)

	require.NoError(t, m.Connect(context.Background()))
	fx.accept()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, m.Wait(ctx))
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_UnknownFeedSendsNothing(t *testing.T) {
	fx := newFakeExchange(t)
	m := NewManager(testManagerConfig(fx.url()), nil)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	defer m.Exit()
	fx.accept()

	assert.Error(t, m.Subscribe(ctx, model.Feed("not_a_feed")))
	fx.expectNone(50 * time.Millisecond)
}
