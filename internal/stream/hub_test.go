package stream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/rickgao/tickergate/internal/model"
)

func testSnapshot(m model.Market, symbols ...string) *model.Snapshot {
	s := &model.Snapshot{
		Market:    m,
		Source:    model.SourcePoll,
		FetchedAt: time.Now(),
		Tickers:   make(map[string]model.Ticker),
	}
	for _, sym := range symbols {
		s.Tickers[sym] = model.Ticker{Symbol: sym, Market: m, LastPrice: decimal.NewFromInt(100)}
	}
	return s
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Clients() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("clients = %d, want %d", h.Clients(), want)
}

func TestHub_InitAndBroadcast(t *testing.T) {
	h := NewHub(0, nil)
	h.HandleSnapshot(testSnapshot(model.MarketSpot, "ETHUSDT", "BTCUSDT"))

	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)

	hello := readMessage(t, conn)
	if hello.Type != "init" {
		t.Fatalf("first message type = %q, want init", hello.Type)
	}
	if len(hello.Snapshots) != 1 || hello.Snapshots[0].Market != model.MarketSpot {
		t.Fatalf("init snapshots = %+v", hello.Snapshots)
	}
	if got := hello.Snapshots[0].Tickers; len(got) != 2 || got[0].Symbol != "BTCUSDT" {
		t.Errorf("init tickers not sorted by symbol: %+v", got)
	}

	waitClients(t, h, 1)

	if err := h.HandleSnapshot(testSnapshot(model.MarketFutures, "BTCUSDT")); err != nil {
		t.Fatalf("HandleSnapshot: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != "snapshot" || msg.Market != model.MarketFutures {
		t.Errorf("broadcast = %+v", msg)
	}
	if len(msg.Tickers) != 1 || !msg.Tickers[0].LastPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("broadcast tickers = %+v", msg.Tickers)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	h := NewHub(0, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	readMessage(t, conn)
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := NewHub(1, nil)

	// A client with no pumps: its queue fills and is never drained.
	c := &client{remote: "test", send: make(chan []byte, 1)}
	h.clients[c] = struct{}{}

	h.HandleSnapshot(testSnapshot(model.MarketSpot, "BTCUSDT"))
	if h.Clients() != 1 {
		t.Fatalf("clients = %d after first broadcast, want 1", h.Clients())
	}

	h.HandleSnapshot(testSnapshot(model.MarketSpot, "BTCUSDT"))
	if h.Clients() != 0 {
		t.Errorf("clients = %d, want slow client dropped", h.Clients())
	}

	// The queue is closed so a writer would exit.
	<-c.send
	if _, ok := <-c.send; ok {
		t.Error("send queue not closed")
	}
}

func TestHub_CloseDisconnects(t *testing.T) {
	h := NewHub(0, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	readMessage(t, conn)
	waitClients(t, h, 1)

	h.Close()
	if h.Clients() != 0 {
		t.Errorf("clients = %d after Close, want 0", h.Clients())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after Close err = %v, want normal closure", err)
	}
}
