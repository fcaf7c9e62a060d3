package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/congdt22-beep/stock-game/internal/config"
	"github.com/congdt22-beep/stock-game/internal/game"
)

func newTestServer(t *testing.T) (*GameServer, *httptest.Server) {
	t.Helper()
	cfg := config.Config{
		Port:           "0",
		AllowedOrigins: []string{"*"},
		JoinURL:        "http://localhost:3000/join",
		Game:           game.DefaultSettings(),
		// Long intervals keep the tickers quiet during tests.
		DayInterval:         time.Hour,
		LeaderboardInterval: time.Hour,
	}
	gs := NewGameServer(cfg)
	ts := httptest.NewServer(http.HandlerFunc(gs.HandleWS))
	t.Cleanup(func() {
		gs.Close()
		ts.Close()
	})
	return gs, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendCmd(t *testing.T, conn *websocket.Conn, cmd string, payload interface{}) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = data
	}
	if err := conn.WriteJSON(Message{Type: cmd, Payload: raw}); err != nil {
		t.Fatalf("send %s: %v", cmd, err)
	}
}

// readEvent reads messages until one of the wanted type arrives,
// skipping unrelated broadcasts.
func readEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var out struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if out.Type == want {
			return out.Payload
		}
	}
}

func decodeRoster(t *testing.T, payload json.RawMessage) game.Roster {
	t.Helper()
	var roster game.Roster
	if err := json.Unmarshal(payload, &roster); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	return roster
}

func TestInitSnapshotOnConnect(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	payload := readEvent(t, conn, EventInit)
	var snap game.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.GameStarted {
		t.Error("fresh room reports gameStarted")
	}
	if len(snap.Players) != 0 {
		t.Errorf("fresh room has %d players", len(snap.Players))
	}
	if len(snap.Stocks) != 5 {
		t.Errorf("expected 5 stocks in snapshot, got %d", len(snap.Stocks))
	}
}

func TestJoinBroadcastsRoster(t *testing.T) {
	_, ts := newTestServer(t)
	ann := dial(t, ts)
	readEvent(t, ann, EventInit)
	bob := dial(t, ts)
	readEvent(t, bob, EventInit)

	sendCmd(t, ann, "join", "Ann")

	for _, conn := range []*websocket.Conn{ann, bob} {
		roster := decodeRoster(t, readEvent(t, conn, EventPlayersUpdate))
		if len(roster.Players) != 1 || roster.Players[0].Name != "Ann" {
			t.Fatalf("unexpected roster: %+v", roster.Players)
		}
		if roster.AdminID != roster.Players[0].ID {
			t.Errorf("first joiner should be admin: %+v", roster)
		}
		if roster.Players[0].Balance != 10000 {
			t.Errorf("expected starting balance 10000, got %v", roster.Players[0].Balance)
		}
	}
}

func TestDuplicateJoinGetsErrorOnlyOnRequester(t *testing.T) {
	_, ts := newTestServer(t)
	ann := dial(t, ts)
	readEvent(t, ann, EventInit)
	sendCmd(t, ann, "join", "Ann")
	readEvent(t, ann, EventPlayersUpdate)

	imposter := dial(t, ts)
	readEvent(t, imposter, EventInit)
	sendCmd(t, imposter, "join", "Ann")

	var msg string
	if err := json.Unmarshal(readEvent(t, imposter, EventJoinError), &msg); err != nil {
		t.Fatalf("decode joinError: %v", err)
	}
	if msg != "name already taken" {
		t.Errorf("unexpected error message: %q", msg)
	}

	// The rejected join must not have grown the roster: the next
	// successful join shows exactly two players.
	sendCmd(t, imposter, "join", "Bob")
	roster := decodeRoster(t, readEvent(t, ann, EventPlayersUpdate))
	if len(roster.Players) != 2 {
		t.Errorf("expected 2 players after rejected duplicate, got %d", len(roster.Players))
	}
}

func TestStartGame_AdminGate(t *testing.T) {
	_, ts := newTestServer(t)
	ann := dial(t, ts)
	readEvent(t, ann, EventInit)
	bob := dial(t, ts)
	readEvent(t, bob, EventInit)

	sendCmd(t, ann, "join", "Ann")
	readEvent(t, ann, EventPlayersUpdate)
	sendCmd(t, bob, "join", "Bob")
	readEvent(t, bob, EventPlayersUpdate)

	sendCmd(t, bob, "startGame", nil)
	readEvent(t, bob, EventJoinError)

	sendCmd(t, ann, "startGame", nil)
	readEvent(t, ann, EventGameStarted)
	readEvent(t, bob, EventGameStarted)
	roster := decodeRoster(t, readEvent(t, bob, EventPlayersUpdate))
	if len(roster.Players) != 2 {
		t.Errorf("expected refreshed roster after start, got %+v", roster)
	}
}

func TestBuyBroadcastsStocksAndPlayers(t *testing.T) {
	_, ts := newTestServer(t)
	ann := dial(t, ts)
	readEvent(t, ann, EventInit)
	sendCmd(t, ann, "join", "Ann")
	readEvent(t, ann, EventPlayersUpdate)

	sendCmd(t, ann, "buy", map[string]interface{}{"code": "FPT", "qty": 2})

	var stocks []game.Stock
	if err := json.Unmarshal(readEvent(t, ann, EventStocksUpdate), &stocks); err != nil {
		t.Fatalf("decode stocks: %v", err)
	}
	var fpt *game.Stock
	for i := range stocks {
		if stocks[i].Code == "FPT" {
			fpt = &stocks[i]
		}
	}
	if fpt == nil {
		t.Fatal("FPT missing from stocksUpdate")
	}
	if fpt.Price <= 100 || fpt.Price > fpt.Ceiling {
		t.Errorf("unexpected FPT price after buy: %v", fpt.Price)
	}

	roster := decodeRoster(t, readEvent(t, ann, EventPlayersUpdate))
	if roster.Players[0].Balance != 10000-200 {
		t.Errorf("expected balance 9800, got %v", roster.Players[0].Balance)
	}
	if roster.Players[0].Portfolio["FPT"] != 2 {
		t.Errorf("expected 2 FPT held, got %v", roster.Players[0].Portfolio)
	}
}

func TestRejectedTradeIsSilent(t *testing.T) {
	_, ts := newTestServer(t)
	ann := dial(t, ts)
	readEvent(t, ann, EventInit)
	sendCmd(t, ann, "join", "Ann")
	readEvent(t, ann, EventPlayersUpdate)

	// Selling with no holdings produces no broadcast and no error.
	sendCmd(t, ann, "sell", map[string]interface{}{"code": "FPT", "qty": 1})
	// A follow-up buy is the next thing the client hears about.
	sendCmd(t, ann, "buy", map[string]interface{}{"code": "FPT", "qty": 1})

	payload := readEvent(t, ann, EventStocksUpdate)
	if payload == nil {
		t.Fatal("expected stocksUpdate from the accepted buy")
	}
}

func TestAdminHandoverOnDisconnect(t *testing.T) {
	gs, ts := newTestServer(t)
	ann := dial(t, ts)
	readEvent(t, ann, EventInit)
	bob := dial(t, ts)
	readEvent(t, bob, EventInit)

	sendCmd(t, ann, "join", "Ann")
	readEvent(t, bob, EventPlayersUpdate)
	sendCmd(t, bob, "join", "Bob")
	readEvent(t, bob, EventPlayersUpdate)

	ann.Close()

	roster := decodeRoster(t, readEvent(t, bob, EventPlayersUpdate))
	if len(roster.Players) != 1 || roster.Players[0].Name != "Bob" {
		t.Fatalf("unexpected roster after disconnect: %+v", roster.Players)
	}
	if roster.AdminID != roster.Players[0].ID {
		t.Errorf("admin not handed over to Bob: %+v", roster)
	}

	gs.mu.Lock()
	remaining := len(gs.clients)
	gs.mu.Unlock()
	if remaining != 1 {
		t.Errorf("expected 1 registered client, got %d", remaining)
	}
}

func TestResetBroadcastsAndClearsRoom(t *testing.T) {
	_, ts := newTestServer(t)
	ann := dial(t, ts)
	readEvent(t, ann, EventInit)
	sendCmd(t, ann, "join", "Ann")
	readEvent(t, ann, EventPlayersUpdate)
	sendCmd(t, ann, "startGame", nil)
	readEvent(t, ann, EventGameStarted)

	sendCmd(t, ann, "resetGame", nil)
	readEvent(t, ann, EventGameReset)

	// A client connecting after the reset sees the default room.
	late := dial(t, ts)
	var snap game.Snapshot
	if err := json.Unmarshal(readEvent(t, late, EventInit), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.GameStarted || len(snap.Players) != 0 || snap.AdminID != "" {
		t.Errorf("room not back to default after reset: %+v", snap)
	}
}

func TestLeaderboardBroadcast(t *testing.T) {
	gs, ts := newTestServer(t)
	ann := dial(t, ts)
	readEvent(t, ann, EventInit)
	sendCmd(t, ann, "join", "Ann")
	readEvent(t, ann, EventPlayersUpdate)

	gs.broadcastLeaderboard()

	var ranks []game.Rank
	if err := json.Unmarshal(readEvent(t, ann, EventLeaderboard), &ranks); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(ranks) != 1 || ranks[0].Name != "Ann" || ranks[0].Total != 10000 {
		t.Errorf("unexpected leaderboard: %+v", ranks)
	}
}

func TestHandleQR(t *testing.T) {
	gs, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	gs.HandleQR(rec, httptest.NewRequest(http.MethodGet, "/qr", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	pngMagic := []byte{0x89, 'P', 'N', 'G'}
	if !bytes.HasPrefix(rec.Body.Bytes(), pngMagic) {
		t.Error("response body is not a PNG")
	}
}

// A client that stops draining its queue is dropped mid-broadcast and
// its send channel closed; a direct reply to it afterwards (a joinError
// for a command already in flight) must be discarded, not panic.
func TestDirectReplyToDroppedClientIsDiscarded(t *testing.T) {
	gs, _ := newTestServer(t)

	c := newClient("slow", nil)
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.clients[c.id] = c

	// Fill the outbound queue; the next broadcast cuts the client loose.
	for i := 0; i < sendBuffer; i++ {
		gs.enqueueLocked(c, []byte("{}"))
	}
	gs.broadcastLocked(EventPlayersUpdate, gs.room.Roster())
	if _, ok := gs.clients[c.id]; ok {
		t.Fatal("stalled client still registered after broadcast")
	}

	gs.sendLocked(c, EventJoinError, "name already taken")
}
