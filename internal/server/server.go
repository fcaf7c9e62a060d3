package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/congdt22-beep/stock-game/internal/config"
	"github.com/congdt22-beep/stock-game/internal/game"
)

// Client -> server commands.
const (
	cmdJoin      = "join"
	cmdStartGame = "startGame"
	cmdBuy       = "buy"
	cmdSell      = "sell"
	cmdResetGame = "resetGame"
)

// Server -> client events.
const (
	EventInit          = "init"
	EventPlayersUpdate = "playersUpdate"
	EventStocksUpdate  = "stocksUpdate"
	EventGameStarted   = "gameStarted"
	EventGameReset     = "gameReset"
	EventLeaderboard   = "leaderboard"
	EventJoinError     = "joinError"
	EventNews          = "news"
	EventGameOver      = "gameOver"
)

const leaderboardSize = 5

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type WSOut struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// GameServer owns the single room and the set of connected clients.
// One mutex serializes every room mutation together with the enqueue
// of the broadcasts it produced, so each client receives updates in
// mutation order. Socket I/O happens outside the lock, in the per
// client write pumps.
type GameServer struct {
	cfg      config.Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	room    *game.Room
	clients map[game.PlayerID]*client

	// stateCh nudges the ticker loop when the game phase changes so
	// the day timer restarts from a full day.
	stateCh   chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
}

func NewGameServer(cfg config.Config) *GameServer {
	gs := &GameServer{
		cfg:     cfg,
		room:    game.NewRoom(cfg.Game),
		clients: make(map[game.PlayerID]*client),
		stateCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	gs.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	return gs
}

// HandleWS upgrades the connection, assigns it an opaque identity and
// sends the full room snapshot before any other traffic, then services
// inbound commands until the peer goes away.
func (gs *GameServer) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := gs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("upgrade:", err)
		return
	}
	c := newClient(game.PlayerID(uuid.NewString()), conn)

	gs.mu.Lock()
	gs.clients[c.id] = c
	gs.sendLocked(c, EventInit, gs.room.Snapshot())
	gs.mu.Unlock()

	go c.writePump()
	gs.readLoop(c)
}

func (gs *GameServer) readLoop(c *client) {
	defer gs.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Println("read:", err)
			}
			return
		}
		switch msg.Type {
		case cmdJoin:
			var name string
			json.Unmarshal(msg.Payload, &name)
			gs.handleJoin(c, name)
		case cmdStartGame:
			gs.handleStartGame(c)
		case cmdBuy, cmdSell:
			var data struct {
				Code string `json:"code"`
				Qty  int    `json:"qty"`
			}
			json.Unmarshal(msg.Payload, &data)
			gs.handleTrade(c, msg.Type, data.Code, data.Qty)
		case cmdResetGame:
			gs.handleResetGame(c)
		default:
			log.Printf("unknown command %q from %s", msg.Type, c.id)
		}
	}
}

func (gs *GameServer) handleJoin(c *client, name string) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	joined, err := gs.room.Join(c.id, name)
	if err != nil {
		gs.sendLocked(c, EventJoinError, err.Error())
		return
	}
	if !joined {
		return
	}
	log.Printf("join %q (%s)", name, c.id)
	gs.broadcastLocked(EventPlayersUpdate, gs.room.Roster())
}

func (gs *GameServer) handleStartGame(c *client) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	started, err := gs.room.StartGame(c.id)
	if err != nil {
		gs.sendLocked(c, EventJoinError, err.Error())
		return
	}
	if !started {
		return
	}
	log.Println("game started")
	gs.broadcastLocked(EventGameStarted, nil)
	gs.broadcastLocked(EventPlayersUpdate, gs.room.Roster())
	gs.nudgeTickers()
}

func (gs *GameServer) handleTrade(c *client, kind, code string, qty int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	var ok bool
	if kind == cmdBuy {
		ok = gs.room.Buy(c.id, code, qty)
	} else {
		ok = gs.room.Sell(c.id, code, qty)
	}
	if !ok {
		// Rejected trades are dropped without a reply; the wire
		// protocol has no error channel for them.
		return
	}
	gs.broadcastLocked(EventStocksUpdate, gs.room.CopyStocks())
	gs.broadcastLocked(EventPlayersUpdate, gs.room.Roster())
}

func (gs *GameServer) handleResetGame(c *client) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	ok, err := gs.room.Reset(c.id)
	if err != nil {
		gs.sendLocked(c, EventJoinError, err.Error())
		return
	}
	if !ok {
		return
	}
	log.Println("game reset")
	gs.broadcastLocked(EventGameReset, nil)
	gs.nudgeTickers()
}

func (gs *GameServer) disconnect(c *client) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if cur, ok := gs.clients[c.id]; ok && cur == c {
		delete(gs.clients, c.id)
		close(c.send)
	}
	if gs.room.Disconnect(c.id) {
		log.Printf("disconnect %s", c.id)
		gs.broadcastLocked(EventPlayersUpdate, gs.room.Roster())
	}
}

// Run drives the periodic work: the leaderboard broadcast and the day
// rollover. It returns once Close is called.
func (gs *GameServer) Run() {
	day := time.NewTicker(gs.cfg.DayInterval)
	leaderboard := time.NewTicker(gs.cfg.LeaderboardInterval)
	defer day.Stop()
	defer leaderboard.Stop()
	for {
		select {
		case <-gs.closeCh:
			return
		case <-gs.stateCh:
			// Phase changed; the next day should run full length.
			day.Reset(gs.cfg.DayInterval)
		case <-leaderboard.C:
			gs.broadcastLeaderboard()
		case <-day.C:
			gs.advanceDay()
		}
	}
}

// Close stops the ticker loop. Open connections are torn down by their
// own read/write pumps when the HTTP server shuts down.
func (gs *GameServer) Close() {
	gs.closeOnce.Do(func() { close(gs.closeCh) })
}

func (gs *GameServer) nudgeTickers() {
	select {
	case gs.stateCh <- struct{}{}:
	default:
	}
}

func (gs *GameServer) broadcastLeaderboard() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if len(gs.clients) == 0 {
		return
	}
	gs.broadcastLocked(EventLeaderboard, gs.room.Leaderboard(leaderboardSize))
}

func (gs *GameServer) advanceDay() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	upd, ok := gs.room.AdvanceDay()
	if !ok {
		return
	}
	if upd.GameOver {
		log.Println("game over")
		gs.broadcastLocked(EventGameOver, upd.Winner)
		return
	}
	gs.broadcastLocked(EventNews, struct {
		Day      int    `json:"day"`
		Headline string `json:"headline"`
	}{upd.Day, upd.News.Headline})
	gs.broadcastLocked(EventStocksUpdate, upd.Stocks)
}

// sendLocked queues a point-to-point message. Callers hold gs.mu. A
// client that was already dropped for falling behind has a closed send
// channel, so replies to it are discarded.
func (gs *GameServer) sendLocked(c *client, event string, payload interface{}) {
	if cur, ok := gs.clients[c.id]; !ok || cur != c {
		return
	}
	data, err := json.Marshal(WSOut{Type: event, Payload: payload})
	if err != nil {
		log.Printf("marshal %s: %v", event, err)
		return
	}
	gs.enqueueLocked(c, data)
}

// broadcastLocked queues a message for every connected client, joined
// or not. Callers hold gs.mu.
func (gs *GameServer) broadcastLocked(event string, payload interface{}) {
	data, err := json.Marshal(WSOut{Type: event, Payload: payload})
	if err != nil {
		log.Printf("marshal %s: %v", event, err)
		return
	}
	for _, c := range gs.clients {
		gs.enqueueLocked(c, data)
	}
}

func (gs *GameServer) enqueueLocked(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		// The peer stopped draining its queue; cut it loose. Its read
		// loop will run the normal disconnect path.
		delete(gs.clients, c.id)
		close(c.send)
	}
}
