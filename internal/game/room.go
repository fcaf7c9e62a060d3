package game

import (
	"errors"
	"math/rand"
	"time"
)

var (
	ErrNameTaken = errors.New("name already taken")
	ErrNotAdmin  = errors.New("only admin may do that")
)

// PlayerID is the opaque connection identity assigned by the hub. It is
// the player's primary key for the lifetime of the session.
type PlayerID string

type Player struct {
	ID        PlayerID       `json:"id"`
	Name      string         `json:"name"`
	Balance   float64        `json:"balance"`
	Portfolio map[string]int `json:"portfolio"`
}

// Settings holds the game tunables. Zero values are not usable; build
// one with DefaultSettings or config.Load.
type Settings struct {
	StartingBalance float64
	// PriceImpact is the per-share fractional price move applied after
	// every accepted trade (positive for buys, negative for sells).
	PriceImpact  float64
	CeilingRatio float64
	FloorRatio   float64
	TotalDays    int
}

func DefaultSettings() Settings {
	return Settings{
		StartingBalance: 10000,
		PriceImpact:     0.002,
		CeilingRatio:    1.07,
		FloorRatio:      0.93,
		TotalDays:       22,
	}
}

// Room is the single shared game session: the player roster, the stock
// board, the admin identity and the day counter. It is a plain state
// machine with no internal locking; the caller (the websocket server)
// serializes all operations, which keeps every mutation atomic and
// every broadcast in mutation order.
type Room struct {
	settings Settings
	players  []*Player
	stocks   []*Stock
	started  bool
	over     bool
	adminID  PlayerID
	day      int
	rng      *rand.Rand
}

func NewRoom(settings Settings) *Room {
	return &Room{
		settings: settings,
		stocks:   DefaultStocks(settings),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Snapshot is the full room state sent to a newly connected client.
type Snapshot struct {
	Players     []Player `json:"players"`
	Stocks      []Stock  `json:"stocks"`
	GameStarted bool     `json:"gameStarted"`
	AdminID     PlayerID `json:"adminId"`
	Day         int      `json:"day"`
}

// Roster is the payload of every playersUpdate broadcast.
type Roster struct {
	Players []Player `json:"players"`
	AdminID PlayerID `json:"adminId"`
}

func (r *Room) Snapshot() Snapshot {
	return Snapshot{
		Players:     r.copyPlayers(),
		Stocks:      r.CopyStocks(),
		GameStarted: r.started,
		AdminID:     r.adminID,
		Day:         r.day,
	}
}

func (r *Room) Roster() Roster {
	return Roster{Players: r.copyPlayers(), AdminID: r.adminID}
}

// Join adds a player with the given name. An empty name is ignored. The
// first successful joiner becomes the admin. Returns false, ErrNameTaken
// when the name is already held by a connected player.
func (r *Room) Join(id PlayerID, name string) (bool, error) {
	if name == "" {
		return false, nil
	}
	for _, p := range r.players {
		if p.Name == name {
			return false, ErrNameTaken
		}
	}
	if r.adminID == "" {
		r.adminID = id
	}
	r.players = append(r.players, &Player{
		ID:        id,
		Name:      name,
		Balance:   r.settings.StartingBalance,
		Portfolio: map[string]int{},
	})
	return true, nil
}

// StartGame flips the room from lobby to started. Only the admin may
// start; starting an already started game is a no-op.
func (r *Room) StartGame(id PlayerID) (bool, error) {
	if id != r.adminID {
		return false, ErrNotAdmin
	}
	if r.started {
		return false, nil
	}
	r.started = true
	r.day = 1
	return true, nil
}

// Buy debits price*qty from the player's balance, credits the holding
// and nudges the price upward. Invalid arguments, unknown codes and
// insufficient funds are silently ignored, matching the wire protocol's
// lack of an error channel for trades.
func (r *Room) Buy(id PlayerID, code string, qty int) bool {
	p := r.findPlayer(id)
	s := r.findStock(code)
	if p == nil || s == nil || qty <= 0 {
		return false
	}
	cost := s.Price * float64(qty)
	if p.Balance < cost {
		return false
	}
	p.Balance -= cost
	p.Portfolio[code] += qty
	s.applyImpact(r.settings.PriceImpact, qty)
	return true
}

// Sell is the mirror of Buy: it requires the player to hold at least
// qty shares, credits the balance and nudges the price downward.
func (r *Room) Sell(id PlayerID, code string, qty int) bool {
	p := r.findPlayer(id)
	s := r.findStock(code)
	if p == nil || s == nil || qty <= 0 {
		return false
	}
	if p.Portfolio[code] < qty {
		return false
	}
	p.Portfolio[code] -= qty
	p.Balance += s.Price * float64(qty)
	s.applyImpact(r.settings.PriceImpact, -qty)
	return true
}

// Reset returns the room to its canonical default: no players, no
// admin, lobby phase, the default stock list at default prices. Admin
// only.
func (r *Room) Reset(id PlayerID) (bool, error) {
	if id != r.adminID {
		return false, ErrNotAdmin
	}
	r.players = nil
	r.stocks = DefaultStocks(r.settings)
	r.started = false
	r.over = false
	r.adminID = ""
	r.day = 0
	return true, nil
}

// Disconnect removes every roster entry owned by the dropped
// connection (a connection that joined more than once owns several).
// When the admin leaves, the oldest remaining player (join order)
// inherits the role; the last player leaving clears it.
func (r *Room) Disconnect(id PlayerID) bool {
	kept := r.players[:0]
	removed := false
	for _, p := range r.players {
		if p.ID == id {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	if !removed {
		return false
	}
	r.players = kept
	if r.adminID == id {
		r.adminID = ""
		if len(r.players) > 0 {
			r.adminID = r.players[0].ID
		}
	}
	return true
}

func (r *Room) findPlayer(id PlayerID) *Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) findStock(code string) *Stock {
	for _, s := range r.stocks {
		if s.Code == code {
			return s
		}
	}
	return nil
}

func (r *Room) copyPlayers() []Player {
	out := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		cp := *p
		cp.Portfolio = make(map[string]int, len(p.Portfolio))
		for code, qty := range p.Portfolio {
			cp.Portfolio[code] = qty
		}
		out = append(out, cp)
	}
	return out
}
