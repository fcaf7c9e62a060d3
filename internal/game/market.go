package game

type Stock struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	PrevPrice float64 `json:"prevPrice"`
	Ceiling   float64 `json:"ceiling"`
	Floor     float64 `json:"floor"`
}

// News is a daily market event. Impact maps stock codes to a percentage
// move applied when the day rolls over; it stays server-side, clients
// only see the headline.
type News struct {
	Headline string             `json:"headline"`
	Impact   map[string]float64 `json:"-"`
}

// DayUpdate describes one day rollover: either a fresh day with its
// news and the re-based stock board, or the end of the game with the
// winning player.
type DayUpdate struct {
	Day      int     `json:"day"`
	News     News    `json:"news"`
	Stocks   []Stock `json:"stocks"`
	GameOver bool    `json:"gameOver"`
	Winner   *Rank   `json:"winner,omitempty"`
}

var defaultStocks = []Stock{
	{Code: "FPT", Name: "FPT Corp", Price: 100},
	{Code: "VNM", Name: "Vinamilk", Price: 75},
	{Code: "HPG", Name: "Hoa Phat", Price: 45},
	{Code: "MWG", Name: "Mobile World", Price: 90},
	{Code: "VCB", Name: "Vietcombank", Price: 110},
}

var newsFeed = []News{
	{
		Headline: "Government boosts digital transformation spending",
		Impact:   map[string]float64{"FPT": 5, "MWG": 2, "VNM": 0, "HPG": -1, "VCB": 1},
	},
	{
		Headline: "Global steel prices tumble",
		Impact:   map[string]float64{"HPG": -7, "FPT": 0, "VNM": 1, "MWG": 0, "VCB": 0},
	},
	{
		Headline: "Central bank cuts the policy rate",
		Impact:   map[string]float64{"VCB": 4, "FPT": 1, "MWG": 2, "VNM": 1, "HPG": 1},
	},
}

// DefaultStocks returns the canonical stock list at its default prices,
// with the first day's ceiling/floor band already derived.
func DefaultStocks(settings Settings) []*Stock {
	out := make([]*Stock, 0, len(defaultStocks))
	for _, s := range defaultStocks {
		cp := s
		cp.PrevPrice = cp.Price
		cp.Ceiling = cp.Price * settings.CeilingRatio
		cp.Floor = cp.Price * settings.FloorRatio
		out = append(out, &cp)
	}
	return out
}

// CopyStocks returns a snapshot of the stock board safe to marshal
// after the room lock is released.
func (r *Room) CopyStocks() []Stock {
	out := make([]Stock, 0, len(r.stocks))
	for _, s := range r.stocks {
		out = append(out, *s)
	}
	return out
}

// applyImpact moves the price by impact*qty (negative qty for sells)
// and clamps the result to the current day's band.
func (s *Stock) applyImpact(impact float64, qty int) {
	s.PrevPrice = s.Price
	s.Price = clamp(s.Price*(1+impact*float64(qty)), s.Floor, s.Ceiling)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AdvanceDay rolls the room over to the next trading day: a random
// headline perturbs each price by its percentage impact, then the
// ceiling/floor band is re-based from the post-news price. After the
// final day it reports game over with the current leaderboard winner
// instead. Returns false while the room is in the lobby or already
// finished.
func (r *Room) AdvanceDay() (DayUpdate, bool) {
	if !r.started || r.over {
		return DayUpdate{}, false
	}
	if r.day >= r.settings.TotalDays {
		r.over = true
		upd := DayUpdate{Day: r.day, GameOver: true}
		if ranks := r.Leaderboard(1); len(ranks) > 0 {
			winner := ranks[0]
			upd.Winner = &winner
		}
		return upd, true
	}
	r.day++
	news := newsFeed[r.rng.Intn(len(newsFeed))]
	for _, s := range r.stocks {
		s.PrevPrice = s.Price
		s.Price *= 1 + news.Impact[s.Code]/100
		s.Ceiling = s.Price * r.settings.CeilingRatio
		s.Floor = s.Price * r.settings.FloorRatio
	}
	return DayUpdate{Day: r.day, News: news, Stocks: r.CopyStocks()}, true
}
