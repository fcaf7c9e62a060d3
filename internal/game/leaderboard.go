package game

import "sort"

// Rank is one leaderboard row.
type Rank struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
}

// Leaderboard values every player as balance plus the mark-to-market
// worth of their portfolio and returns at most limit rows, best first.
// Ties keep join order.
func (r *Room) Leaderboard(limit int) []Rank {
	out := make([]Rank, 0, len(r.players))
	for _, p := range r.players {
		total := p.Balance
		for code, qty := range p.Portfolio {
			if s := r.findStock(code); s != nil {
				total += s.Price * float64(qty)
			}
		}
		out = append(out, Rank{Name: p.Name, Total: total})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
