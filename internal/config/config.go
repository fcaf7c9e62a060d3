package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/congdt22-beep/stock-game/internal/game"
)

// Config is the full server configuration, read from the environment
// with fixed fallbacks. A .env file is honored when present (loaded in
// main).
type Config struct {
	Port           string
	AllowedOrigins []string
	JoinURL        string

	Game                game.Settings
	DayInterval         time.Duration
	LeaderboardInterval time.Duration
}

func Load() Config {
	return Config{
		Port:           getenv("PORT", "4000"),
		AllowedOrigins: splitOrigins(getenv("ALLOWED_ORIGINS", "*")),
		JoinURL:        getenv("JOIN_URL", "http://localhost:3000/join"),
		Game: game.Settings{
			StartingBalance: getenvFloat("STARTING_BALANCE", 10000),
			PriceImpact:     getenvFloat("PRICE_IMPACT", 0.002),
			CeilingRatio:    getenvFloat("CEILING_RATIO", 1.07),
			FloorRatio:      getenvFloat("FLOOR_RATIO", 0.93),
			TotalDays:       getenvInt("TOTAL_DAYS", 22),
		},
		DayInterval:         getenvSeconds("DAY_SECONDS", 10),
		LeaderboardInterval: getenvSeconds("LEADERBOARD_SECONDS", 5),
	}
}

// OriginAllowed reports whether a cross-origin request from origin may
// be served. An empty origin (same-origin or non-browser client) is
// always allowed.
func (c Config) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getenvSeconds falls back to def for non-positive values too: the
// intervals feed time.NewTicker, which rejects durations <= 0.
func getenvSeconds(key string, def int) time.Duration {
	secs := getenvInt(key, def)
	if secs <= 0 {
		secs = def
	}
	return time.Duration(secs) * time.Second
}
