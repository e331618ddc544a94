// Package rating implements the post-match rating update. The formula is an
// Elo-style logistic exchange over team averages with a volatility modifier:
// new players (high volatility counter is LOW for them, it grows with games
// played) swing harder than settled ones.
package rating

import (
	"fmt"
	"math"
)

// Config carries the rating formula constants. The defaults are empirical and
// carried over from years of league play; don't re-derive them.
type Config struct {
	BaseSwing      float64 // half of the maximum rating exchange
	Spread         float64 // rating difference at which the curve flattens
	VolatilityBase float64 // volatility multiplier at volatility 0
	VolatilityStep float64 // multiplier decrease per volatility point
	MaxRating      float64
	MaxVolatility  int
	RoleThreshold  float64 // rating at which the ranked role is granted
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		BaseSwing:      25,
		Spread:         1200,
		VolatilityBase: 1.5,
		VolatilityStep: 0.05,
		MaxRating:      9999,
		MaxVolatility:  10,
		RoleThreshold:  1500,
	}
}

// Player is a participant's rating state going into a match.
type Player struct {
	ID            string
	Rating        float64
	PeakRating    float64
	Volatility    int
	WinStreak     int
	PeakWinStreak int
	GamesPlayed   int
}

// Team is a non-empty group of players sharing a match outcome.
type Team struct {
	ID      int
	Players []Player
}

func (t Team) averageRating() float64 {
	sum := 0.0
	for _, p := range t.Players {
		sum += p.Rating
	}
	return sum / float64(len(t.Players))
}

func (t Team) averageVolatility() float64 {
	sum := 0.0
	for _, p := range t.Players {
		sum += float64(p.Volatility)
	}
	return sum / float64(len(t.Players))
}

// Result is the post-match rating state of one player. Delta keeps the signed
// change separately from the clamped rating for display and audit.
type Result struct {
	PlayerID      string
	TeamID        int
	Won           bool
	OldRating     float64
	NewRating     float64
	Delta         float64
	PeakRating    float64
	Volatility    int
	WinStreak     int
	PeakWinStreak int
	RoleSync      bool // player crossed the role threshold or finished a first match
}

// Engine computes rating updates. Pure, no I/O, deterministic.
type Engine struct {
	cfg Config
}

// New creates an engine with the given constants.
func New(cfg Config) *Engine { return &Engine{cfg: cfg} }

// Ranked reports whether a rating grants the ranked role.
func (e *Engine) Ranked(r float64) bool { return r >= e.cfg.RoleThreshold }

// Apply computes the rating update for a finished match. Every player on the
// winning team gains the full team delta; every player on a losing team loses
// the delta split evenly across losing teams. Malformed input (no winner
// among the teams, no losers, an empty team) is a logic error, not a
// retryable one.
func (e *Engine) Apply(teams []Team, winnerID int) ([]Result, error) {
	var winner *Team
	var losers []Team
	for i := range teams {
		if len(teams[i].Players) == 0 {
			return nil, fmt.Errorf("team %d has no players", teams[i].ID)
		}
		if teams[i].ID == winnerID {
			winner = &teams[i]
			continue
		}
		losers = append(losers, teams[i])
	}

	if winner == nil {
		return nil, fmt.Errorf("winning team %d not among participants", winnerID)
	}
	if len(losers) == 0 {
		return nil, fmt.Errorf("match has no losing teams")
	}

	winRating := winner.averageRating()

	// loser aggregate is the mean of team averages, not of pooled players
	loseRating, loseVolatility := 0.0, 0.0
	for _, t := range losers {
		loseRating += t.averageRating()
		loseVolatility += t.averageVolatility()
	}
	loseRating /= float64(len(losers))
	loseVolatility /= float64(len(losers))

	avgVolatility := (winner.averageVolatility() + loseVolatility) / 2
	g := e.cfg.VolatilityBase - e.cfg.VolatilityStep*avgVolatility

	delta := g * (2 * e.cfg.BaseSwing) / (1 + math.Pow(10, (winRating-loseRating)/e.cfg.Spread))
	loserDelta := -delta / float64(len(losers))

	var results []Result
	for _, p := range winner.Players {
		results = append(results, e.applyDelta(p, winner.ID, delta, true))
	}
	for _, t := range losers {
		for _, p := range t.Players {
			results = append(results, e.applyDelta(p, t.ID, loserDelta, false))
		}
	}

	return results, nil
}

func (e *Engine) applyDelta(p Player, teamID int, delta float64, won bool) Result {
	newRating := round1(clamp(p.Rating+delta, 0, e.cfg.MaxRating))

	streak := p.WinStreak
	if won {
		streak = max(streak, 0) + 1
	} else {
		streak = min(streak, 0) - 1
	}
	peakStreak := max(p.PeakWinStreak, abs(streak))

	crossed := (p.Rating < e.cfg.RoleThreshold) != (newRating < e.cfg.RoleThreshold)

	return Result{
		PlayerID:      p.ID,
		TeamID:        teamID,
		Won:           won,
		OldRating:     p.Rating,
		NewRating:     newRating,
		Delta:         delta,
		PeakRating:    math.Max(p.PeakRating, newRating),
		Volatility:    min(p.Volatility+1, e.cfg.MaxVolatility),
		WinStreak:     streak,
		PeakWinStreak: peakStreak,
		RoleSync:      crossed || p.GamesPlayed == 0,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
