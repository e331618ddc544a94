package store

import (
	"database/sql"
	"fmt"
)

// Queue is a named matchmaking pool with its own search configuration.
type Queue struct {
	ID              int64   `db:"id"`
	Name            string  `db:"name"`
	TeamSize        int     `db:"team_size"`
	TeamCount       int     `db:"team_count"`
	SearchStart     float64 `db:"elo_search_start"`
	SearchIncrement float64 `db:"elo_search_increment"`
	SearchSpeed     int     `db:"elo_search_speed"` // seconds between range growths
	DefaultELO      float64 `db:"default_elo"`
	Locked          bool    `db:"locked"`
	TupleBanCount   int     `db:"tuple_ban_count"`
}

// QueueUser is a player's standing within one queue. The row persists after
// the player leaves the queue, only SearchRange and JoinedAt are reset.
type QueueUser struct {
	QueueID       int64           `db:"queue_id"`
	UserID        string          `db:"user_id"`
	ELO           float64         `db:"elo"`
	PeakELO       float64         `db:"peak_elo"`
	Volatility    int             `db:"volatility"`
	WinStreak     int             `db:"win_streak"`
	PeakWinStreak int             `db:"peak_win_streak"`
	GamesPlayed   int             `db:"games_played"`
	SearchRange   sql.NullFloat64 `db:"search_range"`
	JoinedAt      sql.NullInt64   `db:"joined_at"` // unix seconds, set while waiting
}

// Waiting reports whether the player is currently in the queue's wait pool.
func (u QueueUser) Waiting() bool { return u.JoinedAt.Valid }

// DiscordRef returns the Discord mention of the player.
func (u QueueUser) DiscordRef() string { return fmt.Sprintf("<@%s>", u.UserID) }

// Match is a single game between two or more teams of queue players.
type Match struct {
	ID         int64         `db:"id"`
	QueueID    int64         `db:"queue_id"`
	WinnerTeam sql.NullInt64 `db:"winner_team"`
	DeckID     sql.NullInt64 `db:"deck_id"`
	StakeID    sql.NullInt64 `db:"stake_id"`
	BestOfTwo  bool          `db:"best_of_two"`
	CreatedAt  int64         `db:"created_at"`
}

// Resolved reports whether a winner has been recorded.
func (m Match) Resolved() bool { return m.WinnerTeam.Valid }

// MatchPlayer assigns a player to a team within a match.
type MatchPlayer struct {
	MatchID int64  `db:"match_id"`
	UserID  string `db:"user_id"`
	Team    int    `db:"team"`
}

// Deck is a catalog entry for a playable deck.
type Deck struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Emoji       string `db:"emoji"`
	Description string `db:"description"`
}

// Stake is a catalog entry for a difficulty stake.
type Stake struct {
	ID    int64  `db:"id"`
	Name  string `db:"name"`
	Emoji string `db:"emoji"`
}

// Overrides carries per-queue sampling probability multipliers. Items without
// an entry use multiplier 1.
type Overrides struct {
	DeckMultipliers  map[int64]float64
	StakeMultipliers map[string]float64
}
