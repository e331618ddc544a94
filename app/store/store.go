package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound indicates that the entity hasn't been found in the database.
var ErrNotFound = errors.New("not found")

// Store provides methods to store/load data.
type Store struct {
	db *sqlx.DB
}

// New prepares the database.
func New(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS queues (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			team_size INTEGER NOT NULL DEFAULT 1,
			team_count INTEGER NOT NULL DEFAULT 2,
			elo_search_start DOUBLE PRECISION NOT NULL DEFAULT 100,
			elo_search_increment DOUBLE PRECISION NOT NULL DEFAULT 50,
			elo_search_speed INTEGER NOT NULL DEFAULT 2,
			default_elo DOUBLE PRECISION NOT NULL DEFAULT 1000,
			locked BOOLEAN NOT NULL DEFAULT FALSE,
			tuple_ban_count INTEGER NOT NULL DEFAULT 7
		);

		CREATE TABLE IF NOT EXISTS queue_users (
			queue_id INTEGER NOT NULL REFERENCES queues(id),
			user_id TEXT NOT NULL,
			elo DOUBLE PRECISION NOT NULL DEFAULT 0,
			peak_elo DOUBLE PRECISION NOT NULL DEFAULT 0,
			volatility INTEGER NOT NULL DEFAULT 0,
			win_streak INTEGER NOT NULL DEFAULT 0,
			peak_win_streak INTEGER NOT NULL DEFAULT 0,
			games_played INTEGER NOT NULL DEFAULT 0,
			search_range DOUBLE PRECISION,
			joined_at INTEGER,
			PRIMARY KEY (queue_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue_id INTEGER NOT NULL REFERENCES queues(id),
			winner_team INTEGER,
			deck_id INTEGER,
			stake_id INTEGER,
			best_of_two BOOLEAN NOT NULL DEFAULT FALSE,
			created_at INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS match_players (
			match_id INTEGER NOT NULL REFERENCES matches(id),
			user_id TEXT NOT NULL,
			team INTEGER NOT NULL,
			PRIMARY KEY (match_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS decks (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			emoji TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS stakes (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			emoji TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS queue_deck_bans (
			queue_id INTEGER NOT NULL REFERENCES queues(id),
			deck_id INTEGER NOT NULL REFERENCES decks(id),
			PRIMARY KEY (queue_id, deck_id)
		);

		CREATE TABLE IF NOT EXISTS prob_overrides (
			queue_id INTEGER NOT NULL REFERENCES queues(id),
			kind TEXT NOT NULL CHECK (kind IN ('deck', 'stake')),
			item TEXT NOT NULL,
			multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
			PRIMARY KEY (queue_id, kind, item)
		);
    `

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.seedCatalog(); err != nil {
		return nil, fmt.Errorf("seed catalog: %w", err)
	}

	return s, nil
}

// seedCatalog populates the deck and stake catalogs if they are empty.
func (s *Store) seedCatalog() error {
	decks := []Deck{
		{1, "Red Deck", "🟥", "+1 discard every round"},
		{2, "Blue Deck", "🟦", "+1 hand every round"},
		{3, "Yellow Deck", "🟨", "start with extra $10"},
		{4, "Green Deck", "🟩", "interest replaced with per-round payouts"},
		{5, "Black Deck", "⬛", "+1 joker slot, -1 hand"},
		{6, "Magic Deck", "🔮", "start with Crystal Ball and 2 Fools"},
		{7, "Nebula Deck", "🌌", "start with Telescope, -1 consumable slot"},
		{8, "Ghost Deck", "👻", "spectral cards in shop, start with Hex"},
		{9, "Abandoned Deck", "🃏", "no face cards"},
		{10, "Checkered Deck", "🏁", "spades and clubs replaced"},
		{11, "Zodiac Deck", "♈", "start with Tarot/Planet Merchants and Overstock"},
		{12, "Painted Deck", "🎨", "+2 hand size, -1 joker slot"},
		{13, "Anaglyph Deck", "🕶️", "double tag after each boss blind"},
		{14, "Plasma Deck", "⚡", "chips and mult balanced, x2 blind size"},
		{15, "Erratic Deck", "🎲", "ranks and suits randomized"},
	}
	stakes := []Stake{
		{1, "White Stake", "⚪"},
		{2, "Red Stake", "🔴"},
		{3, "Green Stake", "🟢"},
		{4, "Black Stake", "⚫"},
		{5, "Blue Stake", "🔵"},
		{6, "Purple Stake", "🟣"},
		{7, "Orange Stake", "🟠"},
		{8, "Gold Stake", "🟡"},
	}

	for _, d := range decks {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO decks (id, name, emoji, description) VALUES (?, ?, ?, ?)`,
			d.ID, d.Name, d.Emoji, d.Description); err != nil {
			return fmt.Errorf("insert deck: %w", err)
		}
	}
	for _, st := range stakes {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO stakes (id, name, emoji) VALUES (?, ?, ?)`,
			st.ID, st.Name, st.Emoji); err != nil {
			return fmt.Errorf("insert stake: %w", err)
		}
	}
	return nil
}

// CreateQueue inserts a new queue and returns its ID.
func (s *Store) CreateQueue(ctx context.Context, q Queue) (int64, error) {
	const query = `INSERT INTO queues
		(name, team_size, team_count, elo_search_start, elo_search_increment,
		 elo_search_speed, default_elo, locked, tuple_ban_count)
		VALUES (:name, :team_size, :team_count, :elo_search_start, :elo_search_increment,
		 :elo_search_speed, :default_elo, :locked, :tuple_ban_count)`

	res, err := s.db.NamedExecContext(ctx, query, q)
	if err != nil {
		return 0, fmt.Errorf("insert queue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("queue id: %w", err)
	}
	return id, nil
}

// UpdateQueue updates the mutable configuration of a queue.
func (s *Store) UpdateQueue(ctx context.Context, q Queue) error {
	const query = `UPDATE queues SET
			name = :name,
			team_size = :team_size,
			team_count = :team_count,
			elo_search_start = :elo_search_start,
			elo_search_increment = :elo_search_increment,
			elo_search_speed = :elo_search_speed,
			default_elo = :default_elo,
			locked = :locked,
			tuple_ban_count = :tuple_ban_count
		WHERE id = :id`

	if _, err := s.db.NamedExecContext(ctx, query, q); err != nil {
		return fmt.Errorf("update queue: %w", err)
	}
	return nil
}

// Queues returns all queues.
func (s *Store) Queues(ctx context.Context) ([]Queue, error) {
	var queues []Queue
	if err := s.db.SelectContext(ctx, &queues, `SELECT * FROM queues ORDER BY id`); err != nil {
		return nil, fmt.Errorf("select queues: %w", err)
	}
	return queues, nil
}

// ActiveQueues returns all non-locked queues.
func (s *Store) ActiveQueues(ctx context.Context) ([]Queue, error) {
	var queues []Queue
	if err := s.db.SelectContext(ctx, &queues,
		`SELECT * FROM queues WHERE NOT locked ORDER BY id`); err != nil {
		return nil, fmt.Errorf("select active queues: %w", err)
	}
	return queues, nil
}

// QueueByName returns a queue by its name, case-insensitive.
func (s *Store) QueueByName(ctx context.Context, name string) (Queue, error) {
	var q Queue
	err := s.db.GetContext(ctx, &q,
		`SELECT * FROM queues WHERE name = ? COLLATE NOCASE`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return Queue{}, ErrNotFound
	}
	if err != nil {
		return Queue{}, fmt.Errorf("get queue: %w", err)
	}
	return q, nil
}

// QueueByID returns a queue by its ID.
func (s *Store) QueueByID(ctx context.Context, id int64) (Queue, error) {
	var q Queue
	err := s.db.GetContext(ctx, &q, `SELECT * FROM queues WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Queue{}, ErrNotFound
	}
	if err != nil {
		return Queue{}, fmt.Errorf("get queue: %w", err)
	}
	return q, nil
}

// QueueUser returns a player's standing in a queue.
func (s *Store) QueueUser(ctx context.Context, queueID int64, userID string) (QueueUser, error) {
	var u QueueUser
	err := s.db.GetContext(ctx, &u,
		`SELECT * FROM queue_users WHERE queue_id = ? AND user_id = ?`, queueID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueUser{}, ErrNotFound
	}
	if err != nil {
		return QueueUser{}, fmt.Errorf("get queue user: %w", err)
	}
	return u, nil
}

// JoinQueue puts a player into the queue's wait pool, creating the rating row
// with the queue's default ELO on first join. The search range stays unset
// until the matchmaker initializes it.
func (s *Store) JoinQueue(ctx context.Context, queueID int64, userID string, defaultELO float64, now int64) error {
	const query = `INSERT INTO queue_users (queue_id, user_id, elo, peak_elo, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (queue_id, user_id)
		DO UPDATE SET joined_at = excluded.joined_at, search_range = NULL`

	if _, err := s.db.ExecContext(ctx, query, queueID, userID, defaultELO, defaultELO, now); err != nil {
		return fmt.Errorf("join queue: %w", err)
	}
	return nil
}

// LeaveAllQueues removes the player from the wait pool of every queue,
// keeping the rating rows.
func (s *Store) LeaveAllQueues(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE queue_users SET joined_at = NULL, search_range = NULL WHERE user_id = ?`,
		userID); err != nil {
		return fmt.Errorf("leave queues: %w", err)
	}
	return nil
}

// WaitingPlayers returns all players currently waiting in the queue,
// longest-waiting first.
func (s *Store) WaitingPlayers(ctx context.Context, queueID int64) ([]QueueUser, error) {
	var users []QueueUser
	if err := s.db.SelectContext(ctx, &users,
		`SELECT * FROM queue_users WHERE queue_id = ? AND joined_at IS NOT NULL ORDER BY joined_at, user_id`,
		queueID); err != nil {
		return nil, fmt.Errorf("select waiting players: %w", err)
	}
	return users, nil
}

// SetSearchRange persists the player's current search range in a queue.
func (s *Store) SetSearchRange(ctx context.Context, queueID int64, userID string, rng float64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE queue_users SET search_range = ? WHERE queue_id = ? AND user_id = ?`,
		rng, queueID, userID); err != nil {
		return fmt.Errorf("set search range: %w", err)
	}
	return nil
}

// UpdateRatings updates the rating fields for a bunch of players in one
// transaction.
func (s *Store) UpdateRatings(ctx context.Context, users ...QueueUser) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `UPDATE queue_users SET
			elo = :elo,
			peak_elo = :peak_elo,
			volatility = :volatility,
			win_streak = :win_streak,
			peak_win_streak = :peak_win_streak,
			games_played = :games_played
		WHERE queue_id = :queue_id AND user_id = :user_id`

	for _, u := range users {
		if _, err := tx.NamedExecContext(ctx, query, u); err != nil {
			return fmt.Errorf("update rating: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// QueueUsers returns all rating rows of a queue, best rating first.
func (s *Store) QueueUsers(ctx context.Context, queueID int64) ([]QueueUser, error) {
	var users []QueueUser
	if err := s.db.SelectContext(ctx, &users,
		`SELECT * FROM queue_users WHERE queue_id = ? ORDER BY elo DESC`, queueID); err != nil {
		return nil, fmt.Errorf("select queue users: %w", err)
	}
	return users, nil
}

// CreateMatch inserts a match with its team assignments and returns it.
func (s *Store) CreateMatch(ctx context.Context, queueID int64, teams [][]string, createdAt int64) (Match, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Match{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO matches (queue_id, created_at) VALUES (?, ?)`, queueID, createdAt)
	if err != nil {
		return Match{}, fmt.Errorf("insert match: %w", err)
	}
	matchID, err := res.LastInsertId()
	if err != nil {
		return Match{}, fmt.Errorf("match id: %w", err)
	}

	for team, members := range teams {
		for _, userID := range members {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO match_players (match_id, user_id, team) VALUES (?, ?, ?)`,
				matchID, userID, team); err != nil {
				return Match{}, fmt.Errorf("insert match player: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Match{}, fmt.Errorf("commit transaction: %w", err)
	}

	return Match{ID: matchID, QueueID: queueID, CreatedAt: createdAt}, nil
}

// MatchByID returns a match by its ID.
func (s *Store) MatchByID(ctx context.Context, id int64) (Match, error) {
	var m Match
	err := s.db.GetContext(ctx, &m, `SELECT * FROM matches WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Match{}, ErrNotFound
	}
	if err != nil {
		return Match{}, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

// MatchPlayers returns the team assignments of a match.
func (s *Store) MatchPlayers(ctx context.Context, matchID int64) ([]MatchPlayer, error) {
	var players []MatchPlayer
	if err := s.db.SelectContext(ctx, &players,
		`SELECT * FROM match_players WHERE match_id = ? ORDER BY team, user_id`, matchID); err != nil {
		return nil, fmt.Errorf("select match players: %w", err)
	}
	return players, nil
}

// SetMatchWinner records the winning team, resolving the match.
func (s *Store) SetMatchWinner(ctx context.Context, matchID int64, team int) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE matches SET winner_team = ? WHERE id = ?`, team, matchID); err != nil {
		return fmt.Errorf("set match winner: %w", err)
	}
	return nil
}

// AllowedDecks returns the deck catalog minus the queue's banned decks and
// the additionally banned IDs.
func (s *Store) AllowedDecks(ctx context.Context, queueID int64, extraBanned []int64) ([]Deck, error) {
	var decks []Deck
	query := `SELECT * FROM decks
		WHERE id NOT IN (SELECT deck_id FROM queue_deck_bans WHERE queue_id = ?)`
	args := []any{queueID}

	if len(extraBanned) > 0 {
		placeholders := make([]string, len(extraBanned))
		for i := range placeholders {
			placeholders[i] = "?"
		}
		query += fmt.Sprintf(` AND id NOT IN (%s)`, strings.Join(placeholders, ", "))
		for _, id := range extraBanned {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`

	if err := s.db.SelectContext(ctx, &decks, query, args...); err != nil {
		return nil, fmt.Errorf("select allowed decks: %w", err)
	}
	return decks, nil
}

// StakeByName returns a stake catalog entry by its name.
func (s *Store) StakeByName(ctx context.Context, name string) (Stake, error) {
	var st Stake
	err := s.db.GetContext(ctx, &st, `SELECT * FROM stakes WHERE name = ? COLLATE NOCASE`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return Stake{}, ErrNotFound
	}
	if err != nil {
		return Stake{}, fmt.Errorf("get stake: %w", err)
	}
	return st, nil
}

// BanDeck bans a deck from a queue's sampling pool.
func (s *Store) BanDeck(ctx context.Context, queueID, deckID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO queue_deck_bans (queue_id, deck_id) VALUES (?, ?)`,
		queueID, deckID); err != nil {
		return fmt.Errorf("ban deck: %w", err)
	}
	return nil
}

// SetMultiplier stores a per-queue probability multiplier override for a deck
// (item is the deck ID) or a stake (item is the stake name).
func (s *Store) SetMultiplier(ctx context.Context, queueID int64, kind, item string, multiplier float64) error {
	if multiplier < 0 {
		return fmt.Errorf("multiplier must be >= 0, got %f", multiplier)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO prob_overrides (queue_id, kind, item, multiplier) VALUES (?, ?, ?, ?)
		 ON CONFLICT (queue_id, kind, item) DO UPDATE SET multiplier = excluded.multiplier`,
		queueID, kind, item, multiplier); err != nil {
		return fmt.Errorf("set multiplier: %w", err)
	}
	return nil
}

// Overrides returns the queue's probability multiplier overrides.
func (s *Store) Overrides(ctx context.Context, queueID int64) (Overrides, error) {
	var rows []struct {
		Kind       string  `db:"kind"`
		Item       string  `db:"item"`
		Multiplier float64 `db:"multiplier"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT kind, item, multiplier FROM prob_overrides WHERE queue_id = ?`, queueID); err != nil {
		return Overrides{}, fmt.Errorf("select overrides: %w", err)
	}

	ov := Overrides{
		DeckMultipliers:  map[int64]float64{},
		StakeMultipliers: map[string]float64{},
	}
	for _, r := range rows {
		switch r.Kind {
		case "deck":
			var id int64
			if _, err := fmt.Sscanf(r.Item, "%d", &id); err != nil {
				return Overrides{}, fmt.Errorf("parse deck id %q: %w", r.Item, err)
			}
			ov.DeckMultipliers[id] = r.Multiplier
		case "stake":
			ov.StakeMultipliers[r.Item] = r.Multiplier
		}
	}
	return ov, nil
}
