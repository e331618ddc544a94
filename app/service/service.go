// Package service wires the store, the rating engine and the ban sampler into
// the match lifecycle: queue membership, match creation on a successful
// pairing, and rating updates on a reported result.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/balatromm/rankbot/app/bans"
	"github.com/balatromm/rankbot/app/rating"
	"github.com/balatromm/rankbot/app/store"
	"github.com/samber/lo"
)

// SamplingStakes is the fixed pool the ban sampler draws stakes from,
// regardless of the catalog size.
var SamplingStakes = []string{"White Stake", "Green Stake", "Black Stake", "Purple Stake", "Gold Stake"}

// ErrQueueLocked is issued on an attempt to join a locked queue.
var ErrQueueLocked = errors.New("queue is locked")

// ErrMatchResolved is issued on an attempt to report an already resolved match.
var ErrMatchResolved = errors.New("match already resolved")

// Notifier posts match announcements to the guild.
type Notifier interface {
	Announce(ctx context.Context, text string) error
}

// RoleSyncer reconciles a player's ranked role with their rating.
type RoleSyncer interface {
	SyncRole(ctx context.Context, userID string, ranked bool) error
}

// Service wraps the database store with the matchmaking business logic.
type Service struct {
	Store  *store.Store
	Rating *rating.Engine
	Notify Notifier   // optional
	Roles  RoleSyncer // optional
}

// Join puts a player into the wait pool of the named queue.
func (s *Service) Join(ctx context.Context, queueName, userID string) (store.Queue, error) {
	q, err := s.Store.QueueByName(ctx, queueName)
	if err != nil {
		return store.Queue{}, fmt.Errorf("get queue: %w", err)
	}

	if q.Locked {
		return store.Queue{}, ErrQueueLocked
	}

	if err := s.Store.JoinQueue(ctx, q.ID, userID, q.DefaultELO, time.Now().Unix()); err != nil {
		return store.Queue{}, fmt.Errorf("join queue: %w", err)
	}
	return q, nil
}

// Leave removes a player from every queue's wait pool.
func (s *Service) Leave(ctx context.Context, userID string) error {
	if err := s.Store.LeaveAllQueues(ctx, userID); err != nil {
		return fmt.Errorf("leave queues: %w", err)
	}
	return nil
}

// StartMatch creates a match for a freshly paired set of players, generates
// the ban list and announces both. Implements the matchmaker's callback.
func (s *Service) StartMatch(ctx context.Context, queueID int64, userIDs []string) error {
	teams := lo.Map(userIDs, func(id string, _ int) []string { return []string{id} })

	m, err := s.Store.CreateMatch(ctx, queueID, teams, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}

	banSet, err := s.GenerateBans(ctx, queueID, nil)
	if err != nil {
		// a match without bans is playable, don't undo the pairing
		log.Printf("[WARN] generate bans for match %d: %v", m.ID, err)
	}

	s.announce(ctx, matchAnnouncement(m, userIDs, banSet))
	return nil
}

// GenerateBans produces the ban set for a match in the given queue,
// additionally excluding extraBanned deck IDs picked during match setup.
func (s *Service) GenerateBans(ctx context.Context, queueID int64, extraBanned []int64) (bans.Result, error) {
	q, err := s.Store.QueueByID(ctx, queueID)
	if err != nil {
		return bans.Result{}, fmt.Errorf("get queue: %w", err)
	}

	decks, err := s.Store.AllowedDecks(ctx, queueID, extraBanned)
	if err != nil {
		return bans.Result{}, fmt.Errorf("allowed decks: %w", err)
	}

	stakes := make([]store.Stake, 0, len(SamplingStakes))
	for _, name := range SamplingStakes {
		st, err := s.Store.StakeByName(ctx, name)
		if err != nil {
			return bans.Result{}, fmt.Errorf("stake %q: %w", name, err)
		}
		stakes = append(stakes, st)
	}

	ov, err := s.Store.Overrides(ctx, queueID)
	if err != nil {
		return bans.Result{}, fmt.Errorf("overrides: %w", err)
	}

	return bans.Generate(bans.Config{
		Decks:            decks,
		Stakes:           stakes,
		DeckMultipliers:  ov.DeckMultipliers,
		StakeMultipliers: ov.StakeMultipliers,
		Count:            q.TupleBanCount,
	}), nil
}

// Report records the winner of a match and applies the rating update to all
// participants.
func (s *Service) Report(ctx context.Context, matchID int64, winnerTeam int) ([]rating.Result, error) {
	m, err := s.Store.MatchByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	if m.Resolved() {
		return nil, ErrMatchResolved
	}

	players, err := s.Store.MatchPlayers(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("match players: %w", err)
	}

	q, err := s.Store.QueueByID(ctx, m.QueueID)
	if err != nil {
		return nil, fmt.Errorf("get queue: %w", err)
	}

	teams, err := s.ratingTeams(ctx, q, players)
	if err != nil {
		return nil, err
	}

	results, err := s.Rating.Apply(teams, winnerTeam)
	if err != nil {
		return nil, fmt.Errorf("apply rating: %w", err)
	}

	updates := make([]store.QueueUser, 0, len(results))
	for _, r := range results {
		updates = append(updates, store.QueueUser{
			QueueID:       m.QueueID,
			UserID:        r.PlayerID,
			ELO:           r.NewRating,
			PeakELO:       r.PeakRating,
			Volatility:    r.Volatility,
			WinStreak:     r.WinStreak,
			PeakWinStreak: r.PeakWinStreak,
			GamesPlayed:   s.gamesAfter(teams, r.PlayerID),
		})
	}

	if err := s.Store.UpdateRatings(ctx, updates...); err != nil {
		return nil, fmt.Errorf("update ratings: %w", err)
	}

	if err := s.Store.SetMatchWinner(ctx, matchID, winnerTeam); err != nil {
		return nil, fmt.Errorf("set winner: %w", err)
	}

	s.syncRoles(ctx, results)
	return results, nil
}

// ratingTeams loads the current rating state of the match participants,
// grouped into engine teams.
func (s *Service) ratingTeams(ctx context.Context, q store.Queue, players []store.MatchPlayer) ([]rating.Team, error) {
	byTeam := lo.GroupBy(players, func(p store.MatchPlayer) int { return p.Team })

	teamIDs := lo.Keys(byTeam)
	sort.Ints(teamIDs)

	var teams []rating.Team
	for _, teamID := range teamIDs {
		team := rating.Team{ID: teamID}
		for _, mp := range byTeam[teamID] {
			u, err := s.Store.QueueUser(ctx, q.ID, mp.UserID)
			if errors.Is(err, store.ErrNotFound) {
				// manual admin matches can include players who never queued
				u = store.QueueUser{QueueID: q.ID, UserID: mp.UserID, ELO: q.DefaultELO, PeakELO: q.DefaultELO}
			} else if err != nil {
				return nil, fmt.Errorf("get queue user: %w", err)
			}

			team.Players = append(team.Players, rating.Player{
				ID:            u.UserID,
				Rating:        u.ELO,
				PeakRating:    u.PeakELO,
				Volatility:    u.Volatility,
				WinStreak:     u.WinStreak,
				PeakWinStreak: u.PeakWinStreak,
				GamesPlayed:   u.GamesPlayed,
			})
		}
		teams = append(teams, team)
	}
	return teams, nil
}

func (s *Service) gamesAfter(teams []rating.Team, playerID string) int {
	for _, t := range teams {
		for _, p := range t.Players {
			if p.ID == playerID {
				return p.GamesPlayed + 1
			}
		}
	}
	return 1
}

func (s *Service) syncRoles(ctx context.Context, results []rating.Result) {
	if s.Roles == nil {
		return
	}
	for _, r := range results {
		if !r.RoleSync {
			continue
		}
		if err := s.Roles.SyncRole(ctx, r.PlayerID, s.Rating.Ranked(r.NewRating)); err != nil {
			log.Printf("[WARN] sync role for %s: %v", r.PlayerID, err)
		}
	}
}

func (s *Service) announce(ctx context.Context, text string) {
	if s.Notify == nil {
		return
	}
	if err := s.Notify.Announce(ctx, text); err != nil {
		log.Printf("[WARN] announce: %v", err)
	}
}

func matchAnnouncement(m store.Match, userIDs []string, banSet bans.Result) string {
	refs := lo.Map(userIDs, func(id string, _ int) string { return fmt.Sprintf("<@%s>", id) })

	var b strings.Builder
	fmt.Fprintf(&b, "match #%d: %s", m.ID, strings.Join(refs, " vs "))

	if len(banSet.Tuples) > 0 {
		lines := lo.Map(banSet.Tuples, func(t bans.Tuple, _ int) string {
			return fmt.Sprintf("%s %s @ %s", t.Emote, t.Deck.Name, t.Stake.Name)
		})
		fmt.Fprintf(&b, "\nbanned: %s", strings.Join(lines, ", "))
	}
	if banSet.Partial {
		b.WriteString("\n(ban list is shorter than usual, see logs)")
	}
	return b.String()
}
