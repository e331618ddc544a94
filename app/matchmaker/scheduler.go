// Package matchmaker runs the periodic pairing loop: every tick it widens the
// search range of each waiting player and pairs the two closest-rated players
// per queue whose ranges both cover the gap.
package matchmaker

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/balatromm/rankbot/app/store"
)

// Store is the subset of the persistent store the scheduler needs.
type Store interface {
	ActiveQueues(ctx context.Context) ([]store.Queue, error)
	WaitingPlayers(ctx context.Context, queueID int64) ([]store.QueueUser, error)
	SetSearchRange(ctx context.Context, queueID int64, userID string, rng float64) error
	LeaveAllQueues(ctx context.Context, userID string) error
}

// Matches creates match artifacts for a successful pairing.
type Matches interface {
	StartMatch(ctx context.Context, queueID int64, userIDs []string) error
}

// Scheduler owns the matchmaking loop state. Ticks do not overlap; a
// long-running tick delays the next one.
type Scheduler struct {
	Store    Store
	Matches  Matches
	Interval time.Duration    // tick cadence, default 2s
	Now      func() time.Time // injectable for tests

	lastGrowth map[int64]time.Time // per-queue time of the last range growth
}

func (s *Scheduler) interval() time.Duration {
	if s.Interval == 0 {
		return 2 * time.Second
	}
	return s.Interval
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run drives the pairing loop until the context is cancelled.
// Blocking call.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	log.Printf("[INFO] matchmaker started, interval %s", s.interval())
	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] matchmaker stopped: %v", context.Cause(ctx))
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes all active queues once. A failure in one queue is logged
// and does not affect the others.
func (s *Scheduler) Tick(ctx context.Context) {
	queues, err := s.Store.ActiveQueues(ctx)
	if err != nil {
		log.Printf("[WARN] matchmaker: list queues: %v", err)
		return
	}

	for _, q := range queues {
		if err := s.matchQueue(ctx, q); err != nil {
			log.Printf("[WARN] matchmaker: queue %s: %v", q.Name, err)
		}
	}
}

// candidate is a waiting player snapshot used for pairing within one tick.
type candidate struct {
	userID string
	rating float64
	rng    float64
}

func (s *Scheduler) matchQueue(ctx context.Context, q store.Queue) error {
	waiting, err := s.Store.WaitingPlayers(ctx, q.ID)
	if err != nil {
		return err
	}
	if len(waiting) < 2 {
		return nil
	}

	grow := s.shouldGrow(q)

	candidates := make([]candidate, 0, len(waiting))
	for _, u := range waiting {
		rng := u.SearchRange.Float64
		switch {
		case !u.SearchRange.Valid:
			rng = q.SearchStart
		case grow:
			rng += q.SearchIncrement
		}

		if !u.SearchRange.Valid || grow {
			if err := s.Store.SetSearchRange(ctx, q.ID, u.UserID, rng); err != nil {
				return err
			}
		}

		candidates = append(candidates, candidate{userID: u.UserID, rating: u.ELO, rng: rng})
	}

	a, b, ok := bestPair(candidates)
	if !ok {
		return nil
	}

	log.Printf("[INFO] matchmaker: queue %s paired %s (%.1f) vs %s (%.1f)",
		q.Name, a.userID, a.rating, b.userID, b.rating)

	// a player can only be in one match, pull both out of every queue before
	// the match exists so later queues in this tick don't see them
	if err := s.Store.LeaveAllQueues(ctx, a.userID); err != nil {
		return err
	}
	if err := s.Store.LeaveAllQueues(ctx, b.userID); err != nil {
		return err
	}

	return s.Matches.StartMatch(ctx, q.ID, []string{a.userID, b.userID})
}

// shouldGrow reports whether the queue's growth period has elapsed since the
// last range growth, and records the growth time when it has.
func (s *Scheduler) shouldGrow(q store.Queue) bool {
	if s.lastGrowth == nil {
		s.lastGrowth = map[int64]time.Time{}
	}

	now := s.now()
	last, ok := s.lastGrowth[q.ID]
	if ok && now.Sub(last) < time.Duration(q.SearchSpeed)*time.Second {
		return false
	}

	s.lastGrowth[q.ID] = now
	return true
}

// bestPair returns the eligible pair with the smallest rating gap. A pair is
// eligible when both players' ranges cover the gap. Equal gaps break by the
// smaller (userID, userID) pair so the choice doesn't depend on store
// iteration order.
func bestPair(candidates []candidate) (a, b candidate, ok bool) {
	bestGap := math.Inf(1)
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			ci, cj := candidates[i], candidates[j]
			gap := math.Abs(ci.rating - cj.rating)
			if gap >= ci.rng || gap >= cj.rng {
				continue
			}

			if gap < bestGap || (gap == bestGap && lessPair(ci, cj, a, b)) {
				a, b, ok = ci, cj, true
				bestGap = gap
			}
		}
	}
	return a, b, ok
}

func lessPair(a1, b1, a2, b2 candidate) bool {
	lo1, hi1 := orderIDs(a1.userID, b1.userID)
	lo2, hi2 := orderIDs(a2.userID, b2.userID)
	if lo1 != lo2 {
		return lo1 < lo2
	}
	return hi1 < hi2
}

func orderIDs(x, y string) (string, string) {
	if x <= y {
		return x, y
	}
	return y, x
}
