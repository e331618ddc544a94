package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/balatromm/rankbot/app/rating"
	"github.com/balatromm/rankbot/app/store"
	_ "github.com/glebarez/go-sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSync struct {
	userID string
	ranked bool
}

type fakeSide struct {
	announced []string
	synced    []recordedSync
}

func (f *fakeSide) Announce(_ context.Context, text string) error {
	f.announced = append(f.announced, text)
	return nil
}

func (f *fakeSide) SyncRole(_ context.Context, userID string, ranked bool) error {
	f.synced = append(f.synced, recordedSync{userID: userID, ranked: ranked})
	return nil
}

func testService(t *testing.T) (*Service, *fakeSide, int64) {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	queueID, err := s.CreateQueue(context.Background(), store.Queue{
		Name:            "ranked",
		TeamSize:        1,
		TeamCount:       2,
		SearchStart:     100,
		SearchIncrement: 50,
		SearchSpeed:     2,
		DefaultELO:      1000,
		TupleBanCount:   7,
	})
	require.NoError(t, err)

	side := &fakeSide{}
	svc := &Service{
		Store:  s,
		Rating: rating.New(rating.DefaultConfig()),
		Notify: side,
		Roles:  side,
	}
	return svc, side, queueID
}

func TestJoin(t *testing.T) {
	svc, _, queueID := testService(t)
	ctx := context.Background()

	q, err := svc.Join(ctx, "ranked", "u1")
	require.NoError(t, err)
	assert.Equal(t, queueID, q.ID)

	u, err := svc.Store.QueueUser(ctx, queueID, "u1")
	require.NoError(t, err)
	assert.True(t, u.Waiting())

	_, err = svc.Join(ctx, "nope", "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	q.Locked = true
	require.NoError(t, svc.Store.UpdateQueue(ctx, q))
	_, err = svc.Join(ctx, "ranked", "u2")
	assert.ErrorIs(t, err, ErrQueueLocked)
}

func TestStartMatch_AnnouncesWithBans(t *testing.T) {
	svc, side, queueID := testService(t)
	ctx := context.Background()

	require.NoError(t, svc.StartMatch(ctx, queueID, []string{"u1", "u2"}))

	require.Len(t, side.announced, 1)
	assert.Contains(t, side.announced[0], "<@u1> vs <@u2>")
	assert.Contains(t, side.announced[0], "banned:")

	m, err := svc.Store.MatchByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, queueID, m.QueueID)

	players, err := svc.Store.MatchPlayers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.NotEqual(t, players[0].Team, players[1].Team, "paired players land on opposite teams")
}

func TestGenerateBans(t *testing.T) {
	svc, _, queueID := testService(t)
	ctx := context.Background()

	res, err := svc.GenerateBans(ctx, queueID, nil)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Len(t, res.Tuples, 7)

	for _, tp := range res.Tuples {
		assert.Contains(t, SamplingStakes, tp.Stake.Name, "stakes come from the fixed pool")
	}
}

func TestReport_UpdatesRatings(t *testing.T) {
	svc, side, queueID := testService(t)
	ctx := context.Background()

	_, err := svc.Join(ctx, "ranked", "u1")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "ranked", "u2")
	require.NoError(t, err)

	require.NoError(t, svc.StartMatch(ctx, queueID, []string{"u1", "u2"}))

	results, err := svc.Report(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	winner, err := svc.Store.QueueUser(ctx, queueID, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 1037.5, winner.ELO, 1e-9)
	assert.InDelta(t, 1037.5, winner.PeakELO, 1e-9)
	assert.Equal(t, 1, winner.Volatility)
	assert.Equal(t, 1, winner.WinStreak)
	assert.Equal(t, 1, winner.GamesPlayed)

	loser, err := svc.Store.QueueUser(ctx, queueID, "u2")
	require.NoError(t, err)
	assert.InDelta(t, 962.5, loser.ELO, 1e-9)
	assert.InDelta(t, 1000.0, loser.PeakELO, 1e-9, "peak keeps the default rating")
	assert.Equal(t, -1, loser.WinStreak)

	// first completed match of both players triggers a role sync
	require.Len(t, side.synced, 2)
	for _, sync := range side.synced {
		assert.False(t, sync.ranked, "both below the role threshold")
	}

	_, err = svc.Report(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrMatchResolved)

	_, err = svc.Report(ctx, 999, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReport_UnknownWinnerFailsLoudly(t *testing.T) {
	svc, _, queueID := testService(t)
	ctx := context.Background()

	require.NoError(t, svc.StartMatch(ctx, queueID, []string{"u1", "u2"}))

	_, err := svc.Report(ctx, 1, 5)
	require.Error(t, err, "a winner outside the match is a logic error, not a no-op")

	m, err := svc.Store.MatchByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, m.Resolved(), "failed report leaves the match open")
}
