package rating

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func team(id int, players ...Player) Team { return Team{ID: id, Players: players} }

func TestApply_ZeroSumForTwoTeams(t *testing.T) {
	e := New(DefaultConfig())

	results, err := e.Apply([]Team{
		team(0, Player{ID: "winner", Rating: 1000}),
		team(1, Player{ID: "loser", Rating: 1000}),
	}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	winner, loser := results[0], results[1]
	assert.True(t, winner.Won)
	assert.False(t, loser.Won)
	assert.Equal(t, winner.Delta, -loser.Delta, "single losing team, exchange is zero-sum")

	// equal ratings, zero volatility: delta = 1.5 * 50 / 2
	assert.InDelta(t, 37.5, winner.Delta, 1e-9)
	assert.InDelta(t, 1037.5, winner.NewRating, 1e-9)
	assert.InDelta(t, 962.5, loser.NewRating, 1e-9)
}

func TestApply_StrongerWinnerGainsLess(t *testing.T) {
	e := New(DefaultConfig())

	even, err := e.Apply([]Team{
		team(0, Player{ID: "a", Rating: 1000}),
		team(1, Player{ID: "b", Rating: 1000}),
	}, 0)
	require.NoError(t, err)

	favored, err := e.Apply([]Team{
		team(0, Player{ID: "a", Rating: 1400}),
		team(1, Player{ID: "b", Rating: 1000}),
	}, 0)
	require.NoError(t, err)

	upset, err := e.Apply([]Team{
		team(0, Player{ID: "a", Rating: 1000}),
		team(1, Player{ID: "b", Rating: 1400}),
	}, 0)
	require.NoError(t, err)

	assert.Less(t, favored[0].Delta, even[0].Delta)
	assert.Greater(t, upset[0].Delta, even[0].Delta)
}

func TestApply_VolatilityDampensSwing(t *testing.T) {
	e := New(DefaultConfig())

	fresh, err := e.Apply([]Team{
		team(0, Player{ID: "a", Rating: 1000, Volatility: 0}),
		team(1, Player{ID: "b", Rating: 1000, Volatility: 0}),
	}, 0)
	require.NoError(t, err)

	settled, err := e.Apply([]Team{
		team(0, Player{ID: "a", Rating: 1000, Volatility: 10}),
		team(1, Player{ID: "b", Rating: 1000, Volatility: 10}),
	}, 0)
	require.NoError(t, err)

	// g drops from 1.5 to 1.0 at max volatility
	assert.InDelta(t, 37.5, fresh[0].Delta, 1e-9)
	assert.InDelta(t, 25.0, settled[0].Delta, 1e-9)
}

func TestApply_ClampsRating(t *testing.T) {
	e := New(DefaultConfig())

	top, err := e.Apply([]Team{
		team(0, Player{ID: "a", Rating: 9990}),
		team(1, Player{ID: "b", Rating: 9990}),
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, 9999.0, top[0].NewRating, "gain is clamped at the ceiling")
	assert.InDelta(t, 37.5, top[0].Delta, 1e-9, "recorded delta keeps the unclamped exchange")

	bottom, err := e.Apply([]Team{
		team(0, Player{ID: "a", Rating: 10}),
		team(1, Player{ID: "b", Rating: 10}),
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, 0.0, bottom[1].NewRating, "loss is clamped at the floor")
}

func TestApply_PeakRatingMonotonic(t *testing.T) {
	e := New(DefaultConfig())

	results, err := e.Apply([]Team{
		team(0, Player{ID: "w", Rating: 1000, PeakRating: 1200}),
		team(1, Player{ID: "l", Rating: 1000, PeakRating: 1000}),
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1200.0, results[0].PeakRating, "old peak above the new rating is kept")
	assert.Equal(t, 1000.0, results[1].PeakRating, "peak never goes down")
	assert.GreaterOrEqual(t, results[0].PeakRating, results[0].NewRating)
}

func TestApply_VolatilityCapped(t *testing.T) {
	e := New(DefaultConfig())

	p := Player{ID: "w", Rating: 1000}
	opp := Player{ID: "l", Rating: 1000}
	for i := 0; i < 15; i++ {
		results, err := e.Apply([]Team{team(0, p), team(1, opp)}, 0)
		require.NoError(t, err)
		p.Volatility = results[0].Volatility
		p.Rating = results[0].NewRating
	}

	assert.Equal(t, 10, p.Volatility)
}

func TestApply_WinStreaks(t *testing.T) {
	e := New(DefaultConfig())

	results, err := e.Apply([]Team{
		team(0, Player{ID: "w", Rating: 1000, WinStreak: -3, PeakWinStreak: 5}),
		team(1, Player{ID: "l", Rating: 1000, WinStreak: 2, PeakWinStreak: 2}),
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, results[0].WinStreak, "a win resets a losing streak")
	assert.Equal(t, 5, results[0].PeakWinStreak)
	assert.Equal(t, -1, results[1].WinStreak, "a loss resets a winning streak")
	assert.Equal(t, 2, results[1].PeakWinStreak)
}

func TestApply_MultipleLosingTeamsSplitLoss(t *testing.T) {
	e := New(DefaultConfig())

	results, err := e.Apply([]Team{
		team(0, Player{ID: "w1", Rating: 1000}, Player{ID: "w2", Rating: 1000}),
		team(1, Player{ID: "l1", Rating: 1000}),
		team(2, Player{ID: "l2", Rating: 1000}),
	}, 0)
	require.NoError(t, err)
	require.Len(t, results, 4)

	// both winning players get the full delta, losses are split per losing team
	assert.Equal(t, results[0].Delta, results[1].Delta)
	assert.InDelta(t, -results[0].Delta/2, results[2].Delta, 1e-9)
	assert.Equal(t, results[2].Delta, results[3].Delta)
}

func TestApply_RoleSyncSignal(t *testing.T) {
	e := New(DefaultConfig()) // threshold 1500

	results, err := e.Apply([]Team{
		team(0, Player{ID: "rising", Rating: 1480, GamesPlayed: 20}),
		team(1, Player{ID: "falling", Rating: 1510, GamesPlayed: 20}),
	}, 0)
	require.NoError(t, err)

	assert.True(t, results[0].RoleSync, "crossed the threshold upwards")
	assert.True(t, results[1].RoleSync, "crossed the threshold downwards")

	results, err = e.Apply([]Team{
		team(0, Player{ID: "first", Rating: 1000, GamesPlayed: 0}),
		team(1, Player{ID: "steady", Rating: 1000, GamesPlayed: 20}),
	}, 0)
	require.NoError(t, err)

	assert.True(t, results[0].RoleSync, "first completed match always syncs")
	assert.False(t, results[1].RoleSync)
}

func TestApply_MalformedInput(t *testing.T) {
	e := New(DefaultConfig())

	_, err := e.Apply([]Team{
		team(0, Player{ID: "a", Rating: 1000}),
		team(1, Player{ID: "b", Rating: 1000}),
	}, 7)
	require.Error(t, err, "winner id not among the teams")

	_, err = e.Apply([]Team{team(0, Player{ID: "a", Rating: 1000})}, 0)
	require.Error(t, err, "no losing teams")

	_, err = e.Apply([]Team{team(0, Player{ID: "a"}), team(1)}, 0)
	require.Error(t, err, "empty team")
}

func TestApply_Deterministic(t *testing.T) {
	e := New(DefaultConfig())
	teams := func() []Team {
		return []Team{
			team(0, Player{ID: "a", Rating: 1234.5, Volatility: 3, GamesPlayed: 7}),
			team(1, Player{ID: "b", Rating: 1190.1, Volatility: 6, GamesPlayed: 12}),
		}
	}

	first, err := e.Apply(teams(), 0)
	require.NoError(t, err)
	second, err := e.Apply(teams(), 0)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestApply_RoundsToOneDecimal(t *testing.T) {
	e := New(DefaultConfig())

	results, err := e.Apply([]Team{
		team(0, Player{ID: "a", Rating: 1033.33, Volatility: 1}),
		team(1, Player{ID: "b", Rating: 1001.17, Volatility: 4}),
	}, 0)
	require.NoError(t, err)

	for _, r := range results {
		assert.InDelta(t, math.Round(r.NewRating*10)/10, r.NewRating, 1e-9)
	}
}
