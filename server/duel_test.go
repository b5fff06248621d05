package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"song-arena/server/store"
)

// fixedInts returns an intn that replays the given picks (modulo n to stay
// legal).
func fixedInts(picks ...int) func(int) int {
	i := 0
	return func(n int) int {
		p := picks[i%len(picks)] % n
		i++
		return p
	}
}

func TestSelectPairPrefersCloseRatings(t *testing.T) {
	songs := []store.Song{
		{ID: 1, Rating: 1500},
		{ID: 2, Rating: 1550},
		{ID: 3, Rating: 2400},
	}

	// First pick lands on song 1; the only in-window opponent is song 2.
	a, b, err := selectPair(songs, fixedInts(0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
}

func TestSelectPairFallsBackWhenNothingIsClose(t *testing.T) {
	songs := []store.Song{
		{ID: 1, Rating: 1500},
		{ID: 2, Rating: 2400},
	}

	a, b, err := selectPair(songs, fixedInts(0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
}

func TestSelectPairNeverPairsSongWithItself(t *testing.T) {
	songs := []store.Song{
		{ID: 1, Rating: 1500},
		{ID: 2, Rating: 1510},
		{ID: 3, Rating: 1520},
	}

	for pick := 0; pick < 3; pick++ {
		for opp := 0; opp < 2; opp++ {
			a, b, err := selectPair(songs, fixedInts(pick, opp))
			require.NoError(t, err)
			assert.NotEqual(t, a.ID, b.ID)
		}
	}
}

func TestSelectPairNeedsTwoSongs(t *testing.T) {
	_, _, err := selectPair([]store.Song{{ID: 1}}, fixedInts(0))
	assert.Error(t, err)
}

func TestNearestOutcomeLabel(t *testing.T) {
	tests := []struct {
		outcome float64
		want    string
	}{
		{1.0, "decisive_win"},
		{0.75, "slight_win"},
		{0.5, "draw"},
		{0.25, "slight_loss"},
		{0.0, "decisive_loss"},
		{0.8, "slight_win"},
		{0.1, "decisive_loss"},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, nearestOutcomeLabel(test.outcome), "outcome=%v", test.outcome)
	}
}

func TestIsUpset(t *testing.T) {
	tests := []struct {
		name     string
		expected float64
		outcome  float64
		want     bool
	}{{
		"underdog wins",
		0.3,
		1.0,
		true,
	}, {
		"favorite loses",
		0.7,
		0.0,
		true,
	}, {
		"favorite wins",
		0.7,
		1.0,
		false,
	}, {
		"toss-up win",
		0.5,
		1.0,
		false,
	}, {
		"underdog only slightly wins",
		0.3,
		0.75,
		false,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, isUpset(test.expected, test.outcome))
		})
	}
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0.0, daysSince(nil, now))

	recent := now.Add(-6 * time.Hour)
	assert.Equal(t, 0.0, daysSince(&recent, now))

	week := now.Add(-7*24*time.Hour - 3*time.Hour)
	assert.Equal(t, 7.0, daysSince(&week, now))

	future := now.Add(time.Hour)
	assert.Equal(t, 0.0, daysSince(&future, now))
}
