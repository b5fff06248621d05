package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"song-arena/server/rating"
	"song-arena/server/store"
)

// Outcome labels shown in the duel UI, mapped to the continuous scores the
// engine consumes. Anything else recorded through the raw-value API is
// labelled by nearestOutcomeLabel.
var outcomeValues = map[string]float64{
	"decisive_win":  1.0,
	"slight_win":    0.75,
	"draw":          0.5,
	"slight_loss":   0.25,
	"decisive_loss": 0.0,
}

func nearestOutcomeLabel(v float64) string {
	best, bestDist := "draw", math.Inf(1)
	for label, lv := range outcomeValues {
		if d := math.Abs(lv - v); d < bestDist {
			best, bestDist = label, d
		}
	}
	return best
}

// isUpset flags a result where the underdog won outright: the favorite was
// expected to take it (or lose it) with meaningful margin and the opposite
// happened.
func isUpset(expected, outcome float64) bool {
	return (expected < 0.4 && outcome == 1.0) || (expected > 0.6 && outcome == 0.0)
}

// duelWindow is the preferred rating distance between duel opponents.
const duelWindow = 200.0

// selectPair picks a random song and a random opponent within duelWindow
// display-rating points, falling back to any other song when nothing is
// close. intn supplies the randomness so tests can pin it.
func selectPair(songs []store.Song, intn func(int) int) (a, b *store.Song, err error) {
	if len(songs) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 songs, have %d", len(songs))
	}
	first := songs[intn(len(songs))]

	var near, rest []store.Song
	for _, s := range songs {
		if s.ID == first.ID {
			continue
		}
		if math.Abs(s.Rating-first.Rating) < duelWindow {
			near = append(near, s)
		}
		rest = append(rest, s)
	}
	pool := near
	if len(pool) == 0 {
		pool = rest
	}
	second := pool[intn(len(pool))]
	return &first, &second, nil
}

// daysSince converts a last-compared timestamp into the whole-day count the
// engine's inactivity decay expects.
func daysSince(last *time.Time, now time.Time) float64 {
	if last == nil || !now.After(*last) {
		return 0
	}
	return math.Floor(now.Sub(*last).Hours() / 24)
}

// arena ties the rating engine to the store: it picks pairs, records
// outcomes from both sides, and undoes mistakes.
type arena struct {
	db   *store.DB
	calc *rating.Calculator
	intn func(int) int
}

type duelPair struct {
	SongA           store.Song `json:"song_a"`
	SongB           store.Song `json:"song_b"`
	WinProbabilityA float64    `json:"win_probability_a"`
	ExpectedGainA   float64    `json:"expected_gain_a"`
	ExpectedLossA   float64    `json:"expected_loss_a"`
}

func (ar *arena) nextPair(ctx context.Context, f store.SongFilter) (*duelPair, error) {
	songs, err := ar.db.ListSongs(ctx, f)
	if err != nil {
		return nil, err
	}
	a, b, err := selectPair(songs, ar.intn)
	if err != nil {
		return nil, err
	}

	p := ar.calc.WinProbability(a.Rating, a.Deviation, b.Rating, b.Deviation)
	gain, err := ar.calc.ExpectedChange(a.Rating, a.Deviation, b.Rating, b.Deviation, 1.0)
	if err != nil {
		return nil, err
	}
	loss, err := ar.calc.ExpectedChange(a.Rating, a.Deviation, b.Rating, b.Deviation, 0.0)
	if err != nil {
		return nil, err
	}
	return &duelPair{SongA: *a, SongB: *b, WinProbabilityA: p, ExpectedGainA: gain, ExpectedLossA: loss}, nil
}

// recordOutcome applies one duel: both songs are updated independently with
// complementary outcomes, both triples are persisted, and the comparison is
// written to the audit trail.
func (ar *arena) recordOutcome(ctx context.Context, songAID, songBID int64, outcome float64, label, mode string) (*store.Comparison, error) {
	if songAID == songBID {
		return nil, fmt.Errorf("a song cannot duel itself")
	}
	a, err := ar.db.GetSong(ctx, songAID)
	if err != nil {
		return nil, fmt.Errorf("song %d: %w", songAID, err)
	}
	b, err := ar.db.GetSong(ctx, songBID)
	if err != nil {
		return nil, fmt.Errorf("song %d: %w", songBID, err)
	}

	now := time.Now()
	resA, err := ar.calc.Update(a.Rating, a.Deviation, a.Volatility, []rating.Opponent{
		{Rating: b.Rating, Deviation: b.Deviation, Outcome: outcome},
	}, daysSince(a.LastCompared, now))
	if err != nil {
		return nil, fmt.Errorf("update song %d: %w", songAID, err)
	}
	resB, err := ar.calc.Update(b.Rating, b.Deviation, b.Volatility, []rating.Opponent{
		{Rating: a.Rating, Deviation: a.Deviation, Outcome: 1.0 - outcome},
	}, daysSince(b.LastCompared, now))
	if err != nil {
		return nil, fmt.Errorf("update song %d: %w", songBID, err)
	}

	afterA := store.Triple{Rating: resA.Rating, Deviation: resA.Deviation, Volatility: resA.Volatility}
	afterB := store.Triple{Rating: resB.Rating, Deviation: resB.Deviation, Volatility: resB.Volatility}

	if err := ar.db.UpdateSongRating(ctx, songAID, afterA); err != nil {
		return nil, err
	}
	if err := ar.db.UpdateSongRating(ctx, songBID, afterB); err != nil {
		return nil, err
	}
	if err := ar.db.UpdateSongStats(ctx, songAID, outcome); err != nil {
		return nil, err
	}
	if err := ar.db.UpdateSongStats(ctx, songBID, 1.0-outcome); err != nil {
		return nil, err
	}

	var winnerID *int64
	switch outcome {
	case 1.0:
		winnerID = &songAID
	case 0.0:
		winnerID = &songBID
	}
	expected := ar.calc.WinProbability(a.Rating, a.Deviation, b.Rating, b.Deviation)
	impact := math.Abs(resA.Rating - a.Rating)

	if label == "" {
		label = nearestOutcomeLabel(outcome)
	}
	c := &store.Comparison{
		SongAID:      songAID,
		SongBID:      songBID,
		WinnerID:     winnerID,
		Outcome:      outcome,
		OutcomeType:  label,
		Mode:         mode,
		ABefore:      a.State(),
		AAfter:       afterA,
		BBefore:      b.State(),
		BAfter:       afterB,
		Expected:     &expected,
		RatingImpact: &impact,
		WasUpset:     isUpset(expected, outcome),
	}
	c.ID, err = ar.db.RecordComparison(ctx, c)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = now
	return c, nil
}

// undoLast reverts the most recent comparison.
func (ar *arena) undoLast(ctx context.Context) (*store.Comparison, error) {
	last, err := ar.db.LastComparison(ctx)
	if err != nil {
		return nil, err
	}
	if err := ar.db.UndoComparison(ctx, last.ID); err != nil {
		return nil, err
	}
	last.IsUndone = true
	return last, nil
}
