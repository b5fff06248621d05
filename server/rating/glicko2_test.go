package rating

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, tau float64) *Calculator {
	t.Helper()
	c, err := New(tau)
	require.NoError(t, err)
	return c
}

func TestNewTauBounds(t *testing.T) {
	tests := []struct {
		name    string
		tau     float64
		wantErr bool
	}{{
		"lower bound is valid",
		0.2,
		false,
	}, {
		"upper bound is valid",
		1.5,
		false,
	}, {
		"recommended default is valid",
		0.5,
		false,
	}, {
		"just below lower bound fails",
		0.19,
		true,
	}, {
		"just above upper bound fails",
		1.51,
		true,
	}, {
		"zero fails",
		0,
		true,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, err := New(test.tau)
			if test.wantErr {
				assert.Error(t, err)
				assert.Nil(t, c)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, test.tau, c.Tau())
			}
		})
	}
}

// Golden values pinned from the reference implementation run with identical
// inputs (tau=0.5).
func TestUpdateGoldenUpsetWin(t *testing.T) {
	c := mustNew(t, DefaultTau)

	res, err := c.Update(1500, 350, 0.06, []Opponent{
		{Rating: 1700, Deviation: 50, Outcome: 1.0},
	}, 0)
	require.NoError(t, err)

	assert.InDelta(t, 1805.3001730294795, res.Rating, 1e-6)
	assert.InDelta(t, 266.31621374477504, res.Deviation, 1e-6)
	assert.InDelta(t, 0.06000112537817116, res.Volatility, 1e-9)
}

// The worked example from the Glicko-2 paper: 1500/200 against three
// opponents, one win and two losses.
func TestUpdateMultipleOpponents(t *testing.T) {
	c := mustNew(t, DefaultTau)

	res, err := c.Update(1500, 200, 0.06, []Opponent{
		{Rating: 1400, Deviation: 30, Outcome: 1.0},
		{Rating: 1550, Deviation: 100, Outcome: 0.0},
		{Rating: 1700, Deviation: 300, Outcome: 0.0},
	}, 0)
	require.NoError(t, err)

	assert.InDelta(t, 1464.0506705393013, res.Rating, 1e-6)
	assert.InDelta(t, 151.51652412385727, res.Deviation, 1e-6)
	assert.InDelta(t, 0.059995984286488495, res.Volatility, 1e-9)
}

func TestUpdateNoOpponents(t *testing.T) {
	c := mustNew(t, DefaultTau)

	t.Run("no games and no elapsed time is a no-op", func(t *testing.T) {
		res, err := c.Update(1537, 122, 0.061, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, Result{Rating: 1537, Deviation: 122, Volatility: 0.061}, res)
	})

	t.Run("inactivity inflates deviation only", func(t *testing.T) {
		res, err := c.Update(1500, 340, 0.06, nil, 30)
		require.NoError(t, err)
		assert.Equal(t, 1500.0, res.Rating)
		assert.Equal(t, 0.06, res.Volatility)
		assert.InDelta(t, math.Sqrt(340*340+30*RDIncreasePerDay), res.Deviation, 1e-9)
		assert.Greater(t, res.Deviation, 340.0)
	})

	t.Run("inactivity never pushes deviation above the ceiling", func(t *testing.T) {
		res, err := c.Update(1500, 349, 0.06, nil, 100000)
		require.NoError(t, err)
		assert.Equal(t, MaxDeviation, res.Deviation)
	})

	t.Run("deviation stays non-negative", func(t *testing.T) {
		res, err := c.Update(1500, 0, 0.06, nil, 3)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Deviation, 0.0)
	})
}

func TestUpdateDrawBetweenEqualsIsFixedPoint(t *testing.T) {
	c := mustNew(t, DefaultTau)

	res, err := c.Update(1500, 200, 0.06, []Opponent{
		{Rating: 1500, Deviation: 200, Outcome: 0.5},
	}, 0)
	require.NoError(t, err)

	assert.InDelta(t, 1500.0, res.Rating, 1e-9)
	assert.InDelta(t, 180.07828046912135, res.Deviation, 1e-6)
	assert.Less(t, res.Deviation, 200.0, "a game must not increase deviation")
}

func TestUpdateUpsetAmplifiesChange(t *testing.T) {
	c := mustNew(t, DefaultTau)

	even, err := c.Update(1500, 200, 0.06, []Opponent{
		{Rating: 1500, Deviation: 50, Outcome: 1.0},
	}, 0)
	require.NoError(t, err)

	upset, err := c.Update(1400, 200, 0.06, []Opponent{
		{Rating: 1700, Deviation: 50, Outcome: 1.0},
	}, 0)
	require.NoError(t, err)

	evenGain := even.Rating - 1500
	upsetGain := upset.Rating - 1400
	assert.Greater(t, evenGain, 0.0)
	assert.Greater(t, upsetGain, evenGain)
}

// An outcome that exactly matches the expected score moves the rating not at
// all: the surprise sum is identically zero.
func TestUpdateExactlyExpectedOutcome(t *testing.T) {
	c := mustNew(t, DefaultTau)

	p := c.WinProbability(1500, 200, 1600, 80)
	res, err := c.Update(1500, 200, 0.06, []Opponent{
		{Rating: 1600, Deviation: 80, Outcome: p},
	}, 0)
	require.NoError(t, err)

	win, err := c.Update(1500, 200, 0.06, []Opponent{
		{Rating: 1600, Deviation: 80, Outcome: 1.0},
	}, 0)
	require.NoError(t, err)

	assert.InDelta(t, 1500.0, res.Rating, 1e-9)
	assert.Greater(t, win.Rating-1500, 100.0)
}

// A single game seen from both sides: A's outcome s, B's outcome 1-s. The
// rating moves are not equal and opposite because the two deviations differ.
func TestUpdateAsymmetricSides(t *testing.T) {
	c := mustNew(t, DefaultTau)

	a, err := c.Update(1500, 350, 0.06, []Opponent{
		{Rating: 1700, Deviation: 50, Outcome: 1.0},
	}, 0)
	require.NoError(t, err)

	b, err := c.Update(1700, 50, 0.06, []Opponent{
		{Rating: 1500, Deviation: 350, Outcome: 0.0},
	}, 0)
	require.NoError(t, err)

	deltaA := a.Rating - 1500
	deltaB := b.Rating - 1700
	assert.Greater(t, deltaA, 0.0)
	assert.Less(t, deltaB, 0.0)
	assert.Greater(t, deltaA, -deltaB*10, "uncertain side must move far more than the certain side")
}

// When every expected score has saturated to 0 or 1 the batch carries no
// information: v diverges, rating and volatility hold, and deviation
// inflates by the current volatility only.
func TestUpdateSaturatedVariance(t *testing.T) {
	c := mustNew(t, DefaultTau)

	res, err := c.Update(1500, 350, 0.06, []Opponent{
		{Rating: -1e6, Deviation: 50, Outcome: 1.0},
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1500.0, res.Rating)
	assert.Equal(t, 0.06, res.Volatility)
	wantRD := math.Sqrt(350*350 + 0.06*0.06*scale*scale)
	assert.InDelta(t, wantRD, res.Deviation, 1e-9)
}

func TestUpdateInvalidInput(t *testing.T) {
	c := mustNew(t, DefaultTau)

	tests := []struct {
		name string
		run  func() (Result, error)
	}{{
		"negative deviation",
		func() (Result, error) { return c.Update(1500, -1, 0.06, nil, 0) },
	}, {
		"zero volatility",
		func() (Result, error) { return c.Update(1500, 350, 0, nil, 0) },
	}, {
		"negative volatility",
		func() (Result, error) { return c.Update(1500, 350, -0.06, nil, 0) },
	}, {
		"negative days",
		func() (Result, error) { return c.Update(1500, 350, 0.06, nil, -1) },
	}, {
		"opponent negative deviation",
		func() (Result, error) {
			return c.Update(1500, 350, 0.06, []Opponent{{Rating: 1500, Deviation: -5, Outcome: 1}}, 0)
		},
	}, {
		"outcome above one",
		func() (Result, error) {
			return c.Update(1500, 350, 0.06, []Opponent{{Rating: 1500, Deviation: 50, Outcome: 1.01}}, 0)
		},
	}, {
		"outcome below zero",
		func() (Result, error) {
			return c.Update(1500, 350, 0.06, []Opponent{{Rating: 1500, Deviation: 50, Outcome: -0.01}}, 0)
		},
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := test.run()
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestWinProbability(t *testing.T) {
	c := mustNew(t, DefaultTau)

	assert.InDelta(t, 0.24285958500108465, c.WinProbability(1500, 350, 1700, 50), 1e-9)
	assert.InDelta(t, 0.683584617255716, c.WinProbability(1700, 50, 1500, 350), 1e-9)

	t.Run("complement holds only for equal deviations", func(t *testing.T) {
		pa := c.WinProbability(1520, 140, 1480, 140)
		pb := c.WinProbability(1480, 140, 1520, 140)
		assert.InDelta(t, 1.0, pa+pb, 1e-12)

		qa := c.WinProbability(1500, 350, 1700, 50)
		qb := c.WinProbability(1700, 50, 1500, 350)
		assert.Greater(t, math.Abs(1.0-(qa+qb)), 0.01)
	})

	t.Run("equal ratings and deviations are a coin flip", func(t *testing.T) {
		assert.InDelta(t, 0.5, c.WinProbability(1500, 120, 1500, 120), 1e-12)
	})
}

func TestConfidenceInterval(t *testing.T) {
	c := mustNew(t, DefaultTau)

	tests := []struct {
		name  string
		level float64
		z     float64
	}{{
		"90 percent",
		0.90,
		1.645,
	}, {
		"95 percent",
		0.95,
		1.96,
	}, {
		"99 percent",
		0.99,
		2.576,
	}, {
		"unknown level falls back to 95 percent",
		0.80,
		1.96,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			lo, hi := c.ConfidenceInterval(1687, 150, test.level)
			assert.Equal(t, 1687-test.z*150, lo)
			assert.Equal(t, 1687+test.z*150, hi)
			assert.Equal(t, hi-1687, 1687-lo, "interval must bracket the rating symmetrically")
		})
	}

	t.Run("width scales linearly with deviation", func(t *testing.T) {
		lo1, hi1 := c.ConfidenceInterval(1500, 100, 0.95)
		lo2, hi2 := c.ConfidenceInterval(1500, 200, 0.95)
		assert.InDelta(t, 2*(hi1-lo1), hi2-lo2, 1e-9)
	})
}

func TestGetConfidence(t *testing.T) {
	c := mustNew(t, DefaultTau)

	tests := []struct {
		rd    float64
		want  Confidence
		label string
	}{
		{50, VeryConfident, "Very Confident"},
		{99.9, VeryConfident, "Very Confident"},
		{100, Confident, "Confident"},
		{199, Confident, "Confident"},
		{200, ModeratelyConfident, "Moderately Confident"},
		{299, ModeratelyConfident, "Moderately Confident"},
		{300, Uncertain, "Uncertain"},
		{350, Uncertain, "Uncertain"},
	}

	for _, test := range tests {
		got := c.GetConfidence(test.rd)
		assert.Equal(t, test.want, got, "rd=%v", test.rd)
		assert.Equal(t, test.label, got.String())
	}
}

func TestExpectedChange(t *testing.T) {
	c := mustNew(t, DefaultTau)

	win, err := c.ExpectedChange(1500, 100, 1500, 100, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 25.771219330722488, win, 1e-6)

	loss, err := c.ExpectedChange(1500, 100, 1500, 100, 0.0)
	require.NoError(t, err)
	assert.Less(t, loss, 0.0)
}
