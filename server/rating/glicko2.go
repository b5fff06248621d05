// Package rating implements the Glicko-2 pairwise-comparison rating system
// (http://www.glicko.net/glicko/glicko2.pdf).
//
// The calculator is stateless: it takes a subject's current
// rating/deviation/volatility plus a batch of opponent outcomes and returns
// the updated triple. All values cross the API on the public "display" scale
// (ratings centered at 1500, deviations 0–350); the internal mu/phi scale is
// never exposed. One calculator may be shared freely across goroutines, but
// updates for a single subject must be applied in the order their
// comparisons happened.
package rating

import (
	"errors"
	"fmt"
	"math"
)

// Standard starting values for a subject that has never been compared.
const (
	InitialRating     = 1500.0
	InitialDeviation  = 350.0
	InitialVolatility = 0.06

	// DefaultTau is a good fit for most systems; lower values keep
	// volatility more stable, higher values let it adapt faster.
	DefaultTau = 0.5

	// MaxDeviation is the "completely uncertain" ceiling. Inactivity decay
	// never inflates a deviation past it.
	MaxDeviation = 350.0

	// RDIncreasePerDay feeds the inactivity decay:
	// rd' = sqrt(rd^2 + days*RDIncreasePerDay).
	RDIncreasePerDay = 0.5
)

const (
	scale         = 173.7178 // conversion between display and mu/phi scale
	epsilon       = 1e-6     // convergence tolerance for the volatility solve
	maxIterations = 100
	minTau        = 0.2
	maxTau        = 1.5
)

// ErrInvalidInput reports a precondition violation (negative deviation,
// non-positive volatility, outcome outside [0,1], negative day count).
var ErrInvalidInput = errors.New("rating: invalid input")

// ErrNoConvergence reports that the volatility root-find exceeded its
// iteration cap. It does not happen for well-formed inputs.
var ErrNoConvergence = errors.New("rating: volatility solve did not converge")

// Result is an updated rating triple on the display scale.
type Result struct {
	Rating     float64
	Deviation  float64
	Volatility float64
}

// Opponent is one comparison from the subject's perspective. Outcome is a
// continuous score in [0,1]: 1 = win, 0 = loss, 0.5 = draw, and intermediate
// values (e.g. 0.75 for a slight win) are treated as-is, not rounded.
type Opponent struct {
	Rating    float64
	Deviation float64
	Outcome   float64
}

// Confidence buckets a deviation into a human-readable certainty level.
type Confidence int

const (
	VeryConfident Confidence = iota
	Confident
	ModeratelyConfident
	Uncertain
)

func (c Confidence) String() string {
	switch c {
	case VeryConfident:
		return "Very Confident"
	case Confident:
		return "Confident"
	case ModeratelyConfident:
		return "Moderately Confident"
	default:
		return "Uncertain"
	}
}

// Calculator is a Glicko-2 calculator with a fixed system constant tau.
// It holds no mutable state.
type Calculator struct {
	tau float64
}

// New returns a calculator for the given tau. tau bounds how quickly
// volatility can move per rating period and must lie in [0.2, 1.5].
func New(tau float64) (*Calculator, error) {
	if tau < minTau || tau > maxTau {
		return nil, fmt.Errorf("rating: tau must be between %v and %v, got %v", minTau, maxTau, tau)
	}
	return &Calculator{tau: tau}, nil
}

// Tau reports the system constant the calculator was built with.
func (c *Calculator) Tau() float64 { return c.tau }

// --- display <-> mu/phi scale ---

func toMuPhi(r, rd float64) (mu, phi float64) { return (r - 1500.0) / scale, rd / scale }

func fromMuPhi(mu, phi float64) (r, rd float64) { return mu*scale + 1500.0, phi * scale }

// g discounts an opponent's influence by that opponent's own uncertainty.
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/(math.Pi*math.Pi))
}

// expected is E(mu, muJ, phiJ): the logistic win probability of mu over muJ,
// discounted by the opponent's deviation only.
func expected(mu, muJ, phiJ float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phiJ)*(mu-muJ)))
}

// Update applies one rating period: inactivity decay, then the full
// Glicko-2 update over the batch of opponents. With an empty batch only the
// decay applies; rating and volatility never move without data.
//
// daysSinceLast is the elapsed time since the subject's previous comparison
// and inflates deviation (capped at MaxDeviation) before anything else.
func (c *Calculator) Update(rating, rd, vol float64, opponents []Opponent, daysSinceLast float64) (Result, error) {
	switch {
	case rd < 0:
		return Result{}, fmt.Errorf("%w: deviation %v is negative", ErrInvalidInput, rd)
	case vol <= 0:
		return Result{}, fmt.Errorf("%w: volatility %v is not positive", ErrInvalidInput, vol)
	case daysSinceLast < 0:
		return Result{}, fmt.Errorf("%w: daysSinceLast %v is negative", ErrInvalidInput, daysSinceLast)
	}
	for i, o := range opponents {
		if o.Deviation < 0 {
			return Result{}, fmt.Errorf("%w: opponent %d deviation %v is negative", ErrInvalidInput, i, o.Deviation)
		}
		if o.Outcome < 0 || o.Outcome > 1 {
			return Result{}, fmt.Errorf("%w: opponent %d outcome %v outside [0,1]", ErrInvalidInput, i, o.Outcome)
		}
	}

	if daysSinceLast > 0 {
		rd = math.Min(MaxDeviation, math.Sqrt(rd*rd+daysSinceLast*RDIncreasePerDay))
	}
	if len(opponents) == 0 {
		return Result{Rating: rating, Deviation: rd, Volatility: vol}, nil
	}

	mu, phi := toMuPhi(rating, rd)

	// Paper steps 3/4: v from sum of g^2*E*(1-E), delta from sum of g*(s-E).
	var sumG2E, sumGSE float64
	for _, o := range opponents {
		muJ, phiJ := toMuPhi(o.Rating, o.Deviation)
		gJ := g(phiJ)
		eJ := expected(mu, muJ, phiJ)
		sumG2E += gJ * gJ * eJ * (1.0 - eJ)
		sumGSE += gJ * (o.Outcome - eJ)
	}

	if sumG2E <= 0 {
		// v -> +Inf: the batch carries no Fisher information (every E has
		// saturated to 0 or 1). Nothing can be learned, so freeze rating
		// and volatility; deviation still inflates to phi*.
		phiStar := math.Sqrt(phi*phi + vol*vol)
		r, d := fromMuPhi(mu, phiStar)
		return Result{Rating: r, Deviation: d, Volatility: vol}, nil
	}
	v := 1.0 / sumG2E
	delta := v * sumGSE

	sigma, err := c.solveVolatility(phi, vol, v, delta)
	if err != nil {
		return Result{}, err
	}

	phiStar := math.Sqrt(phi*phi + sigma*sigma)
	phiNew := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muNew := mu + phiNew*phiNew*sumGSE

	r, d := fromMuPhi(muNew, phiNew)
	return Result{Rating: r, Deviation: d, Volatility: sigma}, nil
}

// solveVolatility finds the new volatility as the root of the paper's f(x)
// using the Illinois algorithm: regula falsi with the half-fA correction
// that stops the retained endpoint from stalling. Solver state lives on the
// stack so the calculator stays reentrant.
func (c *Calculator) solveVolatility(phi, sigma, v, delta float64) (float64, error) {
	a := math.Log(sigma * sigma)
	tau2 := c.tau * c.tau
	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phi*phi - v - ex)
		den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
		return num/den - (x-a)/tau2
	}

	// Bracket the root: A at the current log-volatility, B below (or at
	// ln(delta^2-phi^2-v) when that is positive).
	A := a
	var B float64
	if delta*delta > phi*phi+v {
		B = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(a-k*c.tau) < 0 {
			k++
			if k > maxIterations {
				return 0, ErrNoConvergence
			}
		}
		B = a - k*c.tau
	}

	fA, fB := f(A), f(B)
	for i := 0; math.Abs(B-A) > epsilon; i++ {
		if i >= maxIterations {
			return 0, ErrNoConvergence
		}
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if math.IsNaN(fC) || math.IsInf(fC, 0) {
			return 0, ErrNoConvergence
		}
		if fC*fB < 0 {
			A, fA = B, fB
		} else {
			fA /= 2.0
		}
		B, fB = C, fC
	}
	return math.Exp(A / 2.0), nil
}

// WinProbability returns the probability that A outscores B. Per the
// Glicko-2 expected-score formula this conditions on B's deviation only, so
// WinProbability(a, b) == 1 - WinProbability(b, a) holds exactly only when
// both deviations are equal.
func (c *Calculator) WinProbability(ratingA, rdA, ratingB, rdB float64) float64 {
	muA, _ := toMuPhi(ratingA, rdA)
	muB, phiB := toMuPhi(ratingB, rdB)
	return expected(muA, muB, phiB)
}

// ConfidenceInterval returns the symmetric interval around rating for a
// confidence level of 0.90, 0.95, or 0.99. Any other level falls back to
// the 95% z-score.
func (c *Calculator) ConfidenceInterval(rating, rd, level float64) (lower, upper float64) {
	z := 1.96
	switch level {
	case 0.90:
		z = 1.645
	case 0.99:
		z = 2.576
	}
	margin := z * rd
	return rating - margin, rating + margin
}

// GetConfidence buckets a deviation: <100 very confident, <200 confident,
// <300 moderately confident, otherwise uncertain.
func (c *Calculator) GetConfidence(rd float64) Confidence {
	switch {
	case rd < 100:
		return VeryConfident
	case rd < 200:
		return Confident
	case rd < 300:
		return ModeratelyConfident
	default:
		return Uncertain
	}
}

// ExpectedChange estimates the rating delta a single game with the given
// outcome would produce, assuming the default volatility. Useful for
// showing impact before a choice is made.
func (c *Calculator) ExpectedChange(rating, rd, oppRating, oppRD, outcome float64) (float64, error) {
	res, err := c.Update(rating, rd, InitialVolatility, []Opponent{
		{Rating: oppRating, Deviation: oppRD, Outcome: outcome},
	}, 0)
	if err != nil {
		return 0, err
	}
	return res.Rating - rating, nil
}
