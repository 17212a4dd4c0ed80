// Package predict produces a next-value estimate of pm2.5 from a rolling
// window of recent readings.
package predict

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the number of readings fed to a predictor.
const DefaultWindow = 10

// ErrInsufficientHistory is returned when fewer values than Window() are given.
var ErrInsufficientHistory = errors.New("insufficient history for prediction")

// Predictor estimates the next pm2.5 value from the last Window() values,
// oldest first.
type Predictor interface {
	Window() int
	Predict(ctx context.Context, recent []float64) (float64, error)
}

// New returns the named predictor, or nil for "none" and "".
func New(name string, window int) (Predictor, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	switch name {
	case "", "none":
		return nil, nil
	case "trend":
		return Trend{N: window}, nil
	case "mean":
		return Mean{N: window}, nil
	default:
		return nil, fmt.Errorf("unknown predictor %q", name)
	}
}

// Trend fits a least-squares line through the window and extrapolates it
// one step ahead. The result is clamped at zero.
type Trend struct {
	N int
}

func (t Trend) Window() int { return t.N }

func (t Trend) Predict(ctx context.Context, recent []float64) (float64, error) {
	ys, err := tail(ctx, recent, t.N)
	if err != nil {
		return 0, err
	}
	if len(ys) == 1 {
		return ys[0], nil
	}
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	next := alpha + beta*float64(len(ys))
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return 0, fmt.Errorf("trend: non-finite estimate")
	}
	return math.Max(0, next), nil
}

// Mean predicts the average of the window.
type Mean struct {
	N int
}

func (m Mean) Window() int { return m.N }

func (m Mean) Predict(ctx context.Context, recent []float64) (float64, error) {
	ys, err := tail(ctx, recent, m.N)
	if err != nil {
		return 0, err
	}
	return stat.Mean(ys, nil), nil
}

func tail(ctx context.Context, recent []float64, n int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultWindow
	}
	if len(recent) < n {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientHistory, len(recent), n)
	}
	return recent[len(recent)-n:], nil
}
