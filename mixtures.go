package libcluster

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/pixelwise/libcluster/probutils"
)

// Config controls one fit. Zero values resolve to the documented defaults
// at construction; negative values are rejected.
type Config struct {
	// Clusters is the initial number of shared clusters (default 1).
	// With SplitMerge enabled the model order grows and shrinks from
	// there; without it K only shrinks when a cluster's mass collapses.
	Clusters int

	// Prior is the symmetric Dirichlet concentration on every group's
	// mixing weights (default 1e-5).
	Prior float64

	// Width scales the prior cluster scatter (default 1e-5).
	Width float64

	// Tolerance is the relative free-energy increase below which the
	// loop is considered converged (default 1e-5).
	Tolerance float64

	// MaxIterations caps one convergence run (default 200). Hitting the
	// cap is reported through Result.Converged, not as an error.
	MaxIterations int

	// Threads bounds the per-group worker pool (default NumCPU).
	Threads int

	// SplitMerge enables the greedy split/merge search over model order.
	SplitMerge bool

	// Sparse snaps negligible responsibilities to zero to cut
	// accumulation work on wide mixtures.
	Sparse bool

	// Verbose logs per-iteration progress to stderr.
	Verbose bool
}

// DefaultConfig returns the configuration used by the scenarios in the
// package documentation: a single seed cluster grown by split/merge.
func DefaultConfig() Config {
	return Config{
		Clusters:      1,
		Prior:         1e-5,
		Width:         1e-5,
		Tolerance:     1e-5,
		MaxIterations: 200,
		Threads:       runtime.NumCPU(),
		SplitMerge:    true,
	}
}

// Result is the final snapshot of one fit, independent of the live
// posteriors: mutating it cannot affect the fitted model and vice versa.
type Result struct {
	// Assignments holds one row-stochastic N_j x K responsibility matrix
	// per group.
	Assignments []*mat.Dense

	// Weights holds one length-K mixing weight vector per group.
	Weights [][]float64

	// Means holds K cluster mean vectors.
	Means [][]float64

	// Covariances holds K cluster covariance matrices.
	Covariances []*mat.SymDense

	// FreeEnergy is the final variational lower bound.
	FreeEnergy float64

	// Iterations is the total number of VBEM sweeps executed.
	Iterations int

	// Converged reports whether the last convergence run met the
	// tolerance before exhausting MaxIterations.
	Converged bool
}

// GMC fits grouped mixtures of Gaussians: clusters are shared across all
// observation groups while every group keeps its own mixing weights.
// Access to the fitted state is synchronized, so a fitted GMC may serve
// Predict calls concurrently.
type GMC struct {
	cfg Config
	log zerolog.Logger

	mu       sync.RWMutex
	res      *Result
	d        int
	weights  []*dirichlet
	clusters []*gaussWish
}

// NewGMC validates the configuration and returns a grouped-mixture
// clusterer. Zero-valued fields take their defaults here, once, so
// repeated fits stay independently configured.
func NewGMC(cfg Config) (*GMC, error) {
	if cfg.Clusters < 0 {
		return nil, ErrZeroClusters
	}
	if cfg.Prior < 0 {
		return nil, ErrBadPrior
	}
	if cfg.Width < 0 {
		return nil, ErrBadWidth
	}
	if cfg.Tolerance < 0 {
		return nil, ErrBadTolerance
	}
	if cfg.MaxIterations < 0 {
		return nil, ErrZeroIterations
	}

	def := DefaultConfig()
	if cfg.Clusters == 0 {
		cfg.Clusters = def.Clusters
	}
	if cfg.Prior == 0 {
		cfg.Prior = def.Prior
	}
	if cfg.Width == 0 {
		cfg.Width = def.Width
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.Threads <= 0 {
		cfg.Threads = def.Threads
	}

	return &GMC{cfg: cfg, log: newLogger(cfg.Verbose)}, nil
}

// Fit runs VBEM to convergence on the given observation groups. Each
// group is an N_j x D matrix; D must agree across groups. The groups are
// only read. Reaching the iteration cap is not an error: the best result
// so far is returned with Converged set to false.
func (g *GMC) Fit(ctx context.Context, groups []*mat.Dense) (*Result, error) {
	if len(groups) == 0 {
		return nil, ErrEmptySet
	}

	_, d := groups[0].Dims()
	for j, x := range groups {
		n, c := x.Dims()
		if n == 0 {
			return nil, fmt.Errorf("group %d: %w", j, ErrEmptySet)
		}
		if c != d {
			return nil, fmt.Errorf("group %d: %w", j, probutils.ErrDimensionMismatch)
		}
	}

	m := &model{cfg: g.cfg, log: g.log, groups: groups}
	if err := m.initialize(); err != nil {
		return nil, err
	}

	iters, converged, err := m.run(ctx, g.cfg.MaxIterations)
	if err != nil {
		return nil, err
	}

	if g.cfg.SplitMerge {
		for round := 0; round < maxRefineRounds; round++ {
			changed, err := m.refine(ctx)
			if err != nil {
				return nil, err
			}
			if !changed {
				break
			}

			it, c, err := m.run(ctx, g.cfg.MaxIterations)
			if err != nil {
				return nil, err
			}

			iters += it
			converged = c
		}
	}

	res := m.result(iters, converged)

	g.mu.Lock()
	g.res = res
	g.d = m.d
	g.weights = m.weights
	g.clusters = m.clusters
	g.mu.Unlock()

	g.log.Info().
		Int("clusters", len(m.clusters)).
		Int("iterations", iters).
		Bool("converged", converged).
		Float64("free_energy", m.free).
		Msg("fit finished")

	return res, nil
}

// Result returns the most recent fit, or ErrNotFitted before any.
func (g *GMC) Result() (*Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.res == nil {
		return nil, ErrNotFitted
	}

	return g.res, nil
}

// Predict scores a new observation against the fitted posteriors using
// the given group's weight posterior, returning its responsibility
// vector.
func (g *GMC) Predict(group int, obs []float64) ([]float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.res == nil {
		return nil, ErrNotFitted
	}
	if group < 0 || group >= len(g.weights) {
		return nil, ErrGroupIndex
	}
	if len(obs) != g.d {
		return nil, probutils.ErrDimensionMismatch
	}

	var (
		x     = mat.NewDense(1, g.d, append([]float64(nil), obs...))
		elogw = g.weights[group].elogWeight()
		logq  = mat.NewDense(1, len(g.clusters), nil)
	)

	for c, gw := range g.clusters {
		ll, err := gw.elogLike(x)
		if err != nil {
			return nil, err
		}
		logq.Set(0, c, elogw[c]+ll[0])
	}

	lse := probutils.LogSumExp(logq)

	r := make([]float64, len(g.clusters))
	for c := range r {
		r[c] = probutils.Exp(logq.At(0, c) - lse[0])
	}

	return r, nil
}

// result snapshots the model into an independent Result.
func (m *model) result(iters int, converged bool) *Result {
	res := &Result{
		Assignments: make([]*mat.Dense, len(m.groups)),
		Weights:     make([][]float64, len(m.groups)),
		Means:       make([][]float64, len(m.clusters)),
		Covariances: make([]*mat.SymDense, len(m.clusters)),
		FreeEnergy:  m.free,
		Iterations:  iters,
		Converged:   converged,
	}

	for j := range m.groups {
		res.Assignments[j] = mat.DenseCopyOf(m.qz[j])
		res.Weights[j] = m.weights[j].weights()
	}

	for c, gw := range m.clusters {
		res.Means[c] = gw.mean()
		res.Covariances[c] = gw.cov()
	}

	return res
}

func newLogger(verbose bool) zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}
