// Package libcluster fits variational-Bayes mixtures of Gaussians to
// several related datasets at once. Clusters (Gaussian-Wishart
// posteriors over mean and precision) are shared across all groups,
// while every group keeps its own symmetric-Dirichlet posterior over
// mixing weights, so the same population of clusters can appear with
// different proportions in each dataset.
//
// A fit iterates expectation and maximization steps until the
// variational free-energy bound stops improving, optionally growing and
// shrinking the number of clusters through greedy split/merge proposals
// judged by the same bound:
//
//	gmc, err := libcluster.NewGMC(libcluster.DefaultConfig())
//	if err != nil {
//		...
//	}
//	res, err := gmc.Fit(ctx, groups)
//
// The numerical primitives backing the engine live in the probutils
// subpackage.
package libcluster
