// Package testutil provides testing utilities for idb.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random texts and for computing
// search results by brute force.
//
// # Random Text Generation
//
//	rng := testutil.NewRNG(seed)
//	corpus := rng.Corpus(1000, 12) // 1000 documents of 12 words
//
// # Exact Search (Ground Truth)
//
//	ids := testutil.ExactSearch(corpus, "alpha", search.Substr)
package testutil
