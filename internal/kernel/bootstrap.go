package kernel

import "github.com/aristath/montecarlo-stress/internal/seeding"

// tradeBootstrap draws n indices uniformly with replacement from [0, n),
// i.i.d. resampling the executed-trade sequence. Duplicates are expected and
// counted as distinct occurrences downstream.
func tradeBootstrap(rng *seeding.PCG32, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = rng.IntN(n)
	}
	return order
}

// blockBootstrap draws consecutive runs of blockLen indices (wrapping is not
// used; each run starts at a uniformly drawn offset in [0, n-blockLen]) with
// replacement, concatenating runs until at least n indices are collected,
// then truncates to exactly n so the resampled sequence is the same length
// as the executed-trade sequence it replaces.
func blockBootstrap(rng *seeding.PCG32, n, blockLen int) []int {
	if blockLen <= 0 || blockLen > n {
		blockLen = n
	}
	order := make([]int, 0, n+blockLen)
	for len(order) < n {
		maxStart := n - blockLen
		start := 0
		if maxStart > 0 {
			start = rng.IntN(maxStart + 1)
		}
		for i := 0; i < blockLen; i++ {
			order = append(order, start+i)
		}
	}
	return order[:n]
}
