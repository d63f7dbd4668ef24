package kernel

import "github.com/aristath/montecarlo-stress/internal/seeding"

// permute returns a Fisher-Yates shuffle of the identity sequence [0, n).
func permute(rng *seeding.PCG32, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// blockPermute partitions the identity sequence [0, n) into blockLen-sized
// contiguous runs (the final block may be shorter) and permutes the order of
// whole blocks, preserving the trade order within each block. This keeps
// local trade-to-trade correlation intact while still stressing the
// sequence-dependent metrics (drawdown path, worst month) against reordering.
func blockPermute(rng *seeding.PCG32, n, blockLen int) []int {
	if blockLen <= 0 {
		blockLen = n
	}
	var blocks [][]int
	for start := 0; start < n; start += blockLen {
		end := start + blockLen
		if end > n {
			end = n
		}
		block := make([]int, end-start)
		for i := range block {
			block[i] = start + i
		}
		blocks = append(blocks, block)
	}

	blockOrder := permute(rng, len(blocks))

	order := make([]int, 0, n)
	for _, bi := range blockOrder {
		order = append(order, blocks[bi]...)
	}
	return order
}
