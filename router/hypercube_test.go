package router

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFoldPairingConsistency(t *testing.T) {
	for _, size := range []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 16, 17} {
		t.Run(fmt.Sprintf("P=%d", size), func(t *testing.T) {
			verifyRound(t, 0, size)
		})
	}
}

// verifyRound checks that fold() produces mutually-consistent pairings for
// every rank in [npOffset, npOffset+np), then recurses into the two
// sub-cubes the round splits into, mirroring the recursion foldSequence
// drives for each rank individually.
func verifyRound(t *testing.T, npOffset, np int) {
	t.Helper()
	if np <= 1 {
		return
	}

	steps := make(map[int]FoldStep, np)
	for r := npOffset; r < npOffset+np; r++ {
		steps[r] = fold(r, npOffset, np)
	}

	for r, s := range steps {
		switch s.Nmsg {
		case 1:
			partner := steps[s.Partner]
			require.Contains(t, []int{1, 2}, partner.Nmsg, "rank %d (Nmsg=1) partner %d should be Nmsg=1 or Nmsg=2", r, s.Partner)
			require.Equal(t, r, partner.Partner, "rank %d and partner %d should be mutual", r, s.Partner)
		case 0:
			partner := steps[s.Partner]
			require.Equal(t, 2, partner.Nmsg, "rank %d (Nmsg=0, send-only) partner %d should be Nmsg=2", r, s.Partner)
			require.Equal(t, r, partner.SecondaryPartner)
		case 2:
			primary := steps[s.Partner]
			require.Equal(t, 1, primary.Nmsg)
			require.Equal(t, r, primary.Partner)
			secondary := steps[s.SecondaryPartner]
			require.Equal(t, 0, secondary.Nmsg)
			require.Equal(t, r, secondary.Partner)
		default:
			t.Fatalf("rank %d: unexpected Nmsg %d", r, s.Nmsg)
		}
	}

	npHalf := (np + 1) / 2
	rHalf := npOffset + npHalf
	verifyRound(t, npOffset, npHalf)
	if np-npHalf > 0 {
		verifyRound(t, rHalf, np-npHalf)
	}
}

func TestRoundCountLawPowerOfTwo(t *testing.T) {
	for lp := 0; lp <= 6; lp++ {
		size := 1 << lp
		for r := 0; r < size; r++ {
			steps := foldSequence(r, size)
			require.Equal(t, lp, len(steps), "size=%d rank=%d", size, r)
		}
	}
}

func TestRoundCountAtMostCeilLog2PlusOne(t *testing.T) {
	ceilLog2 := func(n int) int {
		l := 0
		for (1 << l) < n {
			l++
		}
		return l
	}
	for size := 1; size <= 64; size++ {
		bound := ceilLog2(size) + 1
		for r := 0; r < size; r++ {
			steps := foldSequence(r, size)
			require.LessOrEqual(t, len(steps), bound, "size=%d rank=%d", size, r)
		}
	}
}

func TestP1NoLevels(t *testing.T) {
	require.Empty(t, foldSequence(0, 1))
}

func TestP3OddParityLevelCounts(t *testing.T) {
	// Odd-sized communicator: ranks 0 and 1 take two rounds, rank 2's
	// sub-cube collapses after one.
	require.Len(t, foldSequence(0, 3), 2)
	require.Len(t, foldSequence(1, 3), 2)
	require.Len(t, foldSequence(2, 3), 1)
}
