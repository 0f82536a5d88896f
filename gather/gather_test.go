package gather

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGatherAdd(t *testing.T) {
	// Two rows: row 0 sums columns {0, 2}, row 1 just forwards column 1.
	op := NewOperator()
	b := NewBuilder(op)
	b.AddCol(0)
	b.AddCol(2)
	b.EndRow()
	b.AddCol(1)
	b.EndRow()
	op.Ncols = 3

	src := []float64{1, 2, 10, 20, 3, 30}
	dst := make([]float64, 2*2)

	Gather(op, dst, src, 2, Add)

	require.Equal(t, []float64{1 + 3, 2 + 30, 10, 20}, dst)
}

func TestGatherMinMax(t *testing.T) {
	op := NewOperator()
	b := NewBuilder(op)
	b.AddCol(0)
	b.AddCol(1)
	b.AddCol(2)
	b.EndRow()
	op.Ncols = 3

	src := []int32{5, -1, 3}
	dstMin := make([]int32, 1)
	dstMax := make([]int32, 1)

	Gather(op, dstMin, src, 1, Min)
	Gather(op, dstMax, src, 1, Max)

	require.Equal(t, []int32{-1}, dstMin)
	require.Equal(t, []int32{5}, dstMax)
}

func TestGatherEmptyRowLeavesRowUntouched(t *testing.T) {
	op := NewOperator()
	b := NewBuilder(op)
	b.EndRow() // row 0 has no columns
	op.Ncols = 0

	dst := []float64{42}
	Gather[float64](op, dst, nil, 1, Add)
	require.Equal(t, []float64{42}, dst)
}

func TestOperatorEqual(t *testing.T) {
	a := NewOperator()
	ba := NewBuilder(a)
	ba.AddCol(0)
	ba.EndRow()
	a.Ncols = 1

	c := NewOperator()
	bc := NewBuilder(c)
	bc.AddCol(0)
	bc.EndRow()
	c.Ncols = 1

	require.True(t, a.Equal(c))

	bc.AddCol(1)
	bc.EndRow()
	c.Ncols = 2
	require.False(t, a.Equal(c))
}

func TestOpString(t *testing.T) {
	require.Equal(t, "Add", Add.String())
	require.Equal(t, "Min", Min.String())
	require.Equal(t, "Max", Max.String())
	require.Equal(t, "Mul", Mul.String())
}
