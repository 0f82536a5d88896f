// Package gather implements the compressed sparse-row gather-reduce kernel
// used by the crystal router to fold received contributions into a rank's
// extended halo buffer.
//
// An [Operator] is a CSR descriptor: row i reads its columns from
// RowStarts[i]:RowStarts[i+1] in ColIds, and [Gather] sums (or mins, maxes,
// multiplies) the k-wide blocks at those column positions into row i of the
// destination.
package gather

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Op is the reduction operator applied across the columns of a row.
type Op int

const (
	Add Op = iota
	Min
	Max
	Mul
)

func (o Op) String() string {
	switch o {
	case Add:
		return "Add"
	case Min:
		return "Min"
	case Max:
		return "Max"
	case Mul:
		return "Mul"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Number is the set of element types the gather kernel can reduce.
type Number interface {
	constraints.Integer | constraints.Float
}

// Operator is an owned, by-value CSR descriptor. Rows correspond to extended
// halo slots, columns to positions in a round's receive layout.
//
// The zero value is an operator with zero rows; use [Builder] to construct
// one incrementally, the way the setup engine does, one row per base-id
// group.
type Operator struct {
	// Ncols is the number of valid column positions this operator may
	// reference (levels[l].recvOffset + Nrecv0 + Nrecv1). It is not always
	// derivable from ColIds since a round can allocate columns that no row
	// references.
	Ncols int

	// RowStarts has len(RowStarts) == Nrows()+1.
	RowStarts []int
	ColIds    []int
}

// NewOperator returns an empty operator with a single implicit row boundary
// at 0, ready for [Builder] to append rows to.
func NewOperator() *Operator {
	return &Operator{RowStarts: []int{0}}
}

// Nrows returns the number of rows described by the receiver.
func (o *Operator) Nrows() int {
	if len(o.RowStarts) == 0 {
		return 0
	}
	return len(o.RowStarts) - 1
}

// Equal performs a deep, order-sensitive equality check against other.
func (o *Operator) Equal(other *Operator) bool {
	if o.Ncols != other.Ncols {
		return false
	}
	if len(o.RowStarts) != len(other.RowStarts) || len(o.ColIds) != len(other.ColIds) {
		return false
	}
	for i := range o.RowStarts {
		if o.RowStarts[i] != other.RowStarts[i] {
			return false
		}
	}
	for i := range o.ColIds {
		if o.ColIds[i] != other.ColIds[i] {
			return false
		}
	}
	return true
}

// Builder appends rows to an [Operator] one at a time, the shape the setup
// engine naturally produces: it discovers the columns feeding a given
// extended-halo row while scanning base-id groups, then moves to the next
// row.
type Builder struct {
	op *Operator
}

// NewBuilder starts building rows onto op (which should usually be the
// result of [NewOperator]).
func NewBuilder(op *Operator) *Builder {
	return &Builder{op: op}
}

// AddCol appends a column to the row currently being built.
func (b *Builder) AddCol(col int) {
	b.op.ColIds = append(b.op.ColIds, col)
}

// EndRow closes the row currently being built and starts the next one.
func (b *Builder) EndRow() {
	b.op.RowStarts = append(b.op.RowStarts, len(b.op.ColIds))
}

// Operator returns the operator under construction.
func (b *Builder) Operator() *Operator {
	return b.op
}

// Gather reduces k-wide column blocks of src into the k-wide row blocks of
// dst, for every row of op, using redOp as the reduction.
//
// dst must have room for at least op.Nrows()*k elements; src must have at
// least op.Ncols*k. Gather panics if a column id in op is out of range for
// src, the way a CSR operator panics on undersized buffers rather than
// returning an error for a contract violation.
func Gather[T Number](op *Operator, dst, src []T, k int, redOp Op) {
	if len(dst) < op.Nrows()*k {
		panic(fmt.Errorf("gather: dst too small: have %d, need %d", len(dst), op.Nrows()*k))
	}
	if len(src) < op.Ncols*k {
		panic(fmt.Errorf("gather: src too small: have %d, need %d", len(src), op.Ncols*k))
	}

	for row := 0; row < op.Nrows(); row++ {
		cols := op.ColIds[op.RowStarts[row]:op.RowStarts[row+1]]
		dstRow := dst[row*k : row*k+k]

		if len(cols) == 0 {
			continue
		}

		copy(dstRow, src[cols[0]*k:cols[0]*k+k])
		for _, c := range cols[1:] {
			srcRow := src[c*k : c*k+k]
			for j := 0; j < k; j++ {
				dstRow[j] = reduce(redOp, dstRow[j], srcRow[j])
			}
		}
	}
}

func reduce[T Number](op Op, a, b T) T {
	switch op {
	case Add:
		return a + b
	case Mul:
		return a * b
	case Min:
		if b < a {
			return b
		}
		return a
	case Max:
		if b > a {
			return b
		}
		return a
	default:
		panic(fmt.Errorf("gather: unsupported op %v", op))
	}
}
