package router

// FoldStep describes one round of the hypercube recursion for a given rank
// and sub-cube.
type FoldStep struct {
	// Lo reports which half of the current sub-cube this rank falls into.
	Lo bool

	// Partner is the rank to send the departing half to, and (when Nmsg is
	// 1 or 2) the rank the primary receive comes from.
	Partner int

	// SecondaryPartner is only meaningful when Nmsg == 2: the redirected
	// middle rank of an odd sub-cube, whose message arrives in addition to
	// Partner's.
	SecondaryPartner int

	// Nmsg is 0 (send only, the redirected middle rank of an odd sub-cube),
	// 1 (the ordinary case), or 2 (the receiving end of an odd sub-cube,
	// which hears from both Partner and SecondaryPartner).
	Nmsg int

	// npOffset, np describe the sub-cube this round operated on, and rHalf,
	// npHalf are the values used to split it; next uses them to compute
	// the next round's sub-cube.
	npOffset, np, npHalf, rHalf int
}

// fold computes the fold step for rank r within the sub-range
// [npOffset, npOffset+np).
func fold(r, npOffset, np int) FoldStep {
	npHalf := (np + 1) / 2
	rHalf := npOffset + npHalf
	lo := r < rHalf

	partner := np - 1 - (r - npOffset) + npOffset
	step := FoldStep{
		Lo:       lo,
		Partner:  partner,
		Nmsg:     1,
		npOffset: npOffset,
		np:       np,
		npHalf:   npHalf,
		rHalf:    rHalf,
	}

	if np%2 == 1 {
		switch r {
		case rHalf - 1:
			// Self-paired middle rank: redirected to pair with rHalf, send only.
			step.Partner = rHalf
			step.Nmsg = 0
		case rHalf:
			// Receives from its reflected partner and from the redirected middle rank.
			step.Nmsg = 2
			step.SecondaryPartner = rHalf - 1
		}
	}

	return step
}

// next returns the sub-cube [npOffset, npOffset+np) this rank continues into
// for the following round, given it is known to fall in step's half.
func (step FoldStep) next() (npOffset, np int) {
	if step.Lo {
		return step.npOffset, step.npHalf
	}
	return step.rHalf, step.np - step.npHalf
}

// foldSequence runs the hypercube recursion for rank r among size ranks,
// returning one FoldStep per communication round. len(result) == Nlevels.
func foldSequence(r, size int) []FoldStep {
	if size <= 1 {
		return nil
	}

	var steps []FoldStep
	npOffset, np := 0, size
	for np > 1 {
		s := fold(r, npOffset, np)
		steps = append(steps, s)
		npOffset, np = s.next()
	}
	return steps
}
