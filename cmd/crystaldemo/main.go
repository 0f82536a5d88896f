// Command crystaldemo runs a fully in-process crystal-router exchange over a
// ring topology: rank r owns the shared node on its edge to rank r+1 (mod N)
// and holds a borrowed, negatively-signed copy of its edge to rank r-1. It
// runs one symmetric (Trans) exchange and one non-symmetric (NoTrans)
// exchange over that same topology and checks each against a brute-force
// in-process sum, so a single run demonstrates both variants' delivery
// rules side by side.
package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/pbauman/crystalrouter/gather"
	"github.com/pbauman/crystalrouter/internal/simulate"
	"github.com/pbauman/crystalrouter/platform/host"
	"github.com/pbauman/crystalrouter/router"
	"github.com/pbauman/crystalrouter/transport/mem"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func runTimed(f func()) time.Duration {
	start := time.Now()
	f()
	return time.Since(start)
}

// ringHalo reports the two shared nodes rank sits on in the ring: slot 0 is
// the edge to rank+1, owned (positively signed); slot 1 is the edge to
// rank-1, borrowed (negatively signed). edgeId maps an edge index to its
// global base identity.
type ringHalo struct {
	rank, size int
}

func edgeId(edge int) int { return 1000 + edge }

func (h ringHalo) NHalo() int  { return 2 }
func (h ringHalo) NHaloP() int { return 1 }
func (h ringHalo) BaseId(n int) int {
	if n == 0 {
		return edgeId(h.rank)
	}
	return -edgeId((h.rank - 1 + h.size) % h.size)
}

// ringShared returns, for rank, the SharedNode entries describing its two
// ring neighbors' participation in rank's own two edges.
func ringShared(rank, size int) []router.SharedNode {
	next := (rank + 1) % size
	prev := (rank - 1 + size) % size
	return []router.SharedNode{
		// next holds slot 0's edge as a borrowed, negatively-signed copy.
		{Rank: next, BaseId: -edgeId(rank), NewId: 0},
		// prev owns slot 1's edge, positively signed.
		{Rank: prev, BaseId: edgeId(prev), NewId: 1},
	}
}

func main() {
	l := log.New(os.Stderr, "", 0)

	// $go run . arg1
	// arg1: number of ranks

	size := 8 // Default number of ranks
	var err error
	if len(os.Args[1:]) >= 1 {
		size, err = strconv.Atoi(os.Args[1])
		check(err)
	}
	if size < 2 {
		l.Fatal("crystaldemo: need at least 2 ranks for a ring")
	}

	// buildRouters wires up a fresh ring topology over a fresh fabric: each
	// exchange below gets its own Router/pool pair, so nothing from one run
	// can leak into the next through a reused buffer.
	buildRouters := func() []*router.Router {
		fabric := mem.NewFabric(size)
		routers := make([]*router.Router, size)
		check(simulate.RunRanks(size, func(rank int) error {
			halo := ringHalo{rank: rank, size: size}
			topo, err := router.NewTopology(context.Background(), fabric.Endpoint(rank), halo, ringShared(rank, size))
			if err != nil {
				return err
			}
			routers[rank] = router.New(topo, fabric.Endpoint(rank), host.New())
			return nil
		}))
		return routers
	}

	// Each edge's sole contributor is its owning rank; the borrowed slot
	// starts at zero so the brute-force total per edge is just the owner's
	// contribution.
	input := func() [][]float64 {
		halos := make([][]float64, size)
		for r := 0; r < size; r++ {
			halos[r] = []float64{float64(r + 1), 0}
		}
		return halos
	}
	expectedEdge := func(owner int) float64 { return float64(owner + 1) }

	run := func(name string, trans router.TransposeMode) [][]float64 {
		l.Printf("> Setup phase (%s)\n", name)
		var routers []*router.Router
		elapsedSetup := runTimed(func() { routers = buildRouters() })
		l.Printf("\tdone (%s)\n", elapsedSetup)

		halos := input()
		l.Printf("> Exchange phase (%s)\n", name)
		elapsed := runTimed(func() {
			check(simulate.RunRanks(size, func(rank int) error {
				if err := router.Start(routers[rank], 1, trans, true, halos[rank]); err != nil {
					return err
				}
				return router.Finish(context.Background(), routers[rank], 1, gather.Add, trans, true, halos[rank])
			}))
		})
		l.Printf("\tdone (%s)\n", elapsed)
		return halos
	}

	transHalos := run("Trans", router.Trans)
	for r := 0; r < size; r++ {
		next := (r + 1) % size
		want := expectedEdge(r)
		if transHalos[r][0] != want || transHalos[next][1] != want {
			l.Printf("\tedge %d: owner got %v, borrower got %v, want %v\n", r, transHalos[r][0], transHalos[next][1], want)
			l.Println("\tincorrect")
			os.Exit(1)
		}
	}
	l.Println("\tTrans: every owner and its borrower agree on the edge sum")

	noTransHalos := run("NoTrans", router.NoTrans)
	for r := 0; r < size; r++ {
		next := (r + 1) % size
		want := expectedEdge(r)
		if noTransHalos[r][0] != want {
			l.Printf("\tedge %d: owner got %v, want %v\n", r, noTransHalos[r][0], want)
			l.Println("\tincorrect")
			os.Exit(1)
		}
		if noTransHalos[next][1] != 0 {
			l.Printf("\tedge %d: borrower got %v, want untouched input 0\n", r, noTransHalos[next][1])
			l.Println("\tincorrect")
			os.Exit(1)
		}
	}
	l.Println("\tNoTrans: only owners received the edge sum, borrowers kept their input")
	l.Println("\tcorrect")
}
