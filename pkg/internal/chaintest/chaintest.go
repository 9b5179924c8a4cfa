// Package chaintest builds small chains and relays for tests.
package chaintest

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/reqsat"
	"github.com/odvcencio/twine/pkg/twist"
)

// Chain is a single-writer chain whose every twist requires the next to be
// signed by Signer.
type Chain struct {
	tb     testing.TB
	Signer reqsat.Signer
	Tip    *twist.Twist
	n      int
}

// NewChain starts a chain with a fresh Ed25519 signer.
func NewChain(tb testing.TB) *Chain {
	tb.Helper()
	s, err := reqsat.GenerateEd25519(rand.Reader)
	if err != nil {
		tb.Fatalf("GenerateEd25519: %v", err)
	}
	return NewChainWithSigner(tb, s)
}

// NewChainWithSigner starts a chain whose genesis requires s.
func NewChainWithSigner(tb testing.TB, s reqsat.Signer) *Chain {
	tb.Helper()
	c := &Chain{tb: tb, Signer: s}
	b := twist.NewBuilder(object.SHA256).SetNote("genesis")
	reqsat.Require(b, s)
	c.Tip = c.freeze(b)
	return c
}

func (c *Chain) freeze(b *twist.Builder) *twist.Twist {
	c.tb.Helper()
	t, err := b.Twist()
	if err != nil {
		c.tb.Fatalf("freeze twist: %v", err)
	}
	return t
}

// Builder returns a satisfied-later successor builder carrying the signer's
// requirement forward.
func (c *Chain) Builder() *twist.Builder {
	c.n++
	b := c.Tip.CreateSuccessor().SetNote(fmt.Sprintf("twist %d", c.n))
	reqsat.Require(b, c.Signer)
	return b
}

// Commit satisfies and freezes b, making it the new tip.
func (c *Chain) Commit(b *twist.Builder) *twist.Twist {
	c.tb.Helper()
	if err := reqsat.Satisfy(b, c.Signer); err != nil {
		c.tb.Fatalf("Satisfy: %v", err)
	}
	c.Tip = c.freeze(b)
	return c.Tip
}

// Loose appends an untethered twist.
func (c *Chain) Loose() *twist.Twist {
	return c.Commit(c.Builder())
}

// Fast appends a twist tethered to relay twist tether, with a fresh shield.
func (c *Chain) Fast(tether *twist.Twist) *twist.Twist {
	b := c.Builder().SetTether(tether.Hash()).SetShield([]byte(fmt.Sprintf("shield %d", c.n)))
	b.AddAtoms(tether.Atoms())
	return c.Commit(b)
}

// Relay is a chain that also records hoists and posts.
type Relay struct {
	*Chain
}

func NewRelay(tb testing.TB) *Relay {
	return &Relay{Chain: NewChain(tb)}
}

// Rig appends a loose relay twist carrying the given rigging.
func (r *Relay) Rig(rigging map[object.Hash]object.Hash) *twist.Twist {
	return r.Commit(r.Builder().SetRigging(rigging))
}

// Hoist appends a relay twist committing to lead.
func (r *Relay) Hoist(lead *twist.Twist) *twist.Twist {
	r.tb.Helper()
	k, v, err := twist.HoistRig(lead)
	if err != nil {
		r.tb.Fatalf("HoistRig: %v", err)
	}
	return r.Rig(map[object.Hash]object.Hash{k: v})
}

// Post appends a relay twist confirming in clear that hoist recorded lead.
func (r *Relay) Post(lead, hoist *twist.Twist) *twist.Twist {
	k, v := twist.PostRig(lead.Hash(), hoist.Hash())
	return r.Rig(map[object.Hash]object.Hash{k: v})
}

// Line merges the atoms of every twist into one line.
func Line(tb testing.TB, tips ...*twist.Twist) *twist.Line {
	tb.Helper()
	l := twist.NewLine()
	for _, t := range tips {
		if err := l.Add(t.Atoms()); err != nil {
			tb.Fatalf("Line.Add(%s): %v", t, err)
		}
	}
	return l
}
