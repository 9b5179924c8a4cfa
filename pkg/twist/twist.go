// Package twist implements hash-linked chain links ("twists") over a
// content-addressed atom set, the builder that produces successors, and the
// Line index used to navigate chains.
package twist

import (
	"fmt"

	"github.com/odvcencio/twine/pkg/object"
)

// Well-known packet layout of a twist:
//
//	record  = TwistRecord{body, sats}
//	body    = TwistBody{prev, tether, shield, reqs, rigging, cargo}
//	reqs    = PairTrie{type symbol -> requirement packet hash}
//	sats    = PairTrie{type symbol -> satisfaction packet hash}
//	rigging = PairTrie{commitment key -> commitment value}
//
// A twist's identity is the hash of its record packet.

// Twist is one immutable link in a chain.
type Twist struct {
	hash    object.Hash
	atoms   *object.Atoms
	record  object.TwistRecord
	body    object.TwistBody
	reqs    *object.PairTrie
	sats    *object.PairTrie
	rigging *object.PairTrie
}

// FromAtoms reads the twist whose record is stored under h.
func FromAtoms(atoms *object.Atoms, h object.Hash) (*Twist, error) {
	p, ok := atoms.Get(h)
	if !ok {
		return nil, object.MissingError(object.MissingHashPacket, h, "twist record not in atoms")
	}
	rec, ok := p.(object.TwistRecord)
	if !ok {
		return nil, object.DecodeErrorf("twist %s: packet has shape 0x%02x, want twist record", h.Hex(), byte(p.Shape()))
	}
	bp, ok := atoms.Get(rec.Body)
	if !ok {
		return nil, object.MissingError(object.MissingHashPacket, rec.Body, "twist body not in atoms")
	}
	body, ok := bp.(object.TwistBody)
	if !ok {
		return nil, object.DecodeErrorf("twist %s: body has shape 0x%02x, want twist body", h.Hex(), byte(bp.Shape()))
	}
	t := &Twist{hash: h, atoms: atoms, record: rec, body: body}

	var err error
	if t.reqs, err = trieAt(atoms, body.Reqs, "reqs"); err != nil {
		return nil, err
	}
	if t.sats, err = trieAt(atoms, rec.Sats, "sats"); err != nil {
		return nil, err
	}
	if t.rigging, err = trieAt(atoms, body.Rigging, "rigging"); err != nil {
		return nil, err
	}
	return t, nil
}

// FromFocus reads the twist at the focus of atoms.
func FromFocus(atoms *object.Atoms) (*Twist, error) {
	return FromAtoms(atoms, atoms.Focus())
}

func trieAt(atoms *object.Atoms, h object.Hash, what string) (*object.PairTrie, error) {
	if h.IsNull() {
		return &object.PairTrie{}, nil
	}
	p, ok := atoms.Get(h)
	if !ok {
		return nil, object.MissingError(object.MissingHashPacket, h, what+" trie not in atoms")
	}
	trie, ok := p.(*object.PairTrie)
	if !ok {
		return nil, object.DecodeErrorf("%s %s: packet has shape 0x%02x, want pair trie", what, h.Hex(), byte(p.Shape()))
	}
	return trie, nil
}

func (t *Twist) Hash() object.Hash          { return t.hash }
func (t *Twist) Atoms() *object.Atoms       { return t.atoms }
func (t *Twist) BodyHash() object.Hash      { return t.record.Body }
func (t *Twist) SatsHash() object.Hash      { return t.record.Sats }
func (t *Twist) PrevHash() object.Hash      { return t.body.Prev }
func (t *Twist) TetherHash() object.Hash    { return t.body.Tether }
func (t *Twist) ShieldHash() object.Hash    { return t.body.Shield }
func (t *Twist) ReqsHash() object.Hash      { return t.body.Reqs }
func (t *Twist) RiggingHash() object.Hash   { return t.body.Rigging }
func (t *Twist) CargoHash() object.Hash     { return t.body.Cargo }
func (t *Twist) Body() object.TwistBody     { return t.body }
func (t *Twist) Record() object.TwistRecord { return t.record }

var builtins = object.NewRegistry()

// Algorithm returns the hash algorithm that produced the twist's hash. Atoms
// record the algorithm of every hash they hold, so algorithms registered at
// runtime resolve too.
func (t *Twist) Algorithm() object.Algorithm {
	if alg, ok := t.atoms.Algorithm(t.hash.Code()); ok {
		return alg
	}
	if alg, ok := builtins.Algorithm(t.hash.Code()); ok {
		return alg
	}
	return object.SHA256
}

// IsTethered reports whether the twist is fast, i.e. anchored into a relay.
func (t *Twist) IsTethered() bool {
	return !t.body.Tether.IsNull()
}

// IsGenesis reports whether the twist has no predecessor.
func (t *Twist) IsGenesis() bool {
	return t.body.Prev.IsNull()
}

// Prev returns the previous twist. It returns (nil, nil) when prevHash is
// Null and a MissingPrevious error when the link exists but its atoms were
// not supplied.
func (t *Twist) Prev() (*Twist, error) {
	if t.body.Prev.IsNull() {
		return nil, nil
	}
	p, err := FromAtoms(t.atoms, t.body.Prev)
	if err != nil {
		if object.IsKind(err, object.KindMissing) {
			return nil, object.MissingError(object.MissingPrevious, t.body.Prev, fmt.Sprintf("previous of %s", t.hash.Hex()))
		}
		return nil, err
	}
	return p, nil
}

// Tether resolves the relay twist this twist is anchored to. A loose twist
// fails with ErrLoose.
func (t *Twist) Tether() (*Twist, error) {
	if !t.IsTethered() {
		return nil, object.StructureError(object.ErrLoose, t.hash, "twist has no tether")
	}
	return FromAtoms(t.atoms, t.body.Tether)
}

// Shield returns the shield bytes, or nil when the twist has no shield. A
// shield hash whose packet is absent is a MissingHashPacket error.
func (t *Twist) Shield() ([]byte, error) {
	if t.body.Shield.IsNull() {
		return nil, nil
	}
	p, ok := t.atoms.Get(t.body.Shield)
	if !ok {
		return nil, object.MissingError(object.MissingHashPacket, t.body.Shield, "shield not in atoms")
	}
	return p.Content(), nil
}

// Reqs returns the requirement trie (empty when the twist declares none).
func (t *Twist) Reqs() *object.PairTrie { return t.reqs }

// Sats returns the satisfaction trie.
func (t *Twist) Sats() *object.PairTrie { return t.sats }

// Rigging returns the rigging trie.
func (t *Twist) Rigging() *object.PairTrie { return t.rigging }

// Req returns the requirement packet declared for typ.
func (t *Twist) Req(typ object.Hash) (object.Packet, bool, error) {
	return t.lookup(t.reqs, typ)
}

// Sat returns the satisfaction packet supplied for typ.
func (t *Twist) Sat(typ object.Hash) (object.Packet, bool, error) {
	return t.lookup(t.sats, typ)
}

func (t *Twist) lookup(trie *object.PairTrie, key object.Hash) (object.Packet, bool, error) {
	v, ok := trie.Get(key)
	if !ok {
		return nil, false, nil
	}
	p, ok := t.atoms.Get(v)
	if !ok {
		return nil, true, object.MissingError(object.MissingHashPacket, v, "reqsat packet not in atoms")
	}
	return p, true, nil
}

// Rig returns the rigging value stored under key.
func (t *Twist) Rig(key object.Hash) (object.Hash, bool) {
	return t.rigging.Get(key)
}

// Cargo returns the cargo packet, or nil when the twist carries none.
func (t *Twist) Cargo() (object.Packet, error) {
	if t.body.Cargo.IsNull() {
		return nil, nil
	}
	p, ok := t.atoms.Get(t.body.Cargo)
	if !ok {
		return nil, object.MissingError(object.MissingHashPacket, t.body.Cargo, "cargo not in atoms")
	}
	return p, nil
}

// CargoField reads a named field when the cargo is a pair trie.
func (t *Twist) CargoField(sym object.Hash) (object.Packet, bool, error) {
	c, err := t.Cargo()
	if err != nil || c == nil {
		return nil, false, err
	}
	trie, ok := c.(*object.PairTrie)
	if !ok {
		return nil, false, nil
	}
	return t.lookup(trie, sym)
}

// LastFast returns the nearest tethered twist walking backward, inclusive of
// t itself, or nil when the chain is loose back to genesis.
func (t *Twist) LastFast() (*Twist, error) {
	cur := t
	for cur != nil {
		if cur.IsTethered() {
			return cur, nil
		}
		next, err := cur.Prev()
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return nil, nil
}

// Knot returns the minimal atoms needed to transmit this twist on its own:
// record, body, tries and the packets they reference, shield, and cargo.
// Other twists (prev, tether) are not included.
func (t *Twist) Knot(withShield bool) *object.Atoms {
	want := []object.Hash{t.record.Body}
	addTrie := func(h object.Hash, trie *object.PairTrie, values bool) {
		if h.IsNull() {
			return
		}
		want = append(want, h)
		if values {
			for _, e := range trie.Entries() {
				want = append(want, e.Value)
			}
		}
	}
	addTrie(t.body.Reqs, t.reqs, true)
	addTrie(t.record.Sats, t.sats, true)
	addTrie(t.body.Rigging, t.rigging, false)
	if withShield && !t.body.Shield.IsNull() {
		want = append(want, t.body.Shield)
	}
	if !t.body.Cargo.IsNull() {
		want = append(want, t.body.Cargo)
		if c, ok := t.atoms.Get(t.body.Cargo); ok {
			if trie, ok := c.(*object.PairTrie); ok {
				for _, e := range trie.Entries() {
					want = append(want, e.Value)
				}
			}
		}
	}
	want = append(want, t.hash)
	out := t.atoms.Subset(want...)
	_ = out.SetFocus(t.hash)
	return out
}

func (t *Twist) String() string {
	return t.hash.Hex()
}
