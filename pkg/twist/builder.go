package twist

import (
	"fmt"

	"github.com/odvcencio/twine/pkg/object"
)

// Builder assembles the next twist of a chain. It is mutable and not safe for
// concurrent use; Twist freezes the current state into an immutable Twist.
type Builder struct {
	alg     object.Algorithm
	atoms   *object.Atoms
	prev    object.Hash
	tether  object.Hash
	shield  []byte
	reqs    map[object.Hash]object.Hash
	sats    map[object.Hash]object.Hash
	rigging map[object.Hash]object.Hash
	cargo   object.Hash
	fields  map[object.Hash]object.Hash
}

// NewBuilder starts a genesis twist hashed with alg.
func NewBuilder(alg object.Algorithm) *Builder {
	if alg == nil {
		alg = object.SHA256
	}
	return &Builder{
		alg:     alg,
		atoms:   object.NewAtoms(),
		prev:    object.Null,
		tether:  object.Null,
		cargo:   object.Null,
		reqs:    make(map[object.Hash]object.Hash),
		sats:    make(map[object.Hash]object.Hash),
		rigging: make(map[object.Hash]object.Hash),
	}
}

// CreateSuccessor seeds a builder whose prevHash is t, hashed with the same
// algorithm as t. The atom set is carried forward; the successor starts loose.
func (t *Twist) CreateSuccessor() *Builder {
	b := NewBuilder(t.Algorithm())
	b.atoms = t.atoms.Clone()
	b.prev = t.hash
	return b
}

// SetAlgorithm changes the hash algorithm used for new packets.
func (b *Builder) SetAlgorithm(alg object.Algorithm) *Builder {
	b.alg = alg
	return b
}

// Algorithm returns the hash algorithm the builder uses.
func (b *Builder) Algorithm() object.Algorithm { return b.alg }

// Atoms returns the builder's working atom set.
func (b *Builder) Atoms() *object.Atoms { return b.atoms }

// AddAtoms merges extra atoms, e.g. the relay twist being tethered to.
func (b *Builder) AddAtoms(a *object.Atoms) *Builder {
	b.atoms.Merge(a)
	return b
}

// Put stores a packet in the builder's atoms and returns its hash.
func (b *Builder) Put(p object.Packet) object.Hash {
	return b.atoms.Put(b.alg, p)
}

func (b *Builder) SetPrev(h object.Hash) *Builder {
	b.prev = nullIfEmpty(h)
	return b
}

// SetTether anchors the twist into a relay twist. Null makes it loose.
func (b *Builder) SetTether(h object.Hash) *Builder {
	b.tether = nullIfEmpty(h)
	return b
}

// SetShield sets the blinding value used for hoist commitments. Nil clears it.
func (b *Builder) SetShield(s []byte) *Builder {
	if s == nil {
		b.shield = nil
		return b
	}
	b.shield = append([]byte{}, s...)
	return b
}

// SetRequirement declares that the successor must satisfy p under typ.
func (b *Builder) SetRequirement(typ object.Hash, p object.Packet) *Builder {
	b.reqs[typ] = b.Put(p)
	return b
}

// SetSatisfaction satisfies the previous twist's requirement typ.
func (b *Builder) SetSatisfaction(typ object.Hash, p object.Packet) *Builder {
	b.sats[typ] = b.Put(p)
	return b
}

// SetRig adds a rigging entry (a hoist or post commitment).
func (b *Builder) SetRig(key, value object.Hash) *Builder {
	b.rigging[key] = value
	return b
}

// SetRigging adds every entry of m to the rigging.
func (b *Builder) SetRigging(m map[object.Hash]object.Hash) *Builder {
	for k, v := range m {
		b.rigging[k] = v
	}
	return b
}

// SetCargo sets an opaque payload. It replaces any cargo fields.
func (b *Builder) SetCargo(p object.Packet) *Builder {
	b.fields = nil
	if p == nil {
		b.cargo = object.Null
		return b
	}
	b.cargo = b.Put(p)
	return b
}

// SetCargoField stores p under a named field; the cargo becomes a pair trie
// of field symbol to packet hash.
func (b *Builder) SetCargoField(sym object.Hash, p object.Packet) *Builder {
	if b.fields == nil {
		b.fields = make(map[object.Hash]object.Hash)
	}
	b.fields[sym] = b.Put(p)
	return b
}

func nullIfEmpty(h object.Hash) object.Hash {
	if h.IsNull() {
		return object.Null
	}
	return h
}

func (b *Builder) trie(m map[object.Hash]object.Hash) object.Hash {
	if len(m) == 0 {
		return object.Null
	}
	return b.Put(object.PairTrieFromMap(m))
}

func (b *Builder) body() object.TwistBody {
	body := object.TwistBody{
		Prev:    b.prev,
		Tether:  b.tether,
		Shield:  object.Null,
		Reqs:    b.trie(b.reqs),
		Rigging: b.trie(b.rigging),
		Cargo:   b.cargo,
	}
	if b.shield != nil {
		body.Shield = b.Put(object.Arbitrary(b.shield))
	}
	if b.fields != nil {
		body.Cargo = b.trie(b.fields)
	}
	return body
}

// BodyHash returns the hash of the body as currently configured. Signers
// sign this value; satisfactions do not affect it.
func (b *Builder) BodyHash() object.Hash {
	return b.Put(b.body())
}

// Twist freezes the builder into an immutable twist whose atoms become the
// focus of a copy of the builder's atom set.
func (b *Builder) Twist() (*Twist, error) {
	bodyHash := b.Put(b.body())
	rec := object.TwistRecord{Body: bodyHash, Sats: b.trie(b.sats)}
	atoms := b.atoms.Clone()
	h := atoms.Put(b.alg, rec)
	if err := atoms.SetFocus(h); err != nil {
		return nil, err
	}
	t, err := FromAtoms(atoms, h)
	if err != nil {
		return nil, fmt.Errorf("freeze twist: %w", err)
	}
	return t, nil
}
