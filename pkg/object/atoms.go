package object

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Atoms is a deduplicated, content-addressed set of packets with one
// distinguished focus entry. Insertion order is kept so serialization is
// deterministic; the focus entry is always written last.
//
// Atoms is not safe for concurrent mutation.
type Atoms struct {
	order   []Hash
	packets map[Hash]Packet
	focus   Hash
	algs    map[byte]Algorithm
}

// NewAtoms returns an empty set.
func NewAtoms() *Atoms {
	return &Atoms{packets: make(map[Hash]Packet), algs: make(map[byte]Algorithm)}
}

// Put hashes p with alg, stores it and returns its hash.
func (a *Atoms) Put(alg Algorithm, p Packet) Hash {
	h := HashPacket(alg, p)
	a.algs[alg.Code()] = alg
	a.add(h, p)
	return h
}

// Set stores p under h after checking that h reproduces from p.
func (a *Atoms) Set(reg *Registry, h Hash, p Packet) error {
	if err := VerifyHash(reg, h, p); err != nil {
		return err
	}
	alg, _ := reg.Algorithm(h.Code())
	a.algs[alg.Code()] = alg
	a.add(h, p)
	return nil
}

func (a *Atoms) add(h Hash, p Packet) {
	if _, ok := a.packets[h]; ok {
		return
	}
	a.order = append(a.order, h)
	a.packets[h] = p
}

// VerifyHash checks that h is a content digest of p.
func VerifyHash(reg *Registry, h Hash, p Packet) error {
	alg, ok := reg.Algorithm(h.Code())
	if !ok {
		return DecodeErrorf("verify hash: unknown algorithm code 0x%02x", h.Code())
	}
	if !alg.Verifiable() {
		return Errorf(KindDecode, ErrHashMismatch, "%s hash %s cannot key a packet", alg.Name(), h.Hex())
	}
	if got := HashPacket(alg, p); got != h {
		return &Error{Kind: KindDecode, Hash: h, Message: fmt.Sprintf("packet hashes to %s", got.Hex()), Cause: ErrHashMismatch}
	}
	return nil
}

// Algorithm returns the algorithm that produced this set's hashes with the
// given code. Sets built with Put or read through a Registry know every
// algorithm they contain, including ones registered at runtime.
func (a *Atoms) Algorithm(code byte) (Algorithm, bool) {
	alg, ok := a.algs[code]
	return alg, ok
}

func (a *Atoms) inheritAlgorithms(other *Atoms) {
	for c, alg := range other.algs {
		if _, ok := a.algs[c]; !ok {
			a.algs[c] = alg
		}
	}
}

// Get returns the packet stored under h.
func (a *Atoms) Get(h Hash) (Packet, bool) {
	p, ok := a.packets[h]
	return p, ok
}

// Has reports whether h is present.
func (a *Atoms) Has(h Hash) bool {
	_, ok := a.packets[h]
	return ok
}

// Len returns the number of entries.
func (a *Atoms) Len() int {
	return len(a.order)
}

// Hashes returns the keys in insertion order.
func (a *Atoms) Hashes() []Hash {
	out := make([]Hash, len(a.order))
	copy(out, a.order)
	return out
}

// Focus returns the distinguished entry, or Null when unset.
func (a *Atoms) Focus() Hash {
	if a.focus == "" {
		return Null
	}
	return a.focus
}

// SetFocus marks h as the focus. h must be present.
func (a *Atoms) SetFocus(h Hash) error {
	if !a.Has(h) {
		return MissingError(MissingHashPacket, h, "focus not in atoms")
	}
	a.focus = h
	return nil
}

// Merge adds every entry of other that is not already present. The receiver
// keeps its focus unless it has none.
func (a *Atoms) Merge(other *Atoms) {
	if other == nil {
		return
	}
	a.inheritAlgorithms(other)
	for _, h := range other.order {
		a.add(h, other.packets[h])
	}
	if a.focus == "" && other.focus != "" {
		a.focus = other.focus
	}
}

// Clone returns a shallow copy. Packets are immutable and shared.
func (a *Atoms) Clone() *Atoms {
	out := NewAtoms()
	out.Merge(a)
	out.focus = a.focus
	return out
}

// Subset returns a new set holding only the given hashes that are present,
// in the receiver's insertion order. The focus is kept if it is included.
func (a *Atoms) Subset(hashes ...Hash) *Atoms {
	want := make(map[Hash]struct{}, len(hashes))
	for _, h := range hashes {
		want[h] = struct{}{}
	}
	out := NewAtoms()
	out.inheritAlgorithms(a)
	for _, h := range a.order {
		if _, ok := want[h]; ok {
			out.add(h, a.packets[h])
		}
	}
	if _, ok := want[a.focus]; ok && a.focus != "" {
		out.focus = a.focus
	}
	return out
}

// Without returns a copy with the given hashes removed. Removing the focus
// clears it.
func (a *Atoms) Without(hashes ...Hash) *Atoms {
	drop := make(map[Hash]struct{}, len(hashes))
	for _, h := range hashes {
		drop[h] = struct{}{}
	}
	out := NewAtoms()
	out.inheritAlgorithms(a)
	for _, h := range a.order {
		if _, ok := drop[h]; !ok {
			out.add(h, a.packets[h])
		}
	}
	if _, ok := drop[a.focus]; !ok {
		out.focus = a.focus
	}
	return out
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

// WriteTo streams every (hash, packet) tuple, focus last.
func (a *Atoms) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	write := func(h Hash) error {
		if _, err := bw.Write(h.Bytes()); err != nil {
			return err
		}
		return WritePacket(bw, a.packets[h])
	}
	for _, h := range a.order {
		if h == a.focus {
			continue
		}
		if err := write(h); err != nil {
			return cw.n, fmt.Errorf("write atoms: %w", err)
		}
	}
	if a.focus != "" {
		if err := write(a.focus); err != nil {
			return cw.n, fmt.Errorf("write atoms: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("write atoms: %w", err)
	}
	return cw.n, nil
}

// Bytes returns the serialized set.
func (a *Atoms) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = a.WriteTo(&buf)
	return buf.Bytes()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ReadAtoms stream-parses tuples from rd, verifying every digest. The last
// tuple becomes the focus.
func (r *Registry) ReadAtoms(rd io.Reader) (*Atoms, error) {
	br := bufio.NewReader(rd)
	out := NewAtoms()
	for i := 0; ; i++ {
		h, err := r.ReadHash(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read atoms: tuple %d: %w", i, err)
		}
		p, err := r.ReadPacket(br)
		if err != nil {
			return nil, fmt.Errorf("read atoms: tuple %d: %w", i, err)
		}
		if err := out.Set(r, h, p); err != nil {
			return nil, fmt.Errorf("read atoms: tuple %d: %w", i, err)
		}
		out.focus = h
	}
	return out, nil
}

// DecodeAtoms parses a serialized set held in memory.
func (r *Registry) DecodeAtoms(b []byte) (*Atoms, error) {
	return r.ReadAtoms(bytes.NewReader(b))
}

// FileName returns the conventional file name for a twist file.
func FileName(h Hash) string {
	return h.Hex() + ".toda"
}
