package twist

import (
	"fmt"
	"sync"

	"github.com/odvcencio/twine/pkg/object"
)

// Line indexes the twists found in a growing atom set. It records each
// twist's successor (so chains can be walked forward without searching) and
// memoizes the nearest tethered ancestor of each twist.
//
// A Line is a derived cache: it is never persisted and can be rebuilt from
// its atoms at any time. Add must not run concurrently with any other method.
// The read methods may run concurrently with each other; the parsed-twist and
// last-fast memos they fill are guarded by cacheMu.
type Line struct {
	atoms      *object.Atoms
	successors map[object.Hash]object.Hash
	indexed    map[object.Hash]struct{}
	pending    map[object.Hash]struct{}

	cacheMu  sync.Mutex
	twists   map[object.Hash]*Twist
	lastFast map[object.Hash]object.Hash
}

// NewLine returns an empty line.
func NewLine() *Line {
	return &Line{
		atoms:      object.NewAtoms(),
		successors: make(map[object.Hash]object.Hash),
		indexed:    make(map[object.Hash]struct{}),
		pending:    make(map[object.Hash]struct{}),
		twists:     make(map[object.Hash]*Twist),
		lastFast:   make(map[object.Hash]object.Hash),
	}
}

// LineFromAtoms builds a line over the given atom sets.
func LineFromAtoms(sets ...*object.Atoms) (*Line, error) {
	l := NewLine()
	for _, a := range sets {
		if err := l.Add(a); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Atoms returns the merged atom set. Callers must not mutate it.
func (l *Line) Atoms() *object.Atoms { return l.atoms }

// Add merges atoms into the line and indexes any twists they complete. Two
// different twists naming the same previous twist is a fork and fails with
// ErrConflictingSuccessor; the line must then be discarded.
func (l *Line) Add(a *object.Atoms) error {
	if a == nil {
		return nil
	}
	before := l.atoms.Len()
	l.atoms.Merge(a)
	if a.Len() > 0 && l.atoms.Focus() != a.Focus() && !a.Focus().IsNull() {
		// Keep the most recently added focus as the line's focus.
		_ = l.atoms.SetFocus(a.Focus())
	}

	candidates := l.atoms.Hashes()[before:]
	for h := range l.pending {
		candidates = append(candidates, h)
	}
	for _, h := range candidates {
		if _, done := l.indexed[h]; done {
			continue
		}
		p, _ := l.atoms.Get(h)
		rec, ok := p.(object.TwistRecord)
		if !ok {
			continue
		}
		bp, ok := l.atoms.Get(rec.Body)
		if !ok {
			l.pending[h] = struct{}{}
			continue
		}
		body, ok := bp.(object.TwistBody)
		if !ok {
			return object.DecodeErrorf("line: twist %s body has shape 0x%02x", h.Hex(), byte(bp.Shape()))
		}
		delete(l.pending, h)
		l.indexed[h] = struct{}{}
		if body.Prev.IsNull() {
			continue
		}
		if existing, ok := l.successors[body.Prev]; ok && existing != h {
			return object.StructureError(object.ErrConflictingSuccessor, body.Prev,
				"twists %s and %s both follow", existing.Hex(), h.Hex())
		}
		l.successors[body.Prev] = h
	}
	return nil
}

// Has reports whether the record of twist h is present.
func (l *Line) Has(h object.Hash) bool {
	_, ok := l.indexed[h]
	return ok
}

// Twist returns the twist stored under h.
func (l *Line) Twist(h object.Hash) (*Twist, error) {
	l.cacheMu.Lock()
	t, ok := l.twists[h]
	l.cacheMu.Unlock()
	if ok {
		return t, nil
	}
	t, err := FromAtoms(l.atoms, h)
	if err != nil {
		return nil, err
	}
	l.cacheMu.Lock()
	l.twists[h] = t
	l.cacheMu.Unlock()
	return t, nil
}

// Focus returns the twist at the focus of the most recently added atoms.
func (l *Line) Focus() (*Twist, error) {
	return l.Twist(l.atoms.Focus())
}

// Successor returns the hash of the twist whose prevHash is h.
func (l *Line) Successor(h object.Hash) (object.Hash, bool) {
	s, ok := l.successors[h]
	return s, ok
}

// Next returns the successor twist of h, or a MissingSuccessor error.
func (l *Line) Next(h object.Hash) (*Twist, error) {
	s, ok := l.successors[h]
	if !ok {
		return nil, object.MissingError(object.MissingSuccessor, h, "no known successor")
	}
	return l.Twist(s)
}

// Prev returns the previous twist of h. It returns (nil, nil) at genesis.
func (l *Line) Prev(h object.Hash) (*Twist, error) {
	t, err := l.Twist(h)
	if err != nil {
		return nil, err
	}
	if t.PrevHash().IsNull() {
		return nil, nil
	}
	p, err := l.Twist(t.PrevHash())
	if err != nil {
		if object.IsKind(err, object.KindMissing) {
			return nil, object.MissingError(object.MissingPrevious, t.PrevHash(), fmt.Sprintf("previous of %s", h.Hex()))
		}
		return nil, err
	}
	return p, nil
}

// LastFast returns the nearest tethered twist at or before h, or nil when the
// chain is loose back to genesis. Results are memoized.
func (l *Line) LastFast(h object.Hash) (*Twist, error) {
	var path []object.Hash
	seen := make(map[object.Hash]struct{})
	cur := h
	result := object.Null
	for {
		l.cacheMu.Lock()
		memo, ok := l.lastFast[cur]
		l.cacheMu.Unlock()
		if ok {
			result = memo
			break
		}
		if _, loop := seen[cur]; loop {
			return nil, object.StructureError(object.ErrConflictingSuccessor, cur, "cycle in chain")
		}
		seen[cur] = struct{}{}
		t, err := l.Twist(cur)
		if err != nil {
			if cur != h && object.IsKind(err, object.KindMissing) {
				return nil, object.MissingError(object.MissingPrevious, cur, "walking back to last fast twist")
			}
			return nil, err
		}
		path = append(path, cur)
		if t.IsTethered() {
			result = cur
			break
		}
		if t.PrevHash().IsNull() {
			break
		}
		cur = t.PrevHash()
	}
	l.cacheMu.Lock()
	for _, p := range path {
		l.lastFast[p] = result
	}
	l.cacheMu.Unlock()
	if result.IsNull() {
		return nil, nil
	}
	return l.Twist(result)
}

// LastFastBefore returns the nearest tethered twist strictly before h.
func (l *Line) LastFastBefore(h object.Hash) (*Twist, error) {
	prev, err := l.Prev(h)
	if err != nil || prev == nil {
		return nil, err
	}
	return l.LastFast(prev.Hash())
}

// NextFast returns the first tethered twist strictly after h, or nil when
// the known line ends first.
func (l *Line) NextFast(h object.Hash) (*Twist, error) {
	seen := map[object.Hash]struct{}{h: {}}
	cur := h
	for {
		s, ok := l.successors[cur]
		if !ok {
			return nil, nil
		}
		if _, loop := seen[s]; loop {
			return nil, object.StructureError(object.ErrConflictingSuccessor, s, "cycle in chain")
		}
		seen[s] = struct{}{}
		t, err := l.Twist(s)
		if err != nil {
			return nil, err
		}
		if t.IsTethered() {
			return t, nil
		}
		cur = s
	}
}

// First walks back from h to the earliest twist whose atoms are present.
func (l *Line) First(h object.Hash) (*Twist, error) {
	t, err := l.Twist(h)
	if err != nil {
		return nil, err
	}
	seen := map[object.Hash]struct{}{h: {}}
	for !t.PrevHash().IsNull() && l.Has(t.PrevHash()) {
		if _, loop := seen[t.PrevHash()]; loop {
			return nil, object.StructureError(object.ErrConflictingSuccessor, t.PrevHash(), "cycle in chain")
		}
		seen[t.PrevHash()] = struct{}{}
		if t, err = l.Twist(t.PrevHash()); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Last walks forward from h to the newest known twist of its chain.
func (l *Line) Last(h object.Hash) (*Twist, error) {
	seen := map[object.Hash]struct{}{h: {}}
	cur := h
	for {
		s, ok := l.successors[cur]
		if !ok {
			return l.Twist(cur)
		}
		if _, loop := seen[s]; loop {
			return nil, object.StructureError(object.ErrConflictingSuccessor, s, "cycle in chain")
		}
		seen[s] = struct{}{}
		cur = s
	}
}

// IsAncestor reports whether a equals b or precedes it, using only the atoms
// present. A gap in the chain makes the answer false, not an error.
func (l *Line) IsAncestor(a, b object.Hash) bool {
	seen := make(map[object.Hash]struct{})
	cur := b
	for !cur.IsNull() {
		if cur == a {
			return true
		}
		if _, loop := seen[cur]; loop {
			return false
		}
		seen[cur] = struct{}{}
		t, err := l.Twist(cur)
		if err != nil {
			return false
		}
		cur = t.PrevHash()
	}
	return false
}

// InLine reports whether a and b belong to the same chain.
func (l *Line) InLine(a, b object.Hash) bool {
	return l.IsAncestor(a, b) || l.IsAncestor(b, a)
}

// Segment returns the twists from `from` to `to` inclusive, oldest first.
// from must be an ancestor of to; a gap fails with MissingPrevious and
// reaching genesis first fails with ErrNotAncestor.
func (l *Line) Segment(from, to object.Hash) ([]*Twist, error) {
	var rev []*Twist
	seen := make(map[object.Hash]struct{})
	cur := to
	for {
		if _, loop := seen[cur]; loop {
			return nil, object.StructureError(object.ErrConflictingSuccessor, cur, "cycle in chain")
		}
		seen[cur] = struct{}{}
		t, err := l.Twist(cur)
		if err != nil {
			if cur != to && object.IsKind(err, object.KindMissing) {
				return nil, object.MissingError(object.MissingPrevious, cur, fmt.Sprintf("walking from %s to %s", to.Hex(), from.Hex()))
			}
			return nil, err
		}
		rev = append(rev, t)
		if cur == from {
			break
		}
		if t.PrevHash().IsNull() {
			return nil, object.StructureError(object.ErrNotAncestor, from, "not an ancestor of %s", to.Hex())
		}
		cur = t.PrevHash()
	}
	out := make([]*Twist, len(rev))
	for i, t := range rev {
		out[len(rev)-1-i] = t
	}
	return out, nil
}
