package twist

import (
	"github.com/odvcencio/twine/pkg/object"
)

// Record is an application object layered on top of a twist. The chain core
// never looks inside cargo; records own that interpretation and express
// ownership, authorization and payload through twist primitives only.
type Record interface {
	Twist() *Twist
}

// Parser reads a record from atoms, starting at the twist stored under focus.
type Parser[R Record] func(atoms *object.Atoms, focus object.Hash) (R, error)

// Serializer turns a record back into an atom set whose focus is the
// record's twist.
type Serializer interface {
	Serialize(alg object.Algorithm) (*object.Atoms, error)
}

// ParseFocus applies parse to the focus of atoms.
func ParseFocus[R Record](atoms *object.Atoms, parse Parser[R]) (R, error) {
	return parse(atoms, atoms.Focus())
}

// NoteField is the cargo field holding a note's text.
var NoteField = object.NewSymbol("note")

// Note is the minimal record: a twist whose cargo carries a UTF-8 note.
type Note struct {
	twist *Twist
	Text  string
}

// ParseNote is the Parser for Note. A twist without a note field yields an
// empty Text.
func ParseNote(atoms *object.Atoms, focus object.Hash) (*Note, error) {
	t, err := FromAtoms(atoms, focus)
	if err != nil {
		return nil, err
	}
	n := &Note{twist: t}
	p, ok, err := t.CargoField(NoteField)
	if err != nil {
		return nil, err
	}
	if ok {
		n.Text = string(p.Content())
	}
	return n, nil
}

func (n *Note) Twist() *Twist { return n.twist }

// Serialize returns the twist's atoms with the note twist as focus.
func (n *Note) Serialize(object.Algorithm) (*object.Atoms, error) {
	out := n.twist.Atoms().Clone()
	if err := out.SetFocus(n.twist.Hash()); err != nil {
		return nil, err
	}
	return out, nil
}

// SetNote stores text as the note field of the builder's cargo.
func (b *Builder) SetNote(text string) *Builder {
	return b.SetCargoField(NoteField, object.Arbitrary(text))
}
