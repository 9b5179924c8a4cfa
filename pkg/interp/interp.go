// Package interp verifies twist histories against a trusted topline.
//
// A fast twist L (the lead) is tethered to a relay twist T. The relay later
// records a blinded commitment to L (the hoist H). The next twist on L's own
// line that tethers to H or later is the meet M, and a later relay twist may
// reference L in clear (the post P). Verifying the hitch checks all of these
// and recurses up through relays until a relay line reaches the topline.
package interp

import (
	"io"
	"log/slog"

	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/reqsat"
	"github.com/odvcencio/twine/pkg/twist"
)

// Hitch is the verified anchoring of one lead twist.
type Hitch struct {
	Lead   *twist.Twist
	Tether *twist.Twist
	Hoist  *twist.Twist
	// Meet is nil while the hitch is open.
	Meet *twist.Twist
	// Post is nil until the relay confirms the hoist in clear.
	Post *twist.Twist
}

// Open reports whether the lead's line has not yet moved past the hoist.
func (h *Hitch) Open() bool { return h.Meet == nil }

// Full reports whether the hoist has been posted.
func (h *Hitch) Full() bool { return h.Post != nil }

// Interpreter verifies hitches over a Line snapshot. It never mutates the
// line beyond the Line's own memoization, so independent interpreters over
// independent lines may run concurrently.
type Interpreter struct {
	line    *twist.Line
	topline object.Hash
	reqs    *reqsat.Registry
	logger  *slog.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger for verification progress. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) {
		if l != nil {
			i.logger = l
		}
	}
}

// New returns an interpreter over line trusting topline. A Null topline
// disables relay recursion: VerifyHitch then checks a single hitch.
func New(line *twist.Line, topline object.Hash, reqs *reqsat.Registry, opts ...Option) *Interpreter {
	if reqs == nil {
		reqs = reqsat.NewRegistry()
	}
	i := &Interpreter{
		line:    line,
		topline: topline,
		reqs:    reqs,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Line returns the line the interpreter reads.
func (i *Interpreter) Line() *twist.Line { return i.line }

// Topline returns the trusted root.
func (i *Interpreter) Topline() object.Hash { return i.topline }

// ---------------------------------------------------------------------------
// Hoist, meet, post
// ---------------------------------------------------------------------------

// Hoist finds the first relay twist strictly after lead's tether that
// commits to lead under lead's shield.
func (i *Interpreter) Hoist(lead *twist.Twist) (*twist.Twist, error) {
	if !lead.IsTethered() {
		return nil, object.StructureError(object.ErrLoose, lead.Hash(), "lead must be tethered")
	}
	s, err := lead.Shield()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, object.StructureError(object.ErrNoShield, lead.Hash(), "lead cannot be hoisted")
	}
	tether := lead.TetherHash()
	if !i.line.Has(tether) {
		return nil, object.MissingError(object.MissingHashPacket, tether, "tether of "+lead.Hash().Hex())
	}
	cur := tether
	for {
		next, ok := i.line.Successor(cur)
		if !ok {
			return nil, object.MissingError(object.MissingHoist, lead.Hash(), "no hoist after tether "+tether.Hex())
		}
		t, err := i.line.Twist(next)
		if err != nil {
			return nil, err
		}
		if twist.IsHoistFor(t, lead, s) {
			return t, nil
		}
		cur = next
	}
}

// Meet finds the first twist after lead on lead's own line whose tether is
// hoist or a later twist of the hoist's line. It returns nil when the hitch
// is still open. The nearest tethered twist before the meet must be lead.
func (i *Interpreter) Meet(lead, hoist *twist.Twist) (*twist.Twist, error) {
	cur := lead.Hash()
	for {
		next, ok := i.line.Successor(cur)
		if !ok {
			return nil, nil
		}
		t, err := i.line.Twist(next)
		if err != nil {
			return nil, err
		}
		if t.IsTethered() && i.line.IsAncestor(hoist.Hash(), t.TetherHash()) {
			fast, err := i.line.LastFastBefore(t.Hash())
			if err != nil {
				return nil, err
			}
			if fast == nil || fast.Hash() != lead.Hash() {
				return nil, object.StructureError(object.ErrUnfastenedMeet, t.Hash(), "meet for lead %s", lead.Hash().Hex())
			}
			return t, nil
		}
		cur = next
	}
}

// Post finds the first relay twist after hoist whose rigging maps lead to
// hoist in clear.
func (i *Interpreter) Post(lead, hoist *twist.Twist) (*twist.Twist, error) {
	cur := hoist.Hash()
	for {
		next, ok := i.line.Successor(cur)
		if !ok {
			return nil, object.MissingError(object.MissingPostEntry, lead.Hash(), "no post after hoist "+hoist.Hash().Hex())
		}
		t, err := i.line.Twist(next)
		if err != nil {
			return nil, err
		}
		if twist.IsPostFor(t, lead.Hash(), hoist.Hash()) {
			return t, nil
		}
		cur = next
	}
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

// VerifyLegit checks every consecutive pair from `from` to `to` against the
// requirement registry. from must be an ancestor of to.
func (i *Interpreter) VerifyLegit(from, to object.Hash) error {
	seg, err := i.line.Segment(from, to)
	if err != nil {
		return err
	}
	for k := 1; k < len(seg); k++ {
		if err := i.reqs.VerifyLegit(seg[k-1], seg[k]); err != nil {
			return err
		}
	}
	return nil
}

// VerifyHitch verifies lead's hitch and, through each relay's own last fast
// twist, the hitches above it until a hoist lands on the topline's line. It
// returns the hitch of lead itself.
func (i *Interpreter) VerifyHitch(lead *twist.Twist) (*Hitch, error) {
	var first *Hitch
	visited := make(map[object.Hash]struct{})
	cur := lead
	for {
		if _, ok := visited[cur.Hash()]; ok {
			return nil, object.StructureError(object.ErrRelayCycle, cur.Hash(), "verifying hitch")
		}
		visited[cur.Hash()] = struct{}{}

		h, err := i.verifyOne(cur)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = h
		}
		if i.topline.IsNull() {
			return first, nil
		}
		if i.line.InLine(h.Hoist.Hash(), i.topline) {
			if err := i.verifyToTopline(h); err != nil {
				return nil, err
			}
			return first, nil
		}
		up, err := i.line.LastFast(h.Hoist.Hash())
		if err != nil {
			return nil, err
		}
		if up == nil {
			return nil, object.StructureError(object.ErrLoose, h.Hoist.Hash(), "relay does not reach topline %s", i.topline.Hex())
		}
		i.logger.Debug("climbing relay", "hoist", h.Hoist.Hash().Hex(), "relay_lead", up.Hash().Hex())
		cur = up
	}
}

// verifyToTopline checks the relay segment joining the topline to a hitch
// whose hoist landed on the topline's line. verifyOne already covers tether
// to hoist.
func (i *Interpreter) verifyToTopline(h *Hitch) error {
	switch {
	case i.line.IsAncestor(i.topline, h.Tether.Hash()):
		return i.VerifyLegit(i.topline, h.Tether.Hash())
	case i.line.IsAncestor(h.Hoist.Hash(), i.topline):
		return i.VerifyLegit(h.Hoist.Hash(), i.topline)
	}
	return nil
}

func (i *Interpreter) verifyOne(lead *twist.Twist) (*Hitch, error) {
	if !lead.IsTethered() {
		return nil, object.StructureError(object.ErrLoose, lead.Hash(), "lead must be tethered")
	}
	tether, err := i.line.Twist(lead.TetherHash())
	if err != nil {
		return nil, err
	}
	hoist, err := i.Hoist(lead)
	if err != nil {
		return nil, err
	}
	if err := i.VerifyLegit(tether.Hash(), hoist.Hash()); err != nil {
		return nil, err
	}
	meet, err := i.Meet(lead, hoist)
	if err != nil {
		return nil, err
	}
	end := meet
	if end == nil {
		if end, err = i.line.Last(lead.Hash()); err != nil {
			return nil, err
		}
	}
	if err := i.VerifyLegit(lead.Hash(), end.Hash()); err != nil {
		return nil, err
	}
	post, err := i.Post(lead, hoist)
	if err != nil {
		// Only the newest hoist may still be waiting for its post.
		if meet != nil || !object.IsMissing(err, object.MissingPostEntry) {
			return nil, err
		}
		post = nil
	}
	h := &Hitch{Lead: lead, Tether: tether, Hoist: hoist, Meet: meet, Post: post}
	i.logger.Debug("hitch verified",
		"lead", lead.Hash().Hex(),
		"hoist", hoist.Hash().Hex(),
		"open", h.Open(),
		"full", h.Full(),
	)
	return h, nil
}

// VerifyHitchLine verifies the history of h back to start, or to genesis
// when start is Null: every consecutive pair must be legit and every fast
// twist after start must have a verified hitch. Hitches are returned newest
// first.
func (i *Interpreter) VerifyHitchLine(h, start object.Hash) ([]*Hitch, error) {
	from, err := i.historyStart(h, start)
	if err != nil {
		return nil, err
	}
	if err := i.VerifyLegit(from, h); err != nil {
		return nil, err
	}

	var hitches []*Hitch
	fast, err := i.line.LastFast(h)
	for err == nil && fast != nil {
		if !start.IsNull() && !i.line.IsAncestor(start, fast.Hash()) {
			break
		}
		hitch, verr := i.VerifyHitch(fast)
		if verr != nil {
			return nil, verr
		}
		hitches = append(hitches, hitch)
		if fast.Hash() == start {
			break
		}
		fast, err = i.line.LastFastBefore(fast.Hash())
	}
	if err != nil {
		return nil, err
	}
	i.logger.Info("history verified", "twist", h.Hex(), "hitches", len(hitches))
	return hitches, nil
}

func (i *Interpreter) historyStart(h, start object.Hash) (object.Hash, error) {
	if !start.IsNull() {
		if !i.line.IsAncestor(start, h) {
			return "", object.StructureError(object.ErrNotAncestor, start, "start is not an ancestor of %s", h.Hex())
		}
		return start, nil
	}
	first, err := i.line.First(h)
	if err != nil {
		return "", err
	}
	if !first.IsGenesis() {
		return "", object.MissingError(object.MissingPrevious, first.PrevHash(), "history of "+h.Hex()+" stops before genesis")
	}
	return first.Hash(), nil
}

// VerifyTopline checks that the topline's line is legit from the topline to
// its newest known twist.
func (i *Interpreter) VerifyTopline() error {
	if i.topline.IsNull() {
		return object.Errorf(object.KindStructure, object.ErrNotAncestor, "no topline configured")
	}
	if !i.line.Has(i.topline) {
		return object.MissingError(object.MissingHashPacket, i.topline, "topline not in atoms")
	}
	last, err := i.line.Last(i.topline)
	if err != nil {
		return err
	}
	if err := i.VerifyLegit(i.topline, last.Hash()); err != nil {
		return err
	}
	i.logger.Debug("topline verified", "topline", i.topline.Hex(), "last", last.Hash().Hex())
	return nil
}
