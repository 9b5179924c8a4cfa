package twist

import (
	"bytes"
	"crypto/sha512"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/odvcencio/twine/pkg/object"
)

func mustTwist(t *testing.T, b *Builder) *Twist {
	t.Helper()
	tw, err := b.Twist()
	if err != nil {
		t.Fatalf("Twist: %v", err)
	}
	return tw
}

// chain builds n loose twists starting at a genesis and returns them oldest
// first. Every twist shares one growing atom set.
func chain(t *testing.T, n int) []*Twist {
	t.Helper()
	out := []*Twist{mustTwist(t, NewBuilder(object.SHA256).SetNote("genesis"))}
	for len(out) < n {
		out = append(out, mustTwist(t, out[len(out)-1].CreateSuccessor()))
	}
	return out
}

func TestBuilderGenesisFields(t *testing.T) {
	b := NewBuilder(object.SHA256)
	b.SetShield([]byte("s3cret"))
	b.SetRig(object.NewSymbol("k"), object.NewSymbol("v"))
	tw := mustTwist(t, b)

	if !tw.IsGenesis() {
		t.Fatal("genesis twist reports a prev")
	}
	if tw.IsTethered() {
		t.Fatal("genesis twist is tethered")
	}
	if tw.Hash().Code() != object.CodeSHA256 {
		t.Fatalf("hash code = 0x%02x, want 0x%02x", tw.Hash().Code(), object.CodeSHA256)
	}
	if tw.Atoms().Focus() != tw.Hash() {
		t.Fatalf("focus = %s, want %s", tw.Atoms().Focus(), tw.Hash())
	}
	s, err := tw.Shield()
	if err != nil {
		t.Fatalf("Shield: %v", err)
	}
	if !bytes.Equal(s, []byte("s3cret")) {
		t.Fatalf("shield = %q, want %q", s, "s3cret")
	}
	v, ok := tw.Rig(object.NewSymbol("k"))
	if !ok || v != object.NewSymbol("v") {
		t.Fatalf("Rig(k) = %s, %v", v, ok)
	}
	if !tw.ReqsHash().IsNull() || !tw.SatsHash().IsNull() {
		t.Fatal("empty reqs/sats should serialize as Null")
	}
}

func TestCreateSuccessorLinksAndStaysLoose(t *testing.T) {
	g := mustTwist(t, NewBuilder(object.BLAKE3).SetTether(object.NewSymbol("relay")))
	next := mustTwist(t, g.CreateSuccessor())

	if next.PrevHash() != g.Hash() {
		t.Fatalf("prev = %s, want %s", next.PrevHash(), g.Hash())
	}
	if next.IsTethered() {
		t.Fatal("successor inherited tether")
	}
	if next.Hash().Code() != object.CodeBLAKE3 {
		t.Fatalf("successor hash code = 0x%02x, want BLAKE3", next.Hash().Code())
	}
	prev, err := next.Prev()
	if err != nil {
		t.Fatalf("Prev: %v", err)
	}
	if prev.Hash() != g.Hash() {
		t.Fatalf("Prev().Hash() = %s, want %s", prev.Hash(), g.Hash())
	}
}

func TestBodyHashIgnoresSatisfactions(t *testing.T) {
	g := mustTwist(t, NewBuilder(nil))
	b := g.CreateSuccessor()
	before := b.BodyHash()
	b.SetSatisfaction(object.NewSymbol("sig"), object.Arbitrary("proof"))
	if after := b.BodyHash(); after != before {
		t.Fatalf("body hash changed after SetSatisfaction: %s != %s", after, before)
	}
	tw := mustTwist(t, b)
	if tw.BodyHash() != before {
		t.Fatalf("frozen body hash = %s, want %s", tw.BodyHash(), before)
	}
	p, ok, err := tw.Sat(object.NewSymbol("sig"))
	if err != nil || !ok {
		t.Fatalf("Sat = %v, %v, %v", p, ok, err)
	}
	if string(p.Content()) != "proof" {
		t.Fatalf("sat content = %q", p.Content())
	}
}

func TestPrevMissing(t *testing.T) {
	tw := chain(t, 2)[1]
	knot := tw.Knot(true)
	lone, err := FromFocus(knot)
	if err != nil {
		t.Fatalf("FromFocus(knot): %v", err)
	}
	_, err = lone.Prev()
	if !object.IsMissing(err, object.MissingPrevious) {
		t.Fatalf("Prev err = %v, want missing previous", err)
	}
}

func TestTetherLoose(t *testing.T) {
	tw := chain(t, 1)[0]
	_, err := tw.Tether()
	if !errors.Is(err, object.ErrLoose) {
		t.Fatalf("Tether err = %v, want ErrLoose", err)
	}
}

func TestLastFastWalksBack(t *testing.T) {
	g := mustTwist(t, NewBuilder(nil).SetTether(object.NewSymbol("relay")))
	a := mustTwist(t, g.CreateSuccessor())
	b := mustTwist(t, a.CreateSuccessor())

	fast, err := b.LastFast()
	if err != nil {
		t.Fatalf("LastFast: %v", err)
	}
	if fast == nil || fast.Hash() != g.Hash() {
		t.Fatalf("LastFast = %v, want %s", fast, g.Hash())
	}

	loose := chain(t, 3)[2]
	if fast, err := loose.LastFast(); err != nil || fast != nil {
		t.Fatalf("LastFast on loose chain = %v, %v; want nil, nil", fast, err)
	}
}

func TestKnotExcludesShieldAndOtherTwists(t *testing.T) {
	tws := chain(t, 2)
	b := tws[1].CreateSuccessor().SetShield([]byte("hidden"))
	b.SetRequirement(object.NewSymbol("req"), object.Arbitrary("pubkey"))
	tw := mustTwist(t, b)

	full := tw.Knot(true)
	private := tw.Knot(false)
	if !full.Has(tw.ShieldHash()) {
		t.Fatal("knot with shield lacks shield packet")
	}
	if private.Has(tw.ShieldHash()) {
		t.Fatal("knot without shield still carries shield packet")
	}
	if private.Has(tws[1].Hash()) {
		t.Fatal("knot carries the previous twist")
	}
	if private.Focus() != tw.Hash() {
		t.Fatalf("knot focus = %s, want %s", private.Focus(), tw.Hash())
	}

	// The knot alone must still parse.
	again, err := FromFocus(private)
	if err != nil {
		t.Fatalf("FromFocus(knot): %v", err)
	}
	if diff := cmp.Diff(tw.Body(), again.Body()); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
	if _, ok, err := again.Req(object.NewSymbol("req")); !ok || err != nil {
		t.Fatalf("Req on knot = %v, %v", ok, err)
	}
}

func TestFromAtomsWrongShape(t *testing.T) {
	a := object.NewAtoms()
	h := a.Put(object.SHA256, object.Arbitrary("not a twist"))
	_, err := FromAtoms(a, h)
	if !object.IsKind(err, object.KindDecode) {
		t.Fatalf("err = %v, want decode error", err)
	}
	_, err = FromAtoms(a, object.SHA256.Sum([]byte("absent")))
	if !object.IsMissing(err, object.MissingHashPacket) {
		t.Fatalf("err = %v, want missing hash packet", err)
	}
}

func TestNoteRecordRoundTrip(t *testing.T) {
	tw := mustTwist(t, NewBuilder(nil).SetNote("hello"))
	data := tw.Atoms().Bytes()

	atoms, err := object.NewRegistry().DecodeAtoms(data)
	if err != nil {
		t.Fatalf("DecodeAtoms: %v", err)
	}
	n, err := ParseFocus(atoms, ParseNote)
	if err != nil {
		t.Fatalf("ParseNote: %v", err)
	}
	if n.Text != "hello" {
		t.Fatalf("note = %q, want %q", n.Text, "hello")
	}
	out, err := n.Serialize(object.SHA256)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if out.Focus() != tw.Hash() {
		t.Fatalf("serialized focus = %s, want %s", out.Focus(), tw.Hash())
	}
}

// sha512t is a hash algorithm registered at runtime.
type sha512t struct{}

const codeSHA512T = 0x43

func (sha512t) Code() byte       { return codeSHA512T }
func (sha512t) Name() string     { return "sha512-256" }
func (sha512t) DigestSize() int  { return sha512.Size256 }
func (sha512t) Verifiable() bool { return true }
func (sha512t) Sum(data []byte) object.Hash {
	d := sha512.Sum512_256(data)
	return object.Hash(append([]byte{codeSHA512T}, d[:]...))
}

func TestRegisteredAlgorithmCarriesForward(t *testing.T) {
	reg := object.NewRegistry()
	if err := reg.RegisterAlgorithm(sha512t{}); err != nil {
		t.Fatalf("RegisterAlgorithm: %v", err)
	}
	g := mustTwist(t, NewBuilder(sha512t{}).SetShield([]byte("salt")))

	atoms, err := reg.DecodeAtoms(g.Atoms().Bytes())
	if err != nil {
		t.Fatalf("DecodeAtoms: %v", err)
	}
	read, err := FromFocus(atoms)
	if err != nil {
		t.Fatalf("FromFocus: %v", err)
	}
	if read.Algorithm().Code() != codeSHA512T {
		t.Fatalf("Algorithm = %s, want sha512-256", read.Algorithm().Name())
	}
	next := mustTwist(t, read.CreateSuccessor())
	if next.Hash().Code() != codeSHA512T {
		t.Fatalf("successor hash code = 0x%02x, want 0x%02x", next.Hash().Code(), codeSHA512T)
	}
	k, v, err := HoistRig(read)
	if err != nil {
		t.Fatalf("HoistRig: %v", err)
	}
	if k.Code() != codeSHA512T || v.Code() != codeSHA512T {
		t.Fatalf("hoist rig codes = 0x%02x/0x%02x, want 0x%02x", k.Code(), v.Code(), codeSHA512T)
	}
}
