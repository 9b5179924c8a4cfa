package object

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleAtoms(t *testing.T) (*Atoms, []Hash) {
	t.Helper()
	a := NewAtoms()
	h1 := a.Put(SHA256, Arbitrary("one"))
	h2 := a.Put(BLAKE3, Arbitrary("two"))
	h3 := a.Put(SHA256, HashList{h1, h2})
	if err := a.SetFocus(h1); err != nil {
		t.Fatalf("SetFocus: %v", err)
	}
	return a, []Hash{h1, h2, h3}
}

func TestAtomsRoundTripFocusLast(t *testing.T) {
	reg := NewRegistry()
	a, hs := sampleAtoms(t)

	raw := a.Bytes()
	// The focus tuple is written last, so the stream ends with its packet.
	if !bytes.HasSuffix(raw, PacketBytes(Arbitrary("one"))) {
		t.Fatal("focus entry is not the last tuple")
	}

	got, err := reg.DecodeAtoms(raw)
	if err != nil {
		t.Fatalf("DecodeAtoms: %v", err)
	}
	if got.Focus() != hs[0] {
		t.Fatalf("Focus = %s, want %s", got.Focus().Hex(), hs[0].Hex())
	}
	if diff := cmp.Diff([]Hash{hs[1], hs[2], hs[0]}, got.Hashes()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if !bytes.Equal(got.Bytes(), raw) {
		t.Fatal("re-serialized atoms differ")
	}
}

func TestAtomsDedupAndMerge(t *testing.T) {
	a, hs := sampleAtoms(t)
	if again := a.Put(SHA256, Arbitrary("one")); again != hs[0] {
		t.Fatalf("Put returned %s for duplicate, want %s", again.Hex(), hs[0].Hex())
	}
	if a.Len() != 3 {
		t.Fatalf("Len = %d, want 3", a.Len())
	}

	b := NewAtoms()
	h4 := b.Put(SHA256, Arbitrary("four"))
	b.Put(SHA256, Arbitrary("one"))
	if err := b.SetFocus(h4); err != nil {
		t.Fatalf("SetFocus: %v", err)
	}
	a.Merge(b)
	if a.Len() != 4 {
		t.Fatalf("Len after merge = %d, want 4", a.Len())
	}
	if a.Focus() != hs[0] {
		t.Fatal("merge replaced an existing focus")
	}

	empty := NewAtoms()
	empty.Merge(b)
	if empty.Focus() != h4 {
		t.Fatal("merge into empty set did not adopt focus")
	}
}

func TestAtomsSubsetWithout(t *testing.T) {
	a, hs := sampleAtoms(t)
	sub := a.Subset(hs[1], SHA256.Sum([]byte("absent")))
	if sub.Len() != 1 || !sub.Has(hs[1]) {
		t.Fatalf("Subset = %v, want only %s", sub.Hashes(), hs[1].Hex())
	}
	if !sub.Focus().IsNull() {
		t.Fatal("Subset kept a focus it does not contain")
	}

	rest := a.Without(hs[0])
	if rest.Has(hs[0]) || rest.Len() != 2 {
		t.Fatalf("Without left %d entries", rest.Len())
	}
	if !rest.Focus().IsNull() {
		t.Fatal("Without kept a removed focus")
	}
}

func TestAtomsSetVerifiesHash(t *testing.T) {
	reg := NewRegistry()
	a := NewAtoms()
	p := Arbitrary("content")
	if err := a.Set(reg, HashPacket(SHA256, p), p); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := a.Set(reg, HashPacket(SHA256, Arbitrary("other")), p)
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("Set with wrong hash: err = %v, want ErrHashMismatch", err)
	}
	if err := a.Set(reg, NewSymbol("name"), p); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("Set with symbol key: err = %v, want ErrHashMismatch", err)
	}
}

func TestDecodeAtomsMalformed(t *testing.T) {
	reg := NewRegistry()
	a, _ := sampleAtoms(t)
	raw := a.Bytes()

	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "truncated packet", raw: raw[:len(raw)-2]},
		{name: "truncated hash", raw: raw[:10]},
		{name: "unknown code", raw: append([]byte{0x7e}, raw[1:]...)},
		{name: "tampered content", raw: tampered},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.DecodeAtoms(tc.raw)
			if !IsKind(err, KindDecode) {
				t.Fatalf("DecodeAtoms err = %v, want decode error", err)
			}
		})
	}

	empty, err := reg.DecodeAtoms(nil)
	if err != nil {
		t.Fatalf("DecodeAtoms(nil): %v", err)
	}
	if empty.Len() != 0 || !empty.Focus().IsNull() {
		t.Fatal("empty stream produced entries")
	}
}

func TestTwistFileWriteRead(t *testing.T) {
	reg := NewRegistry()
	a, hs := sampleAtoms(t)
	dir := t.TempDir()

	path, err := WriteFileIn(dir, a)
	if err != nil {
		t.Fatalf("WriteFileIn: %v", err)
	}
	if filepath.Base(path) != hs[0].Hex()+".toda" {
		t.Fatalf("file name = %q", filepath.Base(path))
	}
	got, err := reg.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got.Bytes(), a.Bytes()) {
		t.Fatal("file contents differ")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want 1 (temp file left behind?)", len(entries))
	}
}
