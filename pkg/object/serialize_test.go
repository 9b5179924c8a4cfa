package object

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHashRoundTrip(t *testing.T) {
	reg := NewRegistry()
	tests := []struct {
		name string
		h    Hash
		size int
	}{
		{name: "null", h: Null, size: 1},
		{name: "sha256", h: SHA256.Sum([]byte("hello")), size: 33},
		{name: "blake3", h: BLAKE3.Sum([]byte("hello")), size: 33},
		{name: "symbol", h: NewSymbol("owner"), size: 33},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := tc.h.Bytes()
			if len(raw) != tc.size {
				t.Fatalf("len(Bytes) = %d, want %d", len(raw), tc.size)
			}
			got, n, err := reg.DecodeHash(append(raw, 0xff))
			if err != nil {
				t.Fatalf("DecodeHash: %v", err)
			}
			if n != tc.size {
				t.Fatalf("consumed %d, want %d", n, tc.size)
			}
			if got != tc.h {
				t.Fatalf("DecodeHash = %s, want %s", got.Hex(), tc.h.Hex())
			}
			parsed, err := reg.ParseHex(tc.h.Hex())
			if err != nil {
				t.Fatalf("ParseHex: %v", err)
			}
			if parsed != tc.h {
				t.Fatalf("ParseHex = %s, want %s", parsed.Hex(), tc.h.Hex())
			}
		})
	}
}

func TestHashDeterminism(t *testing.T) {
	p := Arbitrary("same bytes")
	if HashPacket(SHA256, p) != HashPacket(SHA256, Arbitrary("same bytes")) {
		t.Fatal("hashing identical packets produced different hashes")
	}
	if HashPacket(SHA256, p) == HashPacket(BLAKE3, p) {
		t.Fatal("different algorithms produced the same hash")
	}
	if HashPacket(SHA256, p) == HashPacket(SHA256, Arbitrary("other bytes")) {
		t.Fatal("different packets produced the same hash")
	}
}

func TestDecodeHashRejectsUnknownAndTruncated(t *testing.T) {
	reg := NewRegistry()
	if _, _, err := reg.DecodeHash([]byte{0x7f, 1, 2}); !IsKind(err, KindDecode) {
		t.Fatalf("unknown code: err = %v, want decode error", err)
	}
	short := SHA256.Sum([]byte("x")).Bytes()[:10]
	if _, _, err := reg.DecodeHash(short); !IsKind(err, KindDecode) {
		t.Fatalf("truncated digest: err = %v, want decode error", err)
	}
}

func TestPacketRoundTrip(t *testing.T) {
	reg := NewRegistry()
	a := SHA256.Sum([]byte("a"))
	b := SHA256.Sum([]byte("b"))
	c := NewSymbol("c")
	tests := []struct {
		name string
		p    Packet
	}{
		{name: "arbitrary", p: Arbitrary("payload")},
		{name: "empty arbitrary", p: Arbitrary{}},
		{name: "hash list", p: HashList{a, Null, c, b}},
		{name: "hash pair list", p: HashPairList{{Key: b, Value: a}, {Key: b, Value: a}}},
		{name: "pair trie", p: PairTrieFromMap(map[Hash]Hash{a: b, c: Null, b: a})},
		{name: "twist body", p: TwistBody{Prev: a, Tether: Null, Shield: b, Reqs: Null, Rigging: c, Cargo: Null}},
		{name: "twist record", p: TwistRecord{Body: a, Sats: Null}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := PacketBytes(tc.p)
			if raw[0] != byte(tc.p.Shape()) {
				t.Fatalf("shape byte = 0x%02x, want 0x%02x", raw[0], byte(tc.p.Shape()))
			}
			if n := binary.BigEndian.Uint32(raw[1:5]); int(n) != len(tc.p.Content()) {
				t.Fatalf("length = %d, want %d", n, len(tc.p.Content()))
			}
			got, n, err := reg.DecodePacket(raw)
			if err != nil {
				t.Fatalf("DecodePacket: %v", err)
			}
			if n != len(raw) {
				t.Fatalf("consumed %d, want %d", n, len(raw))
			}
			if got.Shape() != tc.p.Shape() {
				t.Fatalf("Shape = %v, want %v", got.Shape(), tc.p.Shape())
			}
			if !bytes.Equal(PacketBytes(got), raw) {
				t.Fatalf("re-serialized bytes differ")
			}
			streamed, err := reg.ReadPacket(bytes.NewReader(raw))
			if err != nil {
				t.Fatalf("ReadPacket: %v", err)
			}
			if !bytes.Equal(PacketBytes(streamed), raw) {
				t.Fatalf("streamed packet differs")
			}
		})
	}
}

func TestTwistBodyDecodesFields(t *testing.T) {
	reg := NewRegistry()
	body := TwistBody{
		Prev:    SHA256.Sum([]byte("prev")),
		Tether:  SHA256.Sum([]byte("tether")),
		Shield:  Null,
		Reqs:    Null,
		Rigging: Null,
		Cargo:   BLAKE3.Sum([]byte("cargo")),
	}
	got, _, err := reg.DecodePacket(PacketBytes(body))
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if diff := cmp.Diff(body, got); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestPairTrieOrderIndependent(t *testing.T) {
	keys := []Hash{NewSymbol("z"), NewSymbol("a"), SHA256.Sum([]byte("m")), BLAKE3.Sum([]byte("q"))}
	m1 := map[Hash]Hash{}
	m2 := map[Hash]Hash{}
	for i, k := range keys {
		m1[k] = SHA256.Sum([]byte{byte(i)})
	}
	for i := len(keys) - 1; i >= 0; i-- {
		m2[keys[i]] = SHA256.Sum([]byte{byte(i)})
	}
	b1 := PacketBytes(PairTrieFromMap(m1))
	b2 := PacketBytes(PairTrieFromMap(m2))
	if !bytes.Equal(b1, b2) {
		t.Fatal("tries built from the same entries serialize differently")
	}
	trie := PairTrieFromMap(m1)
	for k, v := range m1 {
		got, ok := trie.Get(k)
		if !ok || got != v {
			t.Fatalf("Get(%s) = %s, %v; want %s", k.Hex(), got.Hex(), ok, v.Hex())
		}
	}
	if _, ok := trie.Get(NewSymbol("absent")); ok {
		t.Fatal("Get found an absent key")
	}
}

func TestNewPairTrieRejectsNonCanonical(t *testing.T) {
	a := NewSymbol("a")
	b := NewSymbol("b")
	lo, hi := a, b
	if hi.Less(lo) {
		lo, hi = hi, lo
	}

	if _, err := NewPairTrie([]HashPair{{Key: lo, Value: Null}, {Key: hi, Value: Null}}); err != nil {
		t.Fatalf("sorted input: %v", err)
	}
	_, err := NewPairTrie([]HashPair{{Key: hi, Value: Null}, {Key: lo, Value: Null}})
	if !errors.Is(err, ErrShape) {
		t.Fatalf("unsorted input: err = %v, want ErrShape", err)
	}
	_, err = NewPairTrie([]HashPair{{Key: lo, Value: Null}, {Key: lo, Value: Null}})
	if !errors.Is(err, ErrShape) {
		t.Fatalf("duplicate input: err = %v, want ErrShape", err)
	}

	// A trie on the wire with swapped entries must not decode.
	raw := PacketBytes(HashPairList{{Key: hi, Value: Null}, {Key: lo, Value: Null}})
	raw[0] = byte(ShapePairTrie)
	if _, _, err := NewRegistry().DecodePacket(raw); !errors.Is(err, ErrShape) {
		t.Fatalf("decode non-canonical trie: err = %v, want ErrShape", err)
	}
}

func TestDecodePacketErrors(t *testing.T) {
	reg := NewRegistry()
	good := PacketBytes(Arbitrary("hello"))
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "short header", raw: good[:3]},
		{name: "truncated content", raw: good[:len(good)-1]},
		{name: "unknown shape", raw: append([]byte{0x01}, good[1:]...)},
		{name: "odd pair list", raw: append([]byte{byte(ShapeHashPairList)}, PacketBytes(HashList{Null})[1:]...)},
		{name: "bad body", raw: append([]byte{byte(ShapeTwistBody)}, PacketBytes(HashList{Null, Null})[1:]...)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := reg.DecodePacket(tc.raw); !IsKind(err, KindDecode) {
				t.Fatalf("DecodePacket err = %v, want decode error", err)
			}
		})
	}
}

func TestRegistryRejectsDuplicateCodes(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterAlgorithm(SHA256); err == nil {
		t.Fatal("re-registering sha256 succeeded")
	}
	if err := reg.RegisterShape(ShapeArbitrary, "again", decodeArbitrary); err == nil {
		t.Fatal("re-registering arbitrary succeeded")
	}
	if _, err := reg.AlgorithmByName("blake3"); err != nil {
		t.Fatalf("AlgorithmByName(blake3): %v", err)
	}
}
