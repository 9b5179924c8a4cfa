package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Hash is an algorithm-tagged digest stored as its serialized form:
// one algorithm code byte followed by the digest. Equality is byte equality.
type Hash string

// Algorithm codes for the built-in hash algorithms.
const (
	CodeNull   byte = 0x00
	CodeSymbol byte = 0x22
	CodeSHA256 byte = 0x41
	CodeBLAKE3 byte = 0x42
)

// Null is the zero-length sentinel meaning "no value".
const Null Hash = "\x00"

// Code returns the algorithm code, or CodeNull for the empty string.
func (h Hash) Code() byte {
	if len(h) == 0 {
		return CodeNull
	}
	return h[0]
}

// Digest returns a copy of the digest bytes.
func (h Hash) Digest() []byte {
	if len(h) <= 1 {
		return nil
	}
	return []byte(h[1:])
}

// Bytes returns the serialized form.
func (h Hash) Bytes() []byte {
	if len(h) == 0 {
		return []byte{CodeNull}
	}
	return []byte(h)
}

// IsNull reports whether h is the Null hash (or the zero value).
func (h Hash) IsNull() bool {
	return len(h) <= 1 && h.Code() == CodeNull
}

// IsSymbol reports whether h is an opaque Symbol identifier.
func (h Hash) IsSymbol() bool {
	return h.Code() == CodeSymbol
}

// Hex returns the lowercase hex encoding of the serialized form.
func (h Hash) Hex() string {
	return hex.EncodeToString(h.Bytes())
}

func (h Hash) String() string {
	return h.Hex()
}

// Less orders hashes by digest bytes, then algorithm code. PairTrie keys are
// kept in this order.
func (h Hash) Less(o Hash) bool {
	a, b := string(h.Digest()), string(o.Digest())
	if a != b {
		return a < b
	}
	return h.Code() < o.Code()
}

// Algorithm describes one hash algorithm the codec understands.
type Algorithm interface {
	Code() byte
	Name() string
	DigestSize() int
	// Verifiable reports whether a hash of this algorithm must reproduce from
	// the packet it keys. Symbols and Null are not verifiable.
	Verifiable() bool
	Sum(data []byte) Hash
}

type digestAlgorithm struct {
	code byte
	name string
	size int
	sum  func([]byte) []byte
}

func (a digestAlgorithm) Code() byte       { return a.code }
func (a digestAlgorithm) Name() string     { return a.name }
func (a digestAlgorithm) DigestSize() int  { return a.size }
func (a digestAlgorithm) Verifiable() bool { return a.sum != nil }

func (a digestAlgorithm) Sum(data []byte) Hash {
	if a.sum == nil {
		if a.size == 0 {
			return Null
		}
		// Symbols are named, not computed from content.
		panic("object: " + a.name + " is not a content digest")
	}
	return Hash(append([]byte{a.code}, a.sum(data)...))
}

var (
	// SHA256 is the default content digest.
	SHA256 Algorithm = digestAlgorithm{code: CodeSHA256, name: "sha256", size: sha256.Size, sum: func(b []byte) []byte {
		s := sha256.Sum256(b)
		return s[:]
	}}
	// BLAKE3 is a 256-bit BLAKE3 content digest.
	BLAKE3 Algorithm = digestAlgorithm{code: CodeBLAKE3, name: "blake3", size: 32, sum: func(b []byte) []byte {
		s := blake3.Sum256(b)
		return s[:]
	}}
	// SymbolAlgorithm tags 32-byte opaque identifiers.
	SymbolAlgorithm Algorithm = digestAlgorithm{code: CodeSymbol, name: "symbol", size: 32}
	// NullAlgorithm is the zero-length sentinel algorithm.
	NullAlgorithm Algorithm = digestAlgorithm{code: CodeNull, name: "null", size: 0}
)

// NewSymbol returns the Symbol for a field or type name. Symbols are derived
// from the name with SHA-256 but carry the Symbol code, so they are never
// checked against packet content.
func NewSymbol(name string) Hash {
	sum := sha256.Sum256([]byte(name))
	return Hash(append([]byte{CodeSymbol}, sum[:]...))
}

// HashPacket returns the content address of p under alg.
func HashPacket(alg Algorithm, p Packet) Hash {
	return alg.Sum(PacketBytes(p))
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Algorithm returns the registered algorithm for code.
func (r *Registry) Algorithm(code byte) (Algorithm, bool) {
	a, ok := r.algorithms[code]
	return a, ok
}

// AlgorithmByName returns the registered algorithm with the given name.
func (r *Registry) AlgorithmByName(name string) (Algorithm, error) {
	for _, a := range r.algorithms {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("unknown hash algorithm %q", name)
}

// DecodeHash parses a hash from the front of b, returning it and the number
// of bytes consumed.
func (r *Registry) DecodeHash(b []byte) (Hash, int, error) {
	if len(b) == 0 {
		return "", 0, DecodeErrorf("decode hash: empty input")
	}
	alg, ok := r.algorithms[b[0]]
	if !ok {
		return "", 0, DecodeErrorf("decode hash: unknown algorithm code 0x%02x", b[0])
	}
	n := 1 + alg.DigestSize()
	if len(b) < n {
		return "", 0, DecodeErrorf("decode hash: truncated %s digest (%d of %d bytes)", alg.Name(), len(b)-1, alg.DigestSize())
	}
	return Hash(b[:n]), n, nil
}

// ReadHash reads exactly one hash from rd. It returns io.EOF only when rd is
// exhausted before the first byte.
func (r *Registry) ReadHash(rd io.Reader) (Hash, error) {
	var code [1]byte
	if _, err := io.ReadFull(rd, code[:]); err != nil {
		return "", err
	}
	alg, ok := r.algorithms[code[0]]
	if !ok {
		return "", DecodeErrorf("read hash: unknown algorithm code 0x%02x", code[0])
	}
	buf := make([]byte, 1+alg.DigestSize())
	buf[0] = code[0]
	if _, err := io.ReadFull(rd, buf[1:]); err != nil {
		return "", DecodeErrorf("read hash: truncated %s digest", alg.Name())
	}
	return Hash(buf), nil
}

// ParseHex decodes a hex-encoded serialized hash, as used in file names and
// the relay wire protocol.
func (r *Registry) ParseHex(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", DecodeErrorf("parse hash %q: %v", s, err)
	}
	h, n, err := r.DecodeHash(raw)
	if err != nil {
		return "", err
	}
	if n != len(raw) {
		return "", DecodeErrorf("parse hash %q: %d trailing bytes", s, len(raw)-n)
	}
	return h, nil
}
