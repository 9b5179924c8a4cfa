package object

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// packetHeaderSize is the shape byte plus the 4-byte big-endian length.
const packetHeaderSize = 5

// MaxContentLength is the largest content a packet can carry.
const MaxContentLength = math.MaxUint32

// PacketBytes serializes p as [shape][length][content]. It panics if the
// content exceeds MaxContentLength; use WritePacket to get an error instead.
func PacketBytes(p Packet) []byte {
	content := p.Content()
	if uint64(len(content)) > MaxContentLength {
		panic(fmt.Sprintf("object: packet content too large (%d bytes)", len(content)))
	}
	out := make([]byte, packetHeaderSize+len(content))
	out[0] = byte(p.Shape())
	binary.BigEndian.PutUint32(out[1:5], uint32(len(content)))
	copy(out[packetHeaderSize:], content)
	return out
}

// WritePacket streams p to w.
func WritePacket(w io.Writer, p Packet) error {
	content := p.Content()
	if uint64(len(content)) > MaxContentLength {
		return fmt.Errorf("write packet: content too large (%d bytes)", len(content))
	}
	var hdr [packetHeaderSize]byte
	hdr[0] = byte(p.Shape())
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(content)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

// DecodePacket parses one packet from the front of b, returning it and the
// number of bytes consumed.
func (r *Registry) DecodePacket(b []byte) (Packet, int, error) {
	if len(b) < packetHeaderSize {
		return nil, 0, DecodeErrorf("decode packet: truncated header (%d bytes)", len(b))
	}
	n := int(binary.BigEndian.Uint32(b[1:5]))
	if len(b)-packetHeaderSize < n {
		return nil, 0, DecodeErrorf("decode packet: truncated content (%d of %d bytes)", len(b)-packetHeaderSize, n)
	}
	p, err := r.decodeContent(Shape(b[0]), b[packetHeaderSize:packetHeaderSize+n])
	if err != nil {
		return nil, 0, err
	}
	return p, packetHeaderSize + n, nil
}

// ReadPacket reads exactly one packet from rd.
func (r *Registry) ReadPacket(rd io.Reader) (Packet, error) {
	var hdr [packetHeaderSize]byte
	if _, err := io.ReadFull(rd, hdr[:]); err != nil {
		return nil, DecodeErrorf("read packet: truncated header: %v", err)
	}
	if _, ok := r.shapes[Shape(hdr[0])]; !ok {
		return nil, DecodeErrorf("read packet: unknown shape 0x%02x", hdr[0])
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	buf, err := io.ReadAll(io.LimitReader(rd, int64(n)))
	if err != nil {
		return nil, DecodeErrorf("read packet: %v", err)
	}
	if len(buf) != int(n) {
		return nil, DecodeErrorf("read packet: truncated content (%d of %d bytes)", len(buf), n)
	}
	return r.decodeContent(Shape(hdr[0]), buf)
}

func (r *Registry) decodeContent(shape Shape, content []byte) (Packet, error) {
	e, ok := r.shapes[shape]
	if !ok {
		return nil, DecodeErrorf("decode packet: unknown shape 0x%02x", byte(shape))
	}
	owned := make([]byte, len(content))
	copy(owned, content)
	p, err := e.decode(r, owned)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Shape decoders
// ---------------------------------------------------------------------------

func decodeArbitrary(_ *Registry, content []byte) (Packet, error) {
	return Arbitrary(content), nil
}

func (r *Registry) decodeHashes(content []byte, what string) ([]Hash, error) {
	var out []Hash
	for off := 0; off < len(content); {
		h, n, err := r.DecodeHash(content[off:])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", what, err)
		}
		out = append(out, h)
		off += n
	}
	return out, nil
}

func decodeHashList(r *Registry, content []byte) (Packet, error) {
	hs, err := r.decodeHashes(content, "hash list")
	if err != nil {
		return nil, err
	}
	return HashList(hs), nil
}

func (r *Registry) decodePairs(content []byte, what string) ([]HashPair, error) {
	hs, err := r.decodeHashes(content, what)
	if err != nil {
		return nil, err
	}
	if len(hs)%2 != 0 {
		return nil, DecodeErrorf("decode %s: odd number of hashes (%d)", what, len(hs))
	}
	pairs := make([]HashPair, 0, len(hs)/2)
	for i := 0; i < len(hs); i += 2 {
		pairs = append(pairs, HashPair{Key: hs[i], Value: hs[i+1]})
	}
	return pairs, nil
}

func decodeHashPairList(r *Registry, content []byte) (Packet, error) {
	pairs, err := r.decodePairs(content, "hash pair list")
	if err != nil {
		return nil, err
	}
	return HashPairList(pairs), nil
}

func decodePairTrie(r *Registry, content []byte) (Packet, error) {
	pairs, err := r.decodePairs(content, "pair trie")
	if err != nil {
		return nil, err
	}
	return NewPairTrie(pairs)
}

func decodeTwistBody(r *Registry, content []byte) (Packet, error) {
	hs, err := r.decodeHashes(content, "twist body")
	if err != nil {
		return nil, err
	}
	if len(hs) != 6 {
		return nil, DecodeErrorf("decode twist body: want 6 hashes, got %d", len(hs))
	}
	return TwistBody{Prev: hs[0], Tether: hs[1], Shield: hs[2], Reqs: hs[3], Rigging: hs[4], Cargo: hs[5]}, nil
}

func decodeTwistRecord(r *Registry, content []byte) (Packet, error) {
	hs, err := r.decodeHashes(content, "twist record")
	if err != nil {
		return nil, err
	}
	if len(hs) != 2 {
		return nil, DecodeErrorf("decode twist record: want 2 hashes, got %d", len(hs))
	}
	return TwistRecord{Body: hs[0], Sats: hs[1]}, nil
}
