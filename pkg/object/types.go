package object

import (
	"bytes"
	"sort"
)

// Shape identifies the layout of a packet's content.
type Shape byte

const (
	ShapeTwistRecord  Shape = 0x48
	ShapeTwistBody    Shape = 0x49
	ShapeArbitrary    Shape = 0x60
	ShapeHashList     Shape = 0x61
	ShapeHashPairList Shape = 0x62
	ShapePairTrie     Shape = 0x63
)

// Packet is a typed, self-describing binary payload. Concrete packets are
// produced directly from the discriminator byte when decoding.
type Packet interface {
	Shape() Shape
	Content() []byte
}

// Arbitrary holds opaque bytes.
type Arbitrary []byte

func (a Arbitrary) Shape() Shape    { return ShapeArbitrary }
func (a Arbitrary) Content() []byte { return []byte(a) }

// HashList is an ordered list of hashes.
type HashList []Hash

func (l HashList) Shape() Shape { return ShapeHashList }

func (l HashList) Content() []byte {
	var buf bytes.Buffer
	for _, h := range l {
		buf.Write(h.Bytes())
	}
	return buf.Bytes()
}

// HashPair is one key/value entry of a pair list or trie.
type HashPair struct {
	Key   Hash
	Value Hash
}

// HashPairList is an ordered list of pairs. Duplicates are allowed and order
// is preserved.
type HashPairList []HashPair

func (l HashPairList) Shape() Shape { return ShapeHashPairList }

func (l HashPairList) Content() []byte {
	var buf bytes.Buffer
	for _, p := range l {
		buf.Write(p.Key.Bytes())
		buf.Write(p.Value.Bytes())
	}
	return buf.Bytes()
}

// PairTrie is a canonical key->value map: keys are unique and sorted with
// Hash.Less, so any two implementations holding the same entries produce the
// same bytes and therefore the same hash.
type PairTrie struct {
	entries []HashPair
}

// NewPairTrie builds a trie from entries that must already be sorted and
// free of duplicate keys. Anything else fails with ErrShape.
func NewPairTrie(entries []HashPair) (*PairTrie, error) {
	for i := 1; i < len(entries); i++ {
		if !entries[i-1].Key.Less(entries[i].Key) {
			if entries[i-1].Key == entries[i].Key {
				return nil, Errorf(KindDecode, ErrShape, "pair trie: duplicate key %s", entries[i].Key.Hex())
			}
			return nil, Errorf(KindDecode, ErrShape, "pair trie: key %s out of order", entries[i].Key.Hex())
		}
	}
	out := make([]HashPair, len(entries))
	copy(out, entries)
	return &PairTrie{entries: out}, nil
}

// PairTrieFromMap sorts m into a canonical trie.
func PairTrieFromMap(m map[Hash]Hash) *PairTrie {
	entries := make([]HashPair, 0, len(m))
	for k, v := range m {
		entries = append(entries, HashPair{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.Less(entries[j].Key)
	})
	return &PairTrie{entries: entries}
}

func (t *PairTrie) Shape() Shape { return ShapePairTrie }

func (t *PairTrie) Content() []byte {
	if t == nil {
		return nil
	}
	return HashPairList(t.entries).Content()
}

// Len returns the number of entries.
func (t *PairTrie) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Get returns the value for key.
func (t *PairTrie) Get(key Hash) (Hash, bool) {
	if t == nil {
		return "", false
	}
	i := sort.Search(len(t.entries), func(i int) bool {
		return !t.entries[i].Key.Less(key)
	})
	if i < len(t.entries) && t.entries[i].Key == key {
		return t.entries[i].Value, true
	}
	return "", false
}

// Entries returns a copy of the entries in canonical order.
func (t *PairTrie) Entries() []HashPair {
	if t == nil {
		return nil
	}
	out := make([]HashPair, len(t.entries))
	copy(out, t.entries)
	return out
}

// Keys returns the keys in canonical order.
func (t *PairTrie) Keys() []Hash {
	if t == nil {
		return nil
	}
	out := make([]Hash, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Key
	}
	return out
}

// Map returns the entries as a map.
func (t *PairTrie) Map() map[Hash]Hash {
	out := make(map[Hash]Hash, t.Len())
	if t != nil {
		for _, e := range t.entries {
			out[e.Key] = e.Value
		}
	}
	return out
}

// TwistBody is the signed part of a twist.
type TwistBody struct {
	Prev    Hash
	Tether  Hash
	Shield  Hash
	Reqs    Hash
	Rigging Hash
	Cargo   Hash
}

func (b TwistBody) Shape() Shape { return ShapeTwistBody }

func (b TwistBody) Content() []byte {
	return HashList{b.Prev, b.Tether, b.Shield, b.Reqs, b.Rigging, b.Cargo}.Content()
}

// TwistRecord binds a body to the satisfactions of the previous twist's
// requirements. Its hash is the twist's identity.
type TwistRecord struct {
	Body Hash
	Sats Hash
}

func (r TwistRecord) Shape() Shape { return ShapeTwistRecord }

func (r TwistRecord) Content() []byte {
	return HashList{r.Body, r.Sats}.Content()
}
