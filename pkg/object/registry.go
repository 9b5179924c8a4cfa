package object

import "fmt"

// ShapeDecoder builds a concrete packet from its content bytes.
type ShapeDecoder func(r *Registry, content []byte) (Packet, error)

type shapeEntry struct {
	name   string
	decode ShapeDecoder
}

// Registry holds the hash algorithms and packet shapes a process understands.
// Build one at startup with NewRegistry, register any extensions, then share
// it read-only: lookups take no locks.
type Registry struct {
	algorithms map[byte]Algorithm
	shapes     map[Shape]shapeEntry
}

// NewRegistry returns a registry with every built-in algorithm and shape.
func NewRegistry() *Registry {
	r := &Registry{
		algorithms: make(map[byte]Algorithm),
		shapes:     make(map[Shape]shapeEntry),
	}
	for _, a := range []Algorithm{NullAlgorithm, SymbolAlgorithm, SHA256, BLAKE3} {
		r.mustRegisterAlgorithm(a)
	}
	r.mustRegisterShape(ShapeArbitrary, "arbitrary", decodeArbitrary)
	r.mustRegisterShape(ShapeHashList, "hash-list", decodeHashList)
	r.mustRegisterShape(ShapeHashPairList, "hash-pair-list", decodeHashPairList)
	r.mustRegisterShape(ShapePairTrie, "pair-trie", decodePairTrie)
	r.mustRegisterShape(ShapeTwistBody, "twist-body", decodeTwistBody)
	r.mustRegisterShape(ShapeTwistRecord, "twist-record", decodeTwistRecord)
	return r
}

// RegisterAlgorithm adds a hash algorithm. Codes may not be reused.
func (r *Registry) RegisterAlgorithm(a Algorithm) error {
	if _, ok := r.algorithms[a.Code()]; ok {
		return fmt.Errorf("register algorithm %s: code 0x%02x already registered", a.Name(), a.Code())
	}
	r.algorithms[a.Code()] = a
	return nil
}

// RegisterShape adds a packet shape. Codes may not be reused.
func (r *Registry) RegisterShape(code Shape, name string, dec ShapeDecoder) error {
	if _, ok := r.shapes[code]; ok {
		return fmt.Errorf("register shape %s: code 0x%02x already registered", name, byte(code))
	}
	if dec == nil {
		return fmt.Errorf("register shape %s: nil decoder", name)
	}
	r.shapes[code] = shapeEntry{name: name, decode: dec}
	return nil
}

// ShapeName returns the registered name of a shape code.
func (r *Registry) ShapeName(code Shape) string {
	if e, ok := r.shapes[code]; ok {
		return e.name
	}
	return fmt.Sprintf("shape-0x%02x", byte(code))
}

func (r *Registry) mustRegisterAlgorithm(a Algorithm) {
	if err := r.RegisterAlgorithm(a); err != nil {
		panic(err)
	}
}

func (r *Registry) mustRegisterShape(code Shape, name string, dec ShapeDecoder) {
	if err := r.RegisterShape(code, name, dec); err != nil {
		panic(err)
	}
}
