// Package reqsat implements pluggable requirement/satisfaction pairs: a twist
// declares requirements keyed by type symbol, and its successor must carry a
// satisfaction for each one that the type's registered verifier accepts.
//
// Every built-in scheme is a signature: the requirement is a public key and
// the satisfaction is a signature over the successor's body hash.
package reqsat

import (
	"fmt"
	"slices"

	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/twist"
)

// Verifier checks satisfactions of one requirement type.
type Verifier interface {
	Type() object.Hash
	Name() string
	// Verify reports whether sat proves req for the twist with the given
	// body hash. Failures should be returned as-is; VerifyLegit tags them.
	Verify(req, sat object.Packet, body object.Hash) error
}

// Signer produces requirements and satisfactions of one type.
type Signer interface {
	Type() object.Hash
	Requirement() object.Packet
	Sign(body object.Hash) (object.Packet, error)
}

// Registry maps requirement type symbols to verifiers. Build it at startup
// and treat it as read-only afterwards.
type Registry struct {
	verifiers map[object.Hash]Verifier
}

// NewRegistry returns a registry holding the built-in schemes.
func NewRegistry() *Registry {
	r := &Registry{verifiers: make(map[object.Hash]Verifier)}
	for _, v := range []Verifier{SSHVerifier{}, Ed25519Verifier{}, Dilithium3Verifier{}} {
		if err := r.Register(v); err != nil {
			panic(err)
		}
	}
	return r
}

// NewEmptyRegistry returns a registry with no schemes.
func NewEmptyRegistry() *Registry {
	return &Registry{verifiers: make(map[object.Hash]Verifier)}
}

// Register adds v. Registering a type twice is an error.
func (r *Registry) Register(v Verifier) error {
	if _, ok := r.verifiers[v.Type()]; ok {
		return fmt.Errorf("reqsat: type %s (%s) already registered", v.Type().Hex(), v.Name())
	}
	r.verifiers[v.Type()] = v
	return nil
}

// Verifier returns the verifier registered for typ.
func (r *Registry) Verifier(typ object.Hash) (Verifier, bool) {
	v, ok := r.verifiers[typ]
	return v, ok
}

// Require declares s's requirement on the twist being built.
func Require(b *twist.Builder, s Signer) {
	b.SetRequirement(s.Type(), s.Requirement())
}

// Satisfy signs the builder's body hash with each signer and records the
// satisfactions. Call it after every body field is set: satisfactions do
// not change the body hash, but any later body change invalidates them.
func Satisfy(b *twist.Builder, signers ...Signer) error {
	body := b.BodyHash()
	for _, s := range signers {
		sat, err := s.Sign(body)
		if err != nil {
			return fmt.Errorf("satisfy %s: %w", s.Type().Hex(), err)
		}
		b.SetSatisfaction(s.Type(), sat)
	}
	return nil
}

// VerifyLegit checks that next legitimately succeeds prev: next must be
// prev's successor, every requirement type must be registered, its
// satisfaction keys must equal prev's requirement keys, and every
// satisfaction must pass its type's verifier.
func (r *Registry) VerifyLegit(prev, next *twist.Twist) error {
	if next.PrevHash() != prev.Hash() {
		return object.StructureError(object.ErrNotAncestor, prev.Hash(), "twist %s does not follow", next.Hash().Hex())
	}
	reqs := prev.Reqs().Keys()
	for _, typ := range reqs {
		if _, ok := r.verifiers[typ]; !ok {
			return object.Errorf(object.KindAuth, object.ErrUnsupportedRequirement, "requirement type %s on %s", typ.Hex(), prev.Hash().Hex())
		}
	}
	sats := next.Sats().Keys()
	// Trie keys are canonical, so equal key sets compare equal in order.
	if !slices.Equal(reqs, sats) {
		return object.StructureError(object.ErrReqSatMismatch, next.Hash(),
			"%d requirements on %s, %d satisfactions", len(reqs), prev.Hash().Hex(), len(sats))
	}
	for _, typ := range reqs {
		v := r.verifiers[typ]
		req, _, err := prev.Req(typ)
		if err != nil {
			return err
		}
		sat, _, err := next.Sat(typ)
		if err != nil {
			return err
		}
		if err := v.Verify(req, sat, next.BodyHash()); err != nil {
			return &object.Error{
				Kind:    object.KindAuth,
				Hash:    next.Hash(),
				Message: fmt.Sprintf("%s satisfaction rejected", v.Name()),
				Cause:   err,
			}
		}
	}
	return nil
}
