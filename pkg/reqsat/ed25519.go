package reqsat

import (
	"crypto/ed25519"
	"errors"
	"io"

	"github.com/odvcencio/twine/pkg/object"
)

// TypeEd25519 marks requirements holding a raw Ed25519 public key.
var TypeEd25519 = object.NewSymbol("reqsat/ed25519")

type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

// GenerateEd25519 returns a signer with a fresh key read from rand.
func GenerateEd25519(rand io.Reader) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return NewEd25519Signer(priv), nil
}

func (s *Ed25519Signer) Type() object.Hash { return TypeEd25519 }

func (s *Ed25519Signer) Requirement() object.Packet {
	return object.Arbitrary(s.priv.Public().(ed25519.PublicKey))
}

func (s *Ed25519Signer) Sign(body object.Hash) (object.Packet, error) {
	return object.Arbitrary(ed25519.Sign(s.priv, body.Bytes())), nil
}

type Ed25519Verifier struct{}

func (Ed25519Verifier) Type() object.Hash { return TypeEd25519 }
func (Ed25519Verifier) Name() string      { return "ed25519" }

func (Ed25519Verifier) Verify(req, sat object.Packet, body object.Hash) error {
	pub, sig := req.Content(), sat.Content()
	if len(pub) != ed25519.PublicKeySize {
		return errors.New("invalid ed25519 public key length")
	}
	if len(sig) != ed25519.SignatureSize {
		return errors.New("invalid ed25519 signature length")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), body.Bytes(), sig) {
		return errors.New("signature invalid")
	}
	return nil
}
