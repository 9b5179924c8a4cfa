package reqsat

import (
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/odvcencio/twine/pkg/object"
)

// TypeDilithium3 marks requirements holding a packed Dilithium3 public key.
var TypeDilithium3 = object.NewSymbol("reqsat/dilithium3")

// Dilithium3Signer is a post-quantum signer.
type Dilithium3Signer struct {
	pub  *mode3.PublicKey
	priv *mode3.PrivateKey
}

// GenerateDilithium3 returns a signer with a fresh keypair read from rand.
func GenerateDilithium3(rand io.Reader) (*Dilithium3Signer, error) {
	pub, priv, err := mode3.GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return &Dilithium3Signer{pub: pub, priv: priv}, nil
}

func (s *Dilithium3Signer) Type() object.Hash { return TypeDilithium3 }

func (s *Dilithium3Signer) Requirement() object.Packet {
	return object.Arbitrary(s.pub.Bytes())
}

func (s *Dilithium3Signer) Sign(body object.Hash) (object.Packet, error) {
	if s.priv == nil {
		return nil, errors.New("missing private key")
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.priv, body.Bytes(), sig)
	return object.Arbitrary(sig), nil
}

type Dilithium3Verifier struct{}

func (Dilithium3Verifier) Type() object.Hash { return TypeDilithium3 }
func (Dilithium3Verifier) Name() string      { return "dilithium3" }

func (Dilithium3Verifier) Verify(req, sat object.Packet, body object.Hash) error {
	var pk mode3.PublicKey
	if err := pk.UnmarshalBinary(req.Content()); err != nil {
		return fmt.Errorf("invalid dilithium3 public key: %w", err)
	}
	sig := sat.Content()
	if len(sig) != mode3.SignatureSize {
		return errors.New("invalid dilithium3 signature length")
	}
	if !mode3.Verify(&pk, body.Bytes(), sig) {
		return errors.New("signature invalid")
	}
	return nil
}
