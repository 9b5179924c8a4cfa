package reqsat

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/odvcencio/twine/pkg/object"
	"golang.org/x/crypto/ssh"
)

// TypeSSH marks requirements holding an SSH wire-format public key. The
// satisfaction is an SSH wire-format signature over the body hash bytes.
var TypeSSH = object.NewSymbol("reqsat/ssh")

// SSHSigner satisfies TypeSSH requirements with an SSH private key.
type SSHSigner struct {
	signer ssh.Signer
}

// NewSSHSigner wraps an ssh.Signer.
func NewSSHSigner(s ssh.Signer) *SSHSigner {
	return &SSHSigner{signer: s}
}

// ParseSSHSigner parses an unencrypted PEM or OpenSSH private key.
func ParseSSHSigner(raw []byte) (*SSHSigner, error) {
	s, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	return NewSSHSigner(s), nil
}

func (s *SSHSigner) Type() object.Hash { return TypeSSH }

func (s *SSHSigner) Requirement() object.Packet {
	return object.Arbitrary(s.signer.PublicKey().Marshal())
}

func (s *SSHSigner) Sign(body object.Hash) (object.Packet, error) {
	sig, err := s.signer.Sign(rand.Reader, body.Bytes())
	if err != nil {
		return nil, err
	}
	return object.Arbitrary(ssh.Marshal(sig)), nil
}

// PublicKey returns the signer's public key.
func (s *SSHSigner) PublicKey() ssh.PublicKey { return s.signer.PublicKey() }

// SSHVerifier verifies TypeSSH satisfactions.
type SSHVerifier struct{}

func (SSHVerifier) Type() object.Hash { return TypeSSH }
func (SSHVerifier) Name() string      { return "ssh" }

func (SSHVerifier) Verify(req, sat object.Packet, body object.Hash) error {
	pub, err := ssh.ParsePublicKey(req.Content())
	if err != nil {
		return fmt.Errorf("parse requirement key: %w", err)
	}
	var sig ssh.Signature
	if err := ssh.Unmarshal(sat.Content(), &sig); err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	if err := pub.Verify(body.Bytes(), &sig); err != nil {
		return errors.New("signature invalid")
	}
	return nil
}
