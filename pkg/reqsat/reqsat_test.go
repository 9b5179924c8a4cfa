package reqsat

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/twist"
	"golang.org/x/crypto/ssh"
)

func newSSHSigner(t *testing.T) *SSHSigner {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}
	return NewSSHSigner(s)
}

func allSigners(t *testing.T) []Signer {
	t.Helper()
	ed, err := GenerateEd25519(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	dl, err := GenerateDilithium3(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateDilithium3: %v", err)
	}
	return []Signer{newSSHSigner(t), ed, dl}
}

// pair returns a twist requiring s and a successor built by finish.
func pair(t *testing.T, s Signer, finish func(b *twist.Builder)) (*twist.Twist, *twist.Twist) {
	t.Helper()
	gb := twist.NewBuilder(object.SHA256)
	Require(gb, s)
	g, err := gb.Twist()
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	b := g.CreateSuccessor().SetNote("next")
	finish(b)
	next, err := b.Twist()
	if err != nil {
		t.Fatalf("successor: %v", err)
	}
	return g, next
}

func TestVerifyLegitAcceptsEachScheme(t *testing.T) {
	reg := NewRegistry()
	for _, s := range allSigners(t) {
		v, _ := reg.Verifier(s.Type())
		t.Run(v.Name(), func(t *testing.T) {
			g, next := pair(t, s, func(b *twist.Builder) {
				if err := Satisfy(b, s); err != nil {
					t.Fatalf("Satisfy: %v", err)
				}
			})
			if err := reg.VerifyLegit(g, next); err != nil {
				t.Fatalf("VerifyLegit: %v", err)
			}
		})
	}
}

func TestVerifyLegitMissingSatisfaction(t *testing.T) {
	s := newSSHSigner(t)
	g, next := pair(t, s, func(*twist.Builder) {})
	err := NewRegistry().VerifyLegit(g, next)
	if !errors.Is(err, object.ErrReqSatMismatch) {
		t.Fatalf("err = %v, want ErrReqSatMismatch", err)
	}
}

func TestVerifyLegitWrongKey(t *testing.T) {
	s := newSSHSigner(t)
	other := newSSHSigner(t)
	g, next := pair(t, s, func(b *twist.Builder) {
		if err := Satisfy(b, other); err != nil {
			t.Fatalf("Satisfy: %v", err)
		}
	})
	err := NewRegistry().VerifyLegit(g, next)
	if !object.IsKind(err, object.KindAuth) {
		t.Fatalf("err = %v, want auth error", err)
	}
}

func TestVerifyLegitBodyChangedAfterSigning(t *testing.T) {
	ed, err := GenerateEd25519(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	g, next := pair(t, ed, func(b *twist.Builder) {
		if err := Satisfy(b, ed); err != nil {
			t.Fatalf("Satisfy: %v", err)
		}
		b.SetNote("edited after signing")
	})
	if err := NewRegistry().VerifyLegit(g, next); !object.IsKind(err, object.KindAuth) {
		t.Fatalf("err = %v, want auth error", err)
	}
}

func TestVerifyLegitUnsupportedType(t *testing.T) {
	ed, err := GenerateEd25519(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	g, next := pair(t, ed, func(b *twist.Builder) {
		if err := Satisfy(b, ed); err != nil {
			t.Fatalf("Satisfy: %v", err)
		}
	})
	err = NewEmptyRegistry().VerifyLegit(g, next)
	if !errors.Is(err, object.ErrUnsupportedRequirement) {
		t.Fatalf("err = %v, want ErrUnsupportedRequirement", err)
	}
	if !object.IsKind(err, object.KindAuth) {
		t.Fatalf("unsupported requirement kind: %v", err)
	}
}

func TestVerifyLegitUnsupportedTypeWithoutSatisfaction(t *testing.T) {
	ed, err := GenerateEd25519(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	g, next := pair(t, ed, func(*twist.Builder) {})
	err = NewEmptyRegistry().VerifyLegit(g, next)
	if !errors.Is(err, object.ErrUnsupportedRequirement) {
		t.Fatalf("err = %v, want ErrUnsupportedRequirement", err)
	}
	if errors.Is(err, object.ErrReqSatMismatch) {
		t.Fatalf("unsupported type reported as mismatch: %v", err)
	}
}

func TestVerifyLegitNoRequirements(t *testing.T) {
	g, err := twist.NewBuilder(nil).Twist()
	if err != nil {
		t.Fatal(err)
	}
	next, err := g.CreateSuccessor().Twist()
	if err != nil {
		t.Fatal(err)
	}
	if err := NewEmptyRegistry().VerifyLegit(g, next); err != nil {
		t.Fatalf("VerifyLegit without requirements: %v", err)
	}
	if err := NewEmptyRegistry().VerifyLegit(next, g); !errors.Is(err, object.ErrNotAncestor) {
		t.Fatalf("reversed VerifyLegit err = %v, want ErrNotAncestor", err)
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	if err := NewRegistry().Register(SSHVerifier{}); err == nil {
		t.Fatal("duplicate registration accepted")
	}
}
