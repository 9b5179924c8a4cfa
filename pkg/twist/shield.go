package twist

import (
	"github.com/odvcencio/twine/pkg/object"
)

// Shield blinds the pair (x, y) with the shield bytes s:
//
//	Shield(x, y, s) = alg(s || x || y)
//
// where x and y are serialized hashes. Without s the result reveals nothing
// about x or y; with s anyone can recompute it.
func Shield(alg object.Algorithm, x, y object.Hash, s []byte) object.Hash {
	buf := make([]byte, 0, len(s)+len(x)+len(y))
	buf = append(buf, s...)
	buf = append(buf, x.Bytes()...)
	buf = append(buf, y.Bytes()...)
	return alg.Sum(buf)
}

// HoistKey is the singly-shielded lead hash a relay records as the rigging
// key of a hoist.
func HoistKey(alg object.Algorithm, lead object.Hash, s []byte) object.Hash {
	return Shield(alg, lead, lead, s)
}

// HoistValue is the doubly-shielded commitment stored under HoistKey.
func HoistValue(alg object.Algorithm, lead object.Hash, s []byte) object.Hash {
	k := HoistKey(alg, lead, s)
	return Shield(alg, k, k, s)
}

// HoistRig returns the rigging entry asking a relay to hoist lead. The lead
// must carry a shield.
func HoistRig(lead *Twist) (key, value object.Hash, err error) {
	s, err := lead.Shield()
	if err != nil {
		return "", "", err
	}
	if s == nil {
		return "", "", object.StructureError(object.ErrNoShield, lead.Hash(), "cannot hoist lead")
	}
	alg := lead.Algorithm()
	return HoistKey(alg, lead.Hash(), s), HoistValue(alg, lead.Hash(), s), nil
}

// IsHoistFor reports whether relay twist t carries the hoist commitment for
// lead under shield s.
func IsHoistFor(t, lead *Twist, s []byte) bool {
	alg := lead.Algorithm()
	v, ok := t.Rig(HoistKey(alg, lead.Hash(), s))
	return ok && v == HoistValue(alg, lead.Hash(), s)
}

// PostRig returns the clear rigging entry a relay records to confirm that the
// hoist of lead happened in hoist.
func PostRig(lead, hoist object.Hash) (key, value object.Hash) {
	return lead, hoist
}

// IsPostFor reports whether relay twist t records hoist as the hoist of lead
// in clear.
func IsPostFor(t *Twist, lead, hoist object.Hash) bool {
	k, v := PostRig(lead, hoist)
	got, ok := t.Rig(k)
	return ok && got == v
}
