// Package authn implements the three VRRPv2 advertisement
// authentication schemes of spec.md §4.2: RFC 2338 plain-text
// ("Simple"), and two proprietary truncated schemes, P0 (HMAC-SHA-256)
// and P1 (SHAKE-256 XOF), each producing an 8-byte trailer appended to
// the VRRP region.
//
// Grounded on original_source/src/auth.rs's gen_auth_data for the
// Simple and P0 schemes; P1 is this package's own extension of the
// same "truncate to 8 bytes" shape using a different primitive, per
// spec.md §4.2 (P1 does not appear in the filtered original source).
package authn

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"math/big"
	"time"

	"golang.org/x/crypto/sha3"
)

// Type identifies one of the four authentication schemes a virtual
// router may be configured with.
type Type byte

// Authentication type values from spec.md §3/§4.2.
const (
	None   Type = 0
	Simple Type = 1
	P0     Type = 250
	P1     Type = 251
)

const trailerLen = 8

// jitterMin and jitterMax bound the random delay inserted before any
// authenticator comparison, per spec.md §4.2 and DESIGN NOTES: "not a
// constant-time comparator" on its own, kept alongside a true
// constant-time compare for compatibility with the original's timing
// behavior.
const (
	jitterMin = 10 * time.Millisecond
	jitterMax = 40 * time.Millisecond
)

// sleepJitter is a package variable so tests can stub it out; it
// defaults to a real random sleep in [jitterMin, jitterMax).
var sleepJitter = func() {
	span := int64(jitterMax - jitterMin)
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	d := jitterMin
	if err == nil {
		d += time.Duration(n.Int64())
	}
	time.Sleep(d)
}

// PadSecret returns the 8-byte wire form of a Simple-auth secret: the
// first 8 bytes of secret, right-padded with NUL if shorter, per
// spec.md §3's VR invariant for auth_type=Simple.
func PadSecret(secret string) [8]byte {
	var out [8]byte
	copy(out[:], secret)
	return out
}

// Generate computes the authentication trailer for typ given the
// secret and the VRRP region with its checksum field zeroed and no
// trailer appended (vrrpRegionNoChecksum). For P0/P1 this must be
// called before the VRRP checksum itself is computed (HMAC-then-
// checksum, spec.md §4.2).
func Generate(typ Type, secret string, vrrpRegionNoChecksum []byte) [8]byte {
	switch typ {
	case Simple:
		return PadSecret(secret)
	case P0:
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(vrrpRegionNoChecksum)
		sum := mac.Sum(nil)
		var out [8]byte
		copy(out[:], sum[:trailerLen])
		return out
	case P1:
		h := sha3.NewShake256()
		h.Write([]byte(secret))
		h.Write(vrrpRegionNoChecksum)
		var out [8]byte
		_, _ = h.Read(out[:])
		return out
	default:
		return [8]byte{}
	}
}

// Verify recomputes the expected trailer for typ and reports whether
// it matches got, inserting the random jitter delay from spec.md
// §4.2 before the comparison and using a constant-time comparator.
func Verify(typ Type, secret string, vrrpRegionNoChecksum []byte, got [8]byte) bool {
	want := Generate(typ, secret, vrrpRegionNoChecksum)
	sleepJitter()
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

// ZeroChecksum returns a copy of the VRRP region with its checksum
// field (bytes 6:8 of the fixed header) set to zero, matching the
// layout the wire codec produces. It panics if region is shorter than
// the fixed header, which would indicate a caller bug upstream.
func ZeroChecksum(region []byte) []byte {
	if len(region) < 8 {
		panic("authn: VRRP region shorter than fixed header")
	}
	out := append([]byte(nil), region...)
	out[6], out[7] = 0, 0
	return out
}
