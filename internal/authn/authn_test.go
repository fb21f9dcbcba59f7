package authn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noJitter() func() {
	prev := sleepJitter
	sleepJitter = func() {}
	return func() { sleepJitter = prev }
}

func TestPadSecretShorterIsRightPadded(t *testing.T) {
	got := PadSecret("abc")
	require.Equal(t, [8]byte{'a', 'b', 'c', 0, 0, 0, 0, 0}, got)
}

func TestPadSecretTruncatesLonger(t *testing.T) {
	got := PadSecret("this-is-way-too-long")
	require.Equal(t, [8]byte{'t', 'h', 'i', 's', '-', 'i', 's', '-'}, got)
}

func TestGenerateDeterministic(t *testing.T) {
	region := []byte("some vrrp region bytes without trailer")
	a := Generate(P0, "topsecret", region)
	b := Generate(P0, "topsecret", region)
	require.Equal(t, a, b)

	c := Generate(P1, "topsecret", region)
	d := Generate(P1, "topsecret", region)
	require.Equal(t, c, d)

	require.NotEqual(t, a, c)
}

func TestGenerateDiffersOnSecretOrMessage(t *testing.T) {
	region := []byte("region-bytes")
	a := Generate(P0, "secret1", region)
	b := Generate(P0, "secret2", region)
	require.NotEqual(t, a, b)

	c := Generate(P0, "secret1", []byte("other-region"))
	require.NotEqual(t, a, c)
}

func TestVerifyRoundTrip(t *testing.T) {
	defer noJitter()()

	region := []byte("region-bytes-for-verification")
	for _, typ := range []Type{Simple, P0, P1} {
		trailer := Generate(typ, "topsecret", region)
		require.True(t, Verify(typ, "topsecret", region, trailer))
		trailer[0] ^= 0xFF
		require.False(t, Verify(typ, "topsecret", region, trailer))
	}
}

func TestVerifyAllZerosRejectedWhenAuthExpected(t *testing.T) {
	defer noJitter()()

	region := []byte("region-bytes")
	require.False(t, Verify(P0, "topsecret", region, [8]byte{}))
}

func TestVerifyInsertsJitterByDefault(t *testing.T) {
	region := []byte("region-bytes")
	trailer := Generate(P0, "topsecret", region)

	start := time.Now()
	Verify(P0, "topsecret", region, trailer)
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, jitterMin)
}

func TestZeroChecksum(t *testing.T) {
	region := []byte{0x21, 10, 255, 1, 0, 1, 0xAB, 0xCD, 1, 2, 3, 4}
	out := ZeroChecksum(region)
	require.Equal(t, byte(0), out[6])
	require.Equal(t, byte(0), out[7])
	// original untouched
	require.Equal(t, byte(0xAB), region[6])
}
