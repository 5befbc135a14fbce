package ohttp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxSize = 65536

func newTestGateway(t *testing.T, overlap time.Duration) *Gateway {
	t.Helper()
	kc, err := NewKeyConfig(1)
	require.NoError(t, err)
	return NewGateway(NewManager(kc, overlap), testMaxSize)
}

func clientConfig(t *testing.T, g *Gateway) PublicConfig {
	t.Helper()
	adv, err := g.Keys().AdvertiseBytes()
	require.NoError(t, err)
	configs, err := ParseAdvertisement(adv)
	require.NoError(t, err)
	return configs[0]
}

func TestRequestResponseRoundTrip(t *testing.T) {
	g := newTestGateway(t, time.Hour)
	cfg := clientConfig(t, g)

	capsule, session, err := EncapsulateRequest(cfg, []byte("inner request"))
	require.NoError(t, err)

	plaintext, rc, err := g.Decapsulate(capsule)
	require.NoError(t, err)
	assert.Equal(t, []byte("inner request"), plaintext)

	sealed, err := g.Encapsulate(rc, []byte("inner response"))
	require.NoError(t, err)

	opened, err := session.DecapsulateResponse(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("inner response"), opened)
}

func TestContextSingleUse(t *testing.T) {
	g := newTestGateway(t, time.Hour)
	cfg := clientConfig(t, g)

	capsule, _, err := EncapsulateRequest(cfg, []byte("x"))
	require.NoError(t, err)
	_, rc, err := g.Decapsulate(capsule)
	require.NoError(t, err)

	_, err = g.Encapsulate(rc, []byte("first"))
	require.NoError(t, err)
	_, err = g.Encapsulate(rc, []byte("second"))
	require.ErrorIs(t, err, ErrContextReused)
}

func TestRotationOverlap(t *testing.T) {
	g := newTestGateway(t, 100*time.Millisecond)
	oldCfg := clientConfig(t, g)

	next, err := NewKeyConfig(g.Keys().NextKeyID())
	require.NoError(t, err)
	g.Keys().Rotate(next)

	// A request under the previous configuration still decapsulates
	// inside the overlap window.
	capsule, _, err := EncapsulateRequest(oldCfg, []byte("late request"))
	require.NoError(t, err)
	plaintext, _, err := g.Decapsulate(capsule)
	require.NoError(t, err)
	assert.Equal(t, []byte("late request"), plaintext)

	// The advertisement now lists both epochs, current first.
	adv, err := g.Keys().AdvertiseBytes()
	require.NoError(t, err)
	configs, err := ParseAdvertisement(adv)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, next.ID, configs[0].ID)

	// After the window the retired key is unknown.
	time.Sleep(150 * time.Millisecond)
	capsule2, _, err := EncapsulateRequest(oldCfg, []byte("too late"))
	require.NoError(t, err)
	_, _, err = g.Decapsulate(capsule2)
	var dErr *DecapsulationError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, RejectUnknownKey, dErr.Kind)
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestRotationDoesNotInvalidateInFlightContext(t *testing.T) {
	g := newTestGateway(t, time.Hour)
	cfg := clientConfig(t, g)

	capsule, session, err := EncapsulateRequest(cfg, []byte("in flight"))
	require.NoError(t, err)
	_, rc, err := g.Decapsulate(capsule)
	require.NoError(t, err)

	next, err := NewKeyConfig(g.Keys().NextKeyID())
	require.NoError(t, err)
	g.Keys().Rotate(next)

	sealed, err := g.Encapsulate(rc, []byte("still works"))
	require.NoError(t, err)
	opened, err := session.DecapsulateResponse(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("still works"), opened)
}

func TestFastRotationBoundsKeySet(t *testing.T) {
	// Rotating far more often than the overlap window expires entries
	// must neither exhaust the one-byte ID space nor grow the
	// advertisement without bound.
	kc, err := NewKeyConfig(1)
	require.NoError(t, err)
	m := NewManager(kc, time.Hour)

	for i := 0; i < 300; i++ {
		next, err := NewKeyConfig(m.NextKeyID())
		require.NoError(t, err)
		m.Rotate(next)
	}

	adv, err := m.AdvertiseBytes()
	require.NoError(t, err)
	configs, err := ParseAdvertisement(adv)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(configs), maxPreviousConfigs+1)

	// The next ID is still free even with the retained set at capacity.
	inUse := make(map[uint8]bool)
	for _, cfg := range configs {
		inUse[cfg.ID] = true
	}
	assert.False(t, inUse[m.NextKeyID()])
}

func TestDecapsulateUnknownKey(t *testing.T) {
	g := newTestGateway(t, time.Hour)

	foreign, err := NewKeyConfig(9)
	require.NoError(t, err)
	foreignAdv, err := foreign.MarshalPublicConfig()
	require.NoError(t, err)
	configs, err := ParseAdvertisement(foreignAdv)
	require.NoError(t, err)

	capsule, _, err := EncapsulateRequest(configs[0], []byte("probe"))
	require.NoError(t, err)
	_, _, err = g.Decapsulate(capsule)
	var dErr *DecapsulationError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, RejectUnknownKey, dErr.Kind)
}

func TestDecapsulateTampered(t *testing.T) {
	g := newTestGateway(t, time.Hour)
	cfg := clientConfig(t, g)

	capsule, _, err := EncapsulateRequest(cfg, []byte("payload"))
	require.NoError(t, err)
	capsule[len(capsule)-1] ^= 0xff

	_, _, err = g.Decapsulate(capsule)
	var dErr *DecapsulationError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, RejectOpenFailure, dErr.Kind)
}

func TestDecapsulateMalformed(t *testing.T) {
	g := newTestGateway(t, time.Hour)

	_, _, err := g.Decapsulate([]byte{1, 2, 3})
	var dErr *DecapsulationError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, RejectMalformedEnvelope, dErr.Kind)

	_, _, err = g.Decapsulate(make([]byte, testMaxSize+1))
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, RejectOversize, dErr.Kind)
}

func TestUnmarshalKeyConfigRoundTrip(t *testing.T) {
	kc, err := NewKeyConfig(3)
	require.NoError(t, err)
	privBytes, err := kc.PrivateKey.MarshalBinary()
	require.NoError(t, err)

	restored, err := UnmarshalKeyConfig(3, privBytes)
	require.NoError(t, err)

	// A restarted process with the restored key still decrypts traffic
	// encapsulated against the original advertisement.
	g := NewGateway(NewManager(restored, time.Hour), testMaxSize)
	cfg := clientConfig(t, NewGateway(NewManager(kc, time.Hour), testMaxSize))
	capsule, _, err := EncapsulateRequest(cfg, []byte("persisted key"))
	require.NoError(t, err)
	plaintext, _, err := g.Decapsulate(capsule)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted key"), plaintext)
}
