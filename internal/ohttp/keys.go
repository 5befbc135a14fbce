// Package ohttp implements the Oblivious HTTP (RFC 9458) gateway side:
// key configuration management with rotation, request decapsulation and
// response encapsulation. A client-side counterpart used by the probe
// CLI and the tests lives in client.go.
package ohttp

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
)

// The supported cipher suite is fixed: X25519 key encapsulation with
// HKDF-SHA256 and ChaCha20-Poly1305, the suite payjoin clients
// encapsulate against.
const (
	KemID  = hpke.KEM_X25519_HKDF_SHA256
	KdfID  = hpke.KDF_HKDF_SHA256
	AeadID = hpke.AEAD_ChaCha20Poly1305
)

const (
	// encapHeaderLen is keyID(1) + kemID(2) + kdfID(2) + aeadID(2).
	encapHeaderLen = 7

	// x25519PublicKeyLen is Npk for the supported KEM.
	x25519PublicKeyLen = 32
)

// KeyConfig is one key epoch: a key identifier bound to an HPKE keypair.
// Configs are never mutated after creation; rotation always produces a
// fresh one with a new ID.
type KeyConfig struct {
	ID         uint8
	PrivateKey kem.PrivateKey
	PublicKey  kem.PublicKey
	Suite      hpke.Suite
	CreatedAt  time.Time
}

// NewKeyConfig generates a key configuration with a fresh keypair.
func NewKeyConfig(id uint8) (*KeyConfig, error) {
	pub, priv, err := KemID.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &KeyConfig{
		ID:         id,
		PrivateKey: priv,
		PublicKey:  pub,
		Suite:      hpke.NewSuite(KemID, KdfID, AeadID),
		CreatedAt:  time.Now(),
	}, nil
}

// UnmarshalKeyConfig reconstructs a configuration from stored private
// key bytes, so a restarted process keeps serving an existing epoch.
func UnmarshalKeyConfig(id uint8, privateKey []byte) (*KeyConfig, error) {
	priv, err := KemID.Scheme().UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("unmarshal private key: %w", err)
	}
	return &KeyConfig{
		ID:         id,
		PrivateKey: priv,
		PublicKey:  priv.Public(),
		Suite:      hpke.NewSuite(KemID, KdfID, AeadID),
		CreatedAt:  time.Now(),
	}, nil
}

// MarshalPublicConfig serializes the public half per RFC 9458 §3, with
// the 2-byte length prefix used on the wire:
//
//	KeyConfig {
//	   Key Identifier (8 bits),
//	   KEM Identifier (16 bits),
//	   Public Key (Npk bytes),
//	   Cipher Suites Length (16 bits),
//	   Cipher Suites (4 bytes each) {
//	     KDF Identifier (16 bits),
//	     AEAD Identifier (16 bits),
//	   }
//	}
func (kc *KeyConfig) MarshalPublicConfig() ([]byte, error) {
	pubBytes, err := kc.PublicKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	configLen := 1 + 2 + len(pubBytes) + 2 + 4
	buf := make([]byte, 2, 2+configLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(configLen))

	buf = append(buf, kc.ID)
	buf = binary.BigEndian.AppendUint16(buf, uint16(KemID))
	buf = append(buf, pubBytes...)
	buf = binary.BigEndian.AppendUint16(buf, 4)
	buf = binary.BigEndian.AppendUint16(buf, uint16(KdfID))
	buf = binary.BigEndian.AppendUint16(buf, uint16(AeadID))
	return buf, nil
}

// encapHeader returns the header prepended to an encapsulated request
// for the given key identifier.
func encapHeader(keyID uint8) []byte {
	hdr := make([]byte, 0, encapHeaderLen)
	hdr = append(hdr, keyID)
	hdr = binary.BigEndian.AppendUint16(hdr, uint16(KemID))
	hdr = binary.BigEndian.AppendUint16(hdr, uint16(KdfID))
	hdr = binary.BigEndian.AppendUint16(hdr, uint16(AeadID))
	return hdr
}
