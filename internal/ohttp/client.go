package ohttp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
	"golang.org/x/crypto/chacha20poly1305"
)

// PublicConfig is the client-side view of one advertised key
// configuration.
type PublicConfig struct {
	ID        uint8
	PublicKey kem.PublicKey
}

// ParseAdvertisement decodes the binary key configuration list served at
// the key endpoint. Configurations for unsupported suites are skipped;
// an empty result is an error.
func ParseAdvertisement(b []byte) ([]PublicConfig, error) {
	var configs []PublicConfig
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, errors.New("ohttp: truncated key configuration list")
		}
		n := int(binary.BigEndian.Uint16(b[:2]))
		b = b[2:]
		if n > len(b) {
			return nil, errors.New("ohttp: key configuration length exceeds input")
		}
		cfg := b[:n]
		b = b[n:]

		// KeyID(1) + KemID(2) + PubKey(32) + SuitesLen(2) + at least one suite.
		if len(cfg) < 1+2+x25519PublicKeyLen+2+4 {
			return nil, errors.New("ohttp: key configuration too short")
		}
		keyID := cfg[0]
		kemID := binary.BigEndian.Uint16(cfg[1:3])
		if kemID != uint16(KemID) {
			continue
		}
		pubBytes := cfg[3 : 3+x25519PublicKeyLen]
		suitesLen := int(binary.BigEndian.Uint16(cfg[3+x25519PublicKeyLen : 5+x25519PublicKeyLen]))
		suites := cfg[5+x25519PublicKeyLen:]
		if suitesLen%4 != 0 || suitesLen != len(suites) {
			return nil, errors.New("ohttp: bad cipher suite list length")
		}
		supported := false
		for i := 0; i < suitesLen; i += 4 {
			kdfID := binary.BigEndian.Uint16(suites[i : i+2])
			aeadID := binary.BigEndian.Uint16(suites[i+2 : i+4])
			if kdfID == uint16(KdfID) && aeadID == uint16(AeadID) {
				supported = true
				break
			}
		}
		if !supported {
			continue
		}
		pub, err := KemID.Scheme().UnmarshalBinaryPublicKey(pubBytes)
		if err != nil {
			return nil, fmt.Errorf("ohttp: unmarshal public key: %w", err)
		}
		configs = append(configs, PublicConfig{ID: keyID, PublicKey: pub})
	}
	if len(configs) == 0 {
		return nil, errors.New("ohttp: no usable key configuration")
	}
	return configs, nil
}

// ClientSession holds the sender-side HPKE state for one encapsulated
// request, needed to open the matching response.
type ClientSession struct {
	enc    []byte
	sealer hpke.Sealer
}

// EncapsulateRequest encrypts plaintext against cfg and returns the
// encapsulated request together with the session state for the
// response.
func EncapsulateRequest(cfg PublicConfig, plaintext []byte) ([]byte, *ClientSession, error) {
	hdr := encapHeader(cfg.ID)
	suite := hpke.NewSuite(KemID, KdfID, AeadID)
	sender, err := suite.NewSender(cfg.PublicKey, requestInfo(hdr))
	if err != nil {
		return nil, nil, fmt.Errorf("ohttp: new sender: %w", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ohttp: sender setup: %w", err)
	}
	ct, err := sealer.Seal(plaintext, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("ohttp: seal request: %w", err)
	}

	out := make([]byte, 0, len(hdr)+len(enc)+len(ct))
	out = append(out, hdr...)
	out = append(out, enc...)
	out = append(out, ct...)
	return out, &ClientSession{enc: enc, sealer: sealer}, nil
}

// DecapsulateResponse opens the encapsulated response produced by the
// gateway for this session's request.
func (cs *ClientSession) DecapsulateResponse(b []byte) ([]byte, error) {
	if len(b) < responseNonceLen+chacha20poly1305.Overhead {
		return nil, errors.New("ohttp: encapsulated response too short")
	}
	responseNonce := b[:responseNonceLen]
	aead, nonce, err := responseAEAD(cs.sealer, cs.enc, responseNonce)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, b[responseNonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("ohttp: open response: %w", err)
	}
	return plaintext, nil
}
