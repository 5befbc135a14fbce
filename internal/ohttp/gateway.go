package ohttp

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cloudflare/circl/hpke"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// HPKE info and export labels from RFC 9458 §4.
const (
	labelRequest       = "message/bhttp request"
	labelResponse      = "message/bhttp response"
	labelResponseKey   = "key"
	labelResponseNonce = "nonce"
)

// responseNonceLen is max(Nn, Nk) for the supported suite: the
// ChaCha20-Poly1305 key size.
const responseNonceLen = chacha20poly1305.KeySize

// RejectKind classifies a decapsulation failure for logs and metrics
// only. The transport-level rejection a client sees is identical for
// every kind, so the gateway cannot be used as a padding or key oracle.
type RejectKind int

const (
	RejectUnknownKey RejectKind = iota
	RejectMalformedEnvelope
	RejectOpenFailure
	RejectOversize
)

func (k RejectKind) String() string {
	switch k {
	case RejectUnknownKey:
		return "unknown_key"
	case RejectMalformedEnvelope:
		return "malformed_envelope"
	case RejectOpenFailure:
		return "open_failure"
	case RejectOversize:
		return "oversize"
	default:
		return "unknown"
	}
}

// DecapsulationError carries the internal failure classification.
type DecapsulationError struct {
	Kind RejectKind
	err  error
}

func (e *DecapsulationError) Error() string {
	return fmt.Sprintf("ohttp: decapsulation failed (%s): %v", e.Kind, e.err)
}

func (e *DecapsulationError) Unwrap() error { return e.err }

// ErrContextReused signals a second Encapsulate on the same response
// context. This is a programming invariant violation, never a
// client-facing condition.
var ErrContextReused = errors.New("ohttp: response context already used")

// ResponseContext is the per-request cryptographic state produced by one
// decapsulation and consumed by exactly one response encapsulation. It
// is owned by the request handling that produced it and must never be
// shared or persisted.
type ResponseContext struct {
	enc    []byte
	opener hpke.Opener

	mu   sync.Mutex
	used bool
}

// Gateway is the cryptographic boundary between transport bytes and the
// inner plaintext message.
type Gateway struct {
	keys    *Manager
	maxSize int
}

// NewGateway creates a gateway resolving key epochs through keys and
// rejecting payloads above maxSize in either direction.
func NewGateway(keys *Manager, maxSize int) *Gateway {
	return &Gateway{keys: keys, maxSize: maxSize}
}

// Keys exposes the gateway's key epoch manager.
func (g *Gateway) Keys() *Manager { return g.keys }

// Decapsulate opens one encapsulated request and returns the inner
// plaintext together with the context needed to encapsulate the
// response. All failures come back as *DecapsulationError; callers must
// surface them as one generic rejection.
func (g *Gateway) Decapsulate(ct []byte) ([]byte, *ResponseContext, error) {
	if len(ct) > g.maxSize {
		return nil, nil, &DecapsulationError{Kind: RejectOversize, err: fmt.Errorf("ciphertext %d bytes exceeds limit %d", len(ct), g.maxSize)}
	}
	if len(ct) < encapHeaderLen+x25519PublicKeyLen {
		return nil, nil, &DecapsulationError{Kind: RejectMalformedEnvelope, err: errors.New("envelope shorter than header")}
	}

	hdr := ct[:encapHeaderLen]
	keyID := hdr[0]
	kemID := binary.BigEndian.Uint16(hdr[1:3])
	kdfID := binary.BigEndian.Uint16(hdr[3:5])
	aeadID := binary.BigEndian.Uint16(hdr[5:7])
	if kemID != uint16(KemID) || kdfID != uint16(KdfID) || aeadID != uint16(AeadID) {
		return nil, nil, &DecapsulationError{Kind: RejectMalformedEnvelope, err: fmt.Errorf("unsupported suite %04x/%04x/%04x", kemID, kdfID, aeadID)}
	}

	kc, err := g.keys.ResolveForDecapsulation(keyID)
	if err != nil {
		return nil, nil, &DecapsulationError{Kind: RejectUnknownKey, err: err}
	}

	enc := ct[encapHeaderLen : encapHeaderLen+x25519PublicKeyLen]
	info := requestInfo(hdr)
	receiver, err := kc.Suite.NewReceiver(kc.PrivateKey, info)
	if err != nil {
		return nil, nil, &DecapsulationError{Kind: RejectMalformedEnvelope, err: err}
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, nil, &DecapsulationError{Kind: RejectMalformedEnvelope, err: err}
	}
	plaintext, err := opener.Open(ct[encapHeaderLen+x25519PublicKeyLen:], nil)
	if err != nil {
		return nil, nil, &DecapsulationError{Kind: RejectOpenFailure, err: err}
	}

	encCopy := make([]byte, len(enc))
	copy(encCopy, enc)
	return plaintext, &ResponseContext{enc: encCopy, opener: opener}, nil
}

// Encapsulate encrypts one response against the saved per-request
// context. The context is single use.
func (g *Gateway) Encapsulate(rc *ResponseContext, plaintext []byte) ([]byte, error) {
	if len(plaintext) > g.maxSize {
		return nil, fmt.Errorf("ohttp: response %d bytes exceeds limit %d", len(plaintext), g.maxSize)
	}

	rc.mu.Lock()
	if rc.used {
		rc.mu.Unlock()
		return nil, ErrContextReused
	}
	rc.used = true
	rc.mu.Unlock()

	responseNonce := make([]byte, responseNonceLen)
	if _, err := io.ReadFull(rand.Reader, responseNonce); err != nil {
		return nil, fmt.Errorf("ohttp: draw response nonce: %w", err)
	}

	aead, nonce, err := responseAEAD(rc.opener, rc.enc, responseNonce)
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(responseNonce, sealed...), nil
}

func requestInfo(hdr []byte) []byte {
	info := make([]byte, 0, len(labelRequest)+1+len(hdr))
	info = append(info, labelRequest...)
	info = append(info, 0)
	info = append(info, hdr...)
	return info
}

// exporter is the part of an HPKE context both sides use to derive the
// response key schedule.
type exporter interface {
	Export(expCtx []byte, length uint) []byte
}

// responseAEAD derives the response encryption key and nonce per
// RFC 9458 §4.4: an exported secret salted with enc and the response
// nonce, expanded with HKDF-SHA256 into a ChaCha20-Poly1305 key and IV.
func responseAEAD(ctx exporter, enc, responseNonce []byte) (cipher.AEAD, []byte, error) {
	secret := ctx.Export([]byte(labelResponse), chacha20poly1305.KeySize)

	salt := make([]byte, 0, len(enc)+len(responseNonce))
	salt = append(salt, enc...)
	salt = append(salt, responseNonce...)
	prk := hkdf.Extract(sha256.New, secret, salt)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte(labelResponseKey)), key); err != nil {
		return nil, nil, fmt.Errorf("ohttp: expand response key: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte(labelResponseNonce)), nonce); err != nil {
		return nil, nil, fmt.Errorf("ohttp: expand response nonce: %w", err)
	}

	a, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("ohttp: response aead: %w", err)
	}
	return a, nonce, nil
}
