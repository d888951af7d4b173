package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"sphynx/internal/wire"
)

// ErrHandshakeFailed is returned by ProcessChallenge/ProcessAnswer when the
// peer's material does not verify.
var ErrHandshakeFailed = errors.New("crypto: key agreement verification failed")

// KeyPair is a server's persisted long-term identity, sized to the wire
// constants (PublicKeyBytes=64 reserves room for future material beyond
// the 32-byte X25519 point; the high 32 bytes are zero and ignored by this
// backend).
type KeyPair struct {
	Public  [wire.PublicKeyBytes]byte
	Private [wire.PrivateKeyBytes]byte
}

// GenerateKeyPair creates a fresh X25519 identity.
func GenerateKeyPair() (*KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:32], pub)
	return &kp, nil
}

// responder is the server-side KeyAgreement: it holds the server's static
// private key and answers challenges from many clients.
type responder struct {
	priv [32]byte
}

// NewResponder returns the server-side KeyAgreement backed by its
// persisted static key pair.
func NewResponder(kp *KeyPair) KeyAgreement {
	r := &responder{}
	copy(r.priv[:], kp.Private[:])
	return r
}

func (r *responder) ProcessChallenge(challenge []byte) ([]byte, KeyHash, error) {
	if len(challenge) != wire.ChallengeBytes {
		return nil, KeyHash{}, errors.New("crypto: bad challenge length")
	}
	clientEphemeralPub := challenge[:32]
	nonce := challenge[32:64]

	shared, err := curve25519.X25519(r.priv[:], clientEphemeralPub)
	if err != nil {
		return nil, KeyHash{}, ErrHandshakeFailed
	}
	hash := deriveKeyHash(shared, nonce)
	tag := confirmationTag(hash, nonce)

	answer := make([]byte, wire.AnswerBytes)
	copy(answer[:32], tag)
	return answer, hash, nil
}

func (r *responder) ProcessAnswer([]byte) (KeyHash, error) {
	return KeyHash{}, errors.New("crypto: responder cannot process an answer")
}

func (r *responder) KeyEncryption(hash KeyHash, label []byte) (AuthenticatedEncryption, error) {
	return newAEAD(hash, label, false)
}

// initiator is the client-side KeyAgreement: one ephemeral keypair and a
// freshness nonce per connection attempt.
type initiator struct {
	ephemeralPriv [32]byte
	ephemeralPub  [32]byte
	serverPub     [32]byte
	nonce         [32]byte
}

// NewInitiator begins a client connection attempt against serverPublicKey
// (as advertised in the handshake's server_public_key field), returning the
// KeyAgreement to use and the ChallengeBytes-long challenge to send.
func NewInitiator(serverPublicKey [wire.PublicKeyBytes]byte) (KeyAgreement, []byte, error) {
	in := &initiator{}
	copy(in.serverPub[:], serverPublicKey[:32])

	if _, err := io.ReadFull(rand.Reader, in.ephemeralPriv[:]); err != nil {
		return nil, nil, err
	}
	pub, err := curve25519.X25519(in.ephemeralPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	copy(in.ephemeralPub[:], pub)
	if _, err := io.ReadFull(rand.Reader, in.nonce[:]); err != nil {
		return nil, nil, err
	}

	challenge := make([]byte, wire.ChallengeBytes)
	copy(challenge[:32], in.ephemeralPub[:])
	copy(challenge[32:64], in.nonce[:])
	return in, challenge, nil
}

func (in *initiator) ProcessChallenge([]byte) ([]byte, KeyHash, error) {
	return nil, KeyHash{}, errors.New("crypto: initiator cannot process a challenge")
}

func (in *initiator) ProcessAnswer(answer []byte) (KeyHash, error) {
	if len(answer) != wire.AnswerBytes {
		return KeyHash{}, errors.New("crypto: bad answer length")
	}
	shared, err := curve25519.X25519(in.ephemeralPriv[:], in.serverPub[:])
	if err != nil {
		return KeyHash{}, ErrHandshakeFailed
	}
	hash := deriveKeyHash(shared, in.nonce[:])
	want := confirmationTag(hash, in.nonce[:])
	if subtle.ConstantTimeCompare(want, answer[:32]) != 1 {
		return KeyHash{}, ErrHandshakeFailed
	}
	return hash, nil
}

func (in *initiator) KeyEncryption(hash KeyHash, label []byte) (AuthenticatedEncryption, error) {
	return newAEAD(hash, label, true)
}

func deriveKeyHash(shared, nonce []byte) KeyHash {
	h, _ := blake2b.New256(nil)
	h.Write(shared)
	h.Write(nonce)
	var out KeyHash
	copy(out[:], h.Sum(nil))
	return out
}

func confirmationTag(hash KeyHash, nonce []byte) []byte {
	h, _ := blake2b.New256(hash[:])
	h.Write([]byte("sphynx-answer-confirmation"))
	h.Write(nonce)
	return h.Sum(nil)[:32]
}

// aead is the default AuthenticatedEncryption: ChaCha20-Poly1305 keyed by
// HKDF(hash, label), with per-direction nonce prefixes so the two peers
// never reuse a nonce even though they share one session key.
type aead struct {
	cipher      cipherAEAD
	selfPrefix  [9]byte
	peerPrefix  [9]byte
	sendCounter uint32
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

func newAEAD(hash KeyHash, label []byte, isInitiator bool) (AuthenticatedEncryption, error) {
	kdf := hkdf.New(blake2b.New256, hash[:], nil, label)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	prefixes := make([]byte, 18)
	if _, err := io.ReadFull(kdf, prefixes); err != nil {
		return nil, err
	}

	a := &aead{cipher: c}
	if isInitiator {
		copy(a.selfPrefix[:], prefixes[:9])
		copy(a.peerPrefix[:], prefixes[9:])
	} else {
		copy(a.peerPrefix[:], prefixes[:9])
		copy(a.selfPrefix[:], prefixes[9:])
	}
	return a, nil
}

func (a *aead) Encrypt(dst, plaintext []byte) ([]byte, error) {
	ctr := atomic.AddUint32(&a.sendCounter, 1) - 1
	var nonce [12]byte
	copy(nonce[:9], a.selfPrefix[:])
	nonce[9] = byte(ctr)
	nonce[10] = byte(ctr >> 8)
	nonce[11] = byte(ctr >> 16)

	sealed := a.cipher.Seal(nil, nonce[:], plaintext, nil)
	dst = append(dst, sealed...)
	dst = append(dst, nonce[9], nonce[10], nonce[11])
	return dst, nil
}

func (a *aead) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < a.Overhead() {
		return nil, errors.New("crypto: ciphertext too short")
	}
	ivOff := len(ciphertext) - 3
	sealed := ciphertext[:ivOff]
	iv := ciphertext[ivOff:]

	var nonce [12]byte
	copy(nonce[:9], a.peerPrefix[:])
	copy(nonce[9:], iv)

	return a.cipher.Open(nil, nonce[:], sealed, nil)
}

func (a *aead) Overhead() int {
	return a.cipher.Overhead() + 3
}
