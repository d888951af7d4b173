// Package crypto declares the two abstract capabilities the Sphynx core
// needs — KeyAgreement and AuthenticatedEncryption — and ships one default
// implementation over golang.org/x/crypto. Neither interface nor its
// default backend re-implements the bespoke ECC/Skein/ChaCha/HMAC-MD5/
// Fortuna math that the core specification places out of scope; the
// default backend exists so the module runs without requiring every caller
// to supply their own primitives.
package crypto

import "sphynx/internal/wire"

// KeyHash is the shared secret material produced by a completed key
// agreement exchange, from which session encryption is derived.
type KeyHash [32]byte

// KeyAgreement is the responder/initiator capability the handshake uses.
// Sizes of all byte slices match the wire constants in package wire
// (PublicKeyBytes, ChallengeBytes, AnswerBytes).
type KeyAgreement interface {
	// ProcessChallenge runs the server side: given the client's challenge,
	// produce an answer and the resulting key hash.
	ProcessChallenge(challenge []byte) (answer []byte, hash KeyHash, err error)

	// ProcessAnswer runs the client side: given the server's answer to a
	// previously-generated challenge, produce the resulting key hash.
	ProcessAnswer(answer []byte) (hash KeyHash, err error)

	// KeyEncryption derives an AuthenticatedEncryption session from the
	// key hash and a session key label (an opaque byte string configured
	// identically on both sides, e.g. a protocol version string).
	KeyEncryption(hash KeyHash, sessionKeyLabel []byte) (AuthenticatedEncryption, error)
}

// AuthenticatedEncryption seals and opens post-handshake datagrams. The
// spec's bespoke stream cipher fixes this at wire.EncryptionOverhead (11)
// bytes; a swapped-in backend reports its own true overhead via Overhead
// instead of silently lying about it, since MTU/fragmentation budgeting
// must account for however many bytes a concrete backend actually spends.
type AuthenticatedEncryption interface {
	// Encrypt appends ciphertext+overhead for plaintext to dst.
	Encrypt(dst, plaintext []byte) ([]byte, error)
	// Decrypt returns the plaintext (overhead stripped) or an error if
	// authentication fails. The returned slice may alias ciphertext.
	Decrypt(ciphertext []byte) ([]byte, error)
	// Overhead is the number of bytes Encrypt adds beyond len(plaintext).
	Overhead() int
}

// NewChallenge returns a fresh ChallengeBytes-long random challenge for a
// client beginning a connection attempt.
func NewChallenge(rng RandSource) ([]byte, error) {
	buf := make([]byte, wire.ChallengeBytes)
	if _, err := rng.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// RandSource is satisfied by crypto/rand.Reader.
type RandSource interface {
	Read(p []byte) (n int, err error)
}
