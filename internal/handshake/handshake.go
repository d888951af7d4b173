// Package handshake implements the five-message Sphynx key-agreement
// exchange (C2S_HELLO -> S2C_COOKIE -> C2S_CHALLENGE -> S2C_ANSWER /
// S2C_ERROR), including the server's stateless cookie so a half-open
// handshake costs no per-client memory until the C2S_CHALLENGE proves the
// client can receive replies at its claimed address.
package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"sphynx/internal/crypto"
	"sphynx/internal/wire"
)

var (
	errShortMessage = errors.New("handshake: message too short")
	errBadMagic     = errors.New("handshake: bad protocol magic")
	errBadCookie    = errors.New("handshake: cookie mismatch")
)

// CookieValidity is the Rotate period suggested for a CookieJar; the jar
// does not read it. A cookie stays acceptable until two Rotate calls have
// replaced the secret it was minted under.
const CookieValidity = 6 * time.Second

// CookieJar mints and verifies stateless cookies bound to a secret that
// rotates on a timer, the way a web server's CSRF token secret rotates, so
// leaking one period's secret doesn't grant an indefinite forgery window.
type CookieJar struct {
	mu      sync.RWMutex
	secrets [2][32]byte
	cur     int
}

// NewCookieJar seeds a fresh CookieJar.
func NewCookieJar() (*CookieJar, error) {
	j := &CookieJar{}
	if _, err := io.ReadFull(rand.Reader, j.secrets[0][:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, j.secrets[1][:]); err != nil {
		return nil, err
	}
	return j, nil
}

// Rotate replaces the older secret, invalidating cookies minted two
// rotations ago. Call on a timer (e.g. every CookieValidity).
func (j *CookieJar) Rotate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	next := 1 - j.cur
	if _, err := io.ReadFull(rand.Reader, j.secrets[next][:]); err != nil {
		return err
	}
	j.cur = next
	return nil
}

func (j *CookieJar) mac(secret [32]byte, addr *net.UDPAddr) uint32 {
	h, _ := blake2b.New256(secret[:])
	h.Write(addr.IP)
	var portBuf [2]byte
	binary.LittleEndian.PutUint16(portBuf[:], uint16(addr.Port))
	h.Write(portBuf[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint32(sum[:4])
}

// Issue returns a cookie for addr using the current secret.
func (j *CookieJar) Issue(addr *net.UDPAddr) uint32 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.mac(j.secrets[j.cur], addr)
}

// Verify reports whether cookie is valid for addr under either retained
// secret.
func (j *CookieJar) Verify(addr *net.UDPAddr, cookie uint32) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return cookie == j.mac(j.secrets[0], addr) || cookie == j.mac(j.secrets[1], addr)
}

// Server drives the responder side of the handshake. It is stateless
// between C2S_HELLO and C2S_CHALLENGE; a *Pending only exists from the
// point a challenge is verified until the caller installs the resulting
// Connexion.
type Server struct {
	keyPair *crypto.KeyPair
	cookies *CookieJar

	mu      sync.Mutex
	replies map[string][]byte // addr -> last S2C_ANSWER/S2C_ERROR sent, for idempotent re-send
}

// NewServer builds a handshake Server bound to kp.
func NewServer(kp *crypto.KeyPair, cookies *CookieJar) *Server {
	return &Server{keyPair: kp, cookies: cookies, replies: make(map[string][]byte)}
}

// HandleHello processes a C2S_HELLO and returns the S2C_COOKIE bytes to
// send back. No state is retained.
func (s *Server) HandleHello(msg []byte, from *net.UDPAddr) ([]byte, error) {
	if len(msg) != wire.C2SHelloLen {
		return nil, errShortMessage
	}
	if msg[0] != byte(wire.C2SHello) {
		return nil, fmt.Errorf("handshake: expected C2S_HELLO, got tag %d", msg[0])
	}
	magic := binary.LittleEndian.Uint32(msg[1:5])
	if magic != wire.ProtocolMagic {
		return nil, errBadMagic
	}
	cookie := s.cookies.Issue(from)
	out := make([]byte, wire.S2CCookieLen)
	out[0] = byte(wire.S2CCookie)
	binary.LittleEndian.PutUint32(out[1:5], cookie)
	return out, nil
}

// Pending is a verified-cookie client challenge awaiting the caller's
// admission decision (population cap, flood guard) before a Connexion is
// minted.
type Pending struct {
	From      *net.UDPAddr
	KeyAgree  crypto.KeyAgreement
	keyHash   crypto.KeyHash
}

// HandleChallenge verifies msg's cookie and key-agreement challenge,
// returning a Pending for the caller to admit or reject. If from has a
// cached reply (a retransmitted C2S_CHALLENGE for an already-answered
// connection), that exact reply is returned instead so the client's
// retry resolves without a fresh key exchange.
func (s *Server) HandleChallenge(msg []byte, from *net.UDPAddr) (*Pending, []byte, error) {
	if len(msg) != wire.C2SChallengeLen {
		return nil, nil, errShortMessage
	}
	if msg[0] != byte(wire.C2SChallenge) {
		return nil, nil, fmt.Errorf("handshake: expected C2S_CHALLENGE, got tag %d", msg[0])
	}

	s.mu.Lock()
	if cached, ok := s.replies[from.String()]; ok {
		s.mu.Unlock()
		return nil, cached, nil
	}
	s.mu.Unlock()

	magic := binary.LittleEndian.Uint32(msg[1:5])
	if magic != wire.ProtocolMagic {
		return nil, nil, errBadMagic
	}
	cookie := binary.LittleEndian.Uint32(msg[5:9])
	if !s.cookies.Verify(from, cookie) {
		return nil, nil, errBadCookie
	}
	challenge := msg[9 : 9+wire.ChallengeBytes]

	responder := crypto.NewResponder(s.keyPair)
	answer, hash, err := responder.ProcessChallenge(challenge)
	if err != nil {
		return nil, s.errorReply(from, wire.ErrWrongKey), nil
	}

	return &Pending{From: from, KeyAgree: responder, keyHash: hash}, answer, nil
}

// CompleteAnswer builds and caches the final S2C_ANSWER for a Pending the
// caller decided to admit, wrapping the raw answer bytes from
// ProcessChallenge with the message tag.
func (s *Server) CompleteAnswer(p *Pending, rawAnswer []byte) []byte {
	out := make([]byte, wire.S2CAnswerLen)
	out[0] = byte(wire.S2CAnswer)
	copy(out[1:], rawAnswer)
	s.cacheReply(p.From, out)
	return out
}

// KeyHash returns the session key-derivation hash agreed for p, set when
// HandleChallenge created p.
func (p *Pending) KeyHash() crypto.KeyHash { return p.keyHash }

// Reject builds and caches an S2C_ERROR for a Pending the caller decided
// to refuse (server full, flood guard, blocklist).
func (s *Server) Reject(p *Pending, reason wire.HandshakeError) []byte {
	return s.errorReply(p.From, reason)
}

func (s *Server) errorReply(from *net.UDPAddr, reason wire.HandshakeError) []byte {
	out := []byte{byte(wire.S2CError), byte(reason)}
	s.cacheReply(from, out)
	return out
}

func (s *Server) cacheReply(addr *net.UDPAddr, reply []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[addr.String()] = reply
}

// Forget drops the cached reply for addr, called once a Connexion fully
// transitions to the data phase or times out, so the cache does not grow
// for the life of the server.
func (s *Server) Forget(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.replies, addr.String())
}

// Client drives the initiator side of the handshake.
type Client struct {
	serverPub [wire.PublicKeyBytes]byte
	cookie    uint32
	haveCookie bool
	agree     crypto.KeyAgreement
}

// NewClient begins a connection attempt to a server advertising
// serverPublicKey.
func NewClient(serverPublicKey [wire.PublicKeyBytes]byte) *Client {
	return &Client{serverPub: serverPublicKey}
}

// BuildHello returns the C2S_HELLO bytes to send.
func (c *Client) BuildHello() []byte {
	out := make([]byte, wire.C2SHelloLen)
	out[0] = byte(wire.C2SHello)
	binary.LittleEndian.PutUint32(out[1:5], wire.ProtocolMagic)
	copy(out[5:], c.serverPub[:])
	return out
}

// OnCookie processes an S2C_COOKIE, returning the C2S_CHALLENGE to send.
func (c *Client) OnCookie(msg []byte) ([]byte, error) {
	if len(msg) != wire.S2CCookieLen || msg[0] != byte(wire.S2CCookie) {
		return nil, errShortMessage
	}
	c.cookie = binary.LittleEndian.Uint32(msg[1:5])
	c.haveCookie = true

	agree, challenge, err := crypto.NewInitiator(c.serverPub)
	if err != nil {
		return nil, err
	}
	c.agree = agree

	out := make([]byte, wire.C2SChallengeLen)
	out[0] = byte(wire.C2SChallenge)
	binary.LittleEndian.PutUint32(out[1:5], wire.ProtocolMagic)
	binary.LittleEndian.PutUint32(out[5:9], c.cookie)
	copy(out[9:], challenge)
	return out, nil
}

// OnReply processes an S2C_ANSWER or S2C_ERROR, returning the derived
// session key hash on success.
func (c *Client) OnReply(msg []byte) (crypto.KeyHash, error) {
	if len(msg) == 0 {
		return crypto.KeyHash{}, errShortMessage
	}
	switch wire.HandshakeType(msg[0]) {
	case wire.S2CAnswer:
		if len(msg) != wire.S2CAnswerLen {
			return crypto.KeyHash{}, errShortMessage
		}
		return c.agree.ProcessAnswer(msg[1:])
	case wire.S2CError:
		if len(msg) != wire.S2CErrorLen {
			return crypto.KeyHash{}, errShortMessage
		}
		return crypto.KeyHash{}, fmt.Errorf("handshake: server rejected connection, reason 0x%02x", msg[1])
	default:
		return crypto.KeyHash{}, fmt.Errorf("handshake: unexpected reply tag %d", msg[0])
	}
}

// KeyEncryption derives the post-handshake AuthenticatedEncryption session
// from hash, once OnReply has succeeded.
func (c *Client) KeyEncryption(hash crypto.KeyHash, label []byte) (crypto.AuthenticatedEncryption, error) {
	return c.agree.KeyEncryption(hash, label)
}
