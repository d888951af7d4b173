package handshake

import (
	"net"
	"testing"

	"sphynx/internal/crypto"
	"sphynx/internal/wire"
)

func mustUDPAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		t.Fatalf("ResolveUDPAddr(%q) error = %v", s, err)
	}
	return a
}

func TestFullHandshakeRoundTrip(t *testing.T) {
	serverKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	jar, err := NewCookieJar()
	if err != nil {
		t.Fatalf("NewCookieJar() error = %v", err)
	}
	server := NewServer(serverKP, jar)
	client := NewClient(serverKP.Public)
	from := mustUDPAddr(t, "203.0.113.11:5000")

	hello := client.BuildHello()
	cookieMsg, err := server.HandleHello(hello, from)
	if err != nil {
		t.Fatalf("HandleHello() error = %v", err)
	}

	challenge, err := client.OnCookie(cookieMsg)
	if err != nil {
		t.Fatalf("OnCookie() error = %v", err)
	}

	pending, rawAnswer, err := server.HandleChallenge(challenge, from)
	if err != nil {
		t.Fatalf("HandleChallenge() error = %v", err)
	}
	if pending == nil {
		t.Fatalf("HandleChallenge() pending = nil, want non-nil")
	}

	answer := server.CompleteAnswer(pending, rawAnswer)
	if len(answer) != wire.S2CAnswerLen {
		t.Errorf("CompleteAnswer() length = %d, want %d", len(answer), wire.S2CAnswerLen)
	}

	clientHash, err := client.OnReply(answer)
	if err != nil {
		t.Fatalf("OnReply() error = %v", err)
	}
	if clientHash != pending.KeyHash() {
		t.Errorf("client and server key hashes differ")
	}
}

func TestDuplicateChallengeReturnsIdenticalAnswer(t *testing.T) {
	serverKP, _ := crypto.GenerateKeyPair()
	jar, _ := NewCookieJar()
	server := NewServer(serverKP, jar)
	client := NewClient(serverKP.Public)
	from := mustUDPAddr(t, "198.51.100.20:6000")

	cookieMsg, _ := server.HandleHello(client.BuildHello(), from)
	challenge, _ := client.OnCookie(cookieMsg)

	pending, rawAnswer, err := server.HandleChallenge(challenge, from)
	if err != nil {
		t.Fatalf("HandleChallenge() error = %v", err)
	}
	answer1 := server.CompleteAnswer(pending, rawAnswer)

	_, cached, err := server.HandleChallenge(challenge, from)
	if err != nil {
		t.Fatalf("HandleChallenge() (replay) error = %v", err)
	}
	if string(cached) != string(answer1) {
		t.Errorf("replayed challenge got a different answer than the first")
	}
}

func TestWrongCookieRejected(t *testing.T) {
	serverKP, _ := crypto.GenerateKeyPair()
	jar, _ := NewCookieJar()
	server := NewServer(serverKP, jar)
	client := NewClient(serverKP.Public)
	from := mustUDPAddr(t, "192.0.2.30:7000")

	cookieMsg, _ := server.HandleHello(client.BuildHello(), from)
	challenge, _ := client.OnCookie(cookieMsg)

	otherFrom := mustUDPAddr(t, "192.0.2.31:7000")
	if _, _, err := server.HandleChallenge(challenge, otherFrom); err == nil {
		t.Errorf("HandleChallenge() from a spoofed address succeeded, want error")
	}
}

func TestRejectProducesWireError(t *testing.T) {
	serverKP, _ := crypto.GenerateKeyPair()
	jar, _ := NewCookieJar()
	server := NewServer(serverKP, jar)
	client := NewClient(serverKP.Public)
	from := mustUDPAddr(t, "203.0.113.40:8000")

	cookieMsg, _ := server.HandleHello(client.BuildHello(), from)
	challenge, _ := client.OnCookie(cookieMsg)
	pending, _, err := server.HandleChallenge(challenge, from)
	if err != nil {
		t.Fatalf("HandleChallenge() error = %v", err)
	}

	reject := server.Reject(pending, wire.ErrServerFull)
	if len(reject) != wire.S2CErrorLen {
		t.Fatalf("Reject() length = %d, want %d", len(reject), wire.S2CErrorLen)
	}
	if _, err := client.OnReply(reject); err == nil {
		t.Errorf("OnReply() on an S2C_ERROR succeeded, want error")
	}
}
