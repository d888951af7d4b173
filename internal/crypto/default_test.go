package crypto

import "testing"

func TestHandshakeRoundTrip(t *testing.T) {
	serverKP, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	server := NewResponder(serverKP)
	client, challenge, err := NewInitiator(serverKP.Public)
	if err != nil {
		t.Fatalf("NewInitiator() error = %v", err)
	}

	answer, serverHash, err := server.ProcessChallenge(challenge)
	if err != nil {
		t.Fatalf("ProcessChallenge() error = %v", err)
	}

	clientHash, err := client.ProcessAnswer(answer)
	if err != nil {
		t.Fatalf("ProcessAnswer() error = %v", err)
	}

	if clientHash != serverHash {
		t.Errorf("client and server derived different key hashes")
	}
}

func TestHandshakeRejectsWrongServer(t *testing.T) {
	serverKP, _ := GenerateKeyPair()
	wrongKP, _ := GenerateKeyPair()

	server := NewResponder(serverKP)
	client, challenge, _ := NewInitiator(wrongKP.Public)

	answer, _, err := server.ProcessChallenge(challenge)
	if err != nil {
		t.Fatalf("ProcessChallenge() error = %v", err)
	}

	if _, err := client.ProcessAnswer(answer); err == nil {
		t.Errorf("ProcessAnswer() succeeded against an answer from the wrong server, want error")
	}
}

func TestAEADRoundTrip(t *testing.T) {
	serverKP, _ := GenerateKeyPair()
	server := NewResponder(serverKP)
	client, challenge, _ := NewInitiator(serverKP.Public)
	answer, serverHash, _ := server.ProcessChallenge(challenge)
	clientHash, _ := client.ProcessAnswer(answer)

	label := []byte("sphynx-test-session")
	serverEnc, err := server.KeyEncryption(serverHash, label)
	if err != nil {
		t.Fatalf("KeyEncryption() server error = %v", err)
	}
	clientEnc, err := client.KeyEncryption(clientHash, label)
	if err != nil {
		t.Fatalf("KeyEncryption() client error = %v", err)
	}

	plaintext := []byte("hello from client")
	sealed, err := clientEnc.Encrypt(nil, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(sealed) != len(plaintext)+clientEnc.Overhead() {
		t.Errorf("Encrypt() length = %d, want %d", len(sealed), len(plaintext)+clientEnc.Overhead())
	}

	opened, err := serverEnc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Errorf("Decrypt() = %q, want %q", opened, plaintext)
	}
}

func TestAEADRejectsTamperedCiphertext(t *testing.T) {
	serverKP, _ := GenerateKeyPair()
	server := NewResponder(serverKP)
	client, challenge, _ := NewInitiator(serverKP.Public)
	answer, serverHash, _ := server.ProcessChallenge(challenge)
	clientHash, _ := client.ProcessAnswer(answer)

	label := []byte("sphynx-test-session")
	serverEnc, _ := server.KeyEncryption(serverHash, label)
	clientEnc, _ := client.KeyEncryption(clientHash, label)

	sealed, _ := clientEnc.Encrypt(nil, []byte("hello"))
	sealed[0] ^= 0xFF

	if _, err := serverEnc.Decrypt(sealed); err == nil {
		t.Errorf("Decrypt() accepted tampered ciphertext, want error")
	}
}
