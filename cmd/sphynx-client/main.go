// Command sphynx-client connects to a Sphynx server and exchanges a
// simple line-oriented chat payload on stream 1, for manual testing
// against a running sphynx-server.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"os"
	"time"

	"sphynx/internal/logging"
	"sphynx/internal/wire"
	"sphynx/pkg/sphynxnet"
)

const version = "0.1.0"

func main() {
	addr := flag.String("addr", "127.0.0.1:7777", "server address")
	pubKeyHex := flag.String("pubkey", "", "server public key, hex-encoded")
	label := flag.String("session-key-label", "sphynx-session-v1", "session key derivation label")
	flag.Parse()

	logging.Banner("Sphynx Client", version)

	if *pubKeyHex == "" {
		logging.Fatal("missing -pubkey")
	}
	raw, err := hex.DecodeString(*pubKeyHex)
	if err != nil || len(raw) != wire.PublicKeyBytes {
		logging.Fatal("bad -pubkey: want %d hex-encoded bytes", wire.PublicKeyBytes)
	}
	var pub [wire.PublicKeyBytes]byte
	copy(pub[:], raw)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(wire.ConnectTimeout)*time.Millisecond)
	defer cancel()

	client, err := sphynxnet.Dial(ctx, *addr, pub, *label)
	if err != nil {
		logging.Fatal("dial: %v", err)
	}
	defer client.Close()
	logging.Success("connected to %s", *addr)

	go func() {
		for msg := range client.Receive() {
			logging.Info("stream %d: %s", msg.Stream, msg.Data)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if err := client.Send(wire.Stream1, []byte(line), true); err != nil {
			logging.Warn("send: %v", err)
		}
	}
}
