// Package sphynxnet is the public API: Listen to run a Sphynx server,
// Dial to connect to one, Send/Receive to move reliable or unreliable
// messages over the four lanes once connected.
package sphynxnet

import (
	"sphynx/internal/config"
	"sphynx/internal/crypto"
	"sphynx/internal/keystore"
	"sphynx/internal/metrics"
	"sphynx/internal/worker"
)

// Server is a running Sphynx listener.
type Server struct {
	w *worker.Server
}

// Listen loads (or creates) the server's long-term key pair from
// cfg.KeyPairPath and starts listening for connections per cfg.
func Listen(cfg config.Config) (*Server, error) {
	kp, err := keystore.Load(cfg.KeyPairPath)
	if err != nil {
		return nil, err
	}
	return ListenWithKeyPair(cfg, kp)
}

// ListenWithKeyPair is Listen with an explicit key pair, useful for tests
// that don't want to touch disk.
func ListenWithKeyPair(cfg config.Config, kp *crypto.KeyPair) (*Server, error) {
	w, err := worker.NewServer(cfg, kp)
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		return nil, err
	}
	return &Server{w: w}, nil
}

// Metrics returns the Prometheus collector for this server.
func (s *Server) Metrics() *metrics.Collector { return s.w.Metrics() }

// Close stops the listener.
func (s *Server) Close() {
	s.w.Stop()
}
