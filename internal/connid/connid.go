// Package connid mints process-unique Connexion identifiers, standing in
// for the original's reference-counted back-pointer into the Connexion
// arena: an xid carries its own creation timestamp and machine/process
// discriminator, so two Connexions never collide even across a process
// restart, without needing a centrally allocated counter.
package connid

import "github.com/rs/xid"

// ID is a Connexion's identity, stable for its whole lifetime.
type ID struct {
	xid.ID
}

// New mints a fresh ID.
func New() ID {
	return ID{xid.New()}
}

// Zero reports whether id is the zero value (no Connexion).
func (id ID) Zero() bool {
	return id.ID.IsZero()
}

// String renders the id for logging.
func (id ID) String() string {
	return id.ID.String()
}
