package domain

import (
	"fmt"

	"heimdall/internal/solana"
)

// SchemaVersion tags the shape of an account update delivered by the host.
type SchemaVersion int

// Known host schema versions. Adding a version means adding a constant and a
// case to every exhaustive switch over SchemaVersion.
const (
	SchemaV1 SchemaVersion = iota + 1
	SchemaV2
	SchemaV3
)

// String returns the version label.
func (v SchemaVersion) String() string {
	switch v {
	case SchemaV1:
		return "v0.0.1"
	case SchemaV2:
		return "v0.0.2"
	case SchemaV3:
		return "v0.0.3"
	default:
		return fmt.Sprintf("SchemaVersion(%d)", int(v))
	}
}

// AccountUpdate is one account mutation delivered by the host.
type AccountUpdate struct {
	Pubkey     solana.PublicKey
	Owner      solana.PublicKey
	Lamports   uint64
	Data       []byte
	Executable bool
	Slot       uint64
	IsStartup  bool
	Version    SchemaVersion
}
