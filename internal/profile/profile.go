// Package profile implements identity for one protected target (spec.md
// §3 "Profile"): the agent/broker OS users, the per-profile broker token
// used for HTTP bearer auth, and the socket/workspace groups the rest of
// the broker checks callers against.
package profile

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// tokenBytes is the broker token's length before hex-encoding (spec.md §3:
// "per-profile broker token, 32-byte random").
const tokenBytes = 32

// Profile is one row of the `profiles` table: the identity and transport
// configuration of a single agent/broker pair. Exactly one target daemon
// serves a profile; an installation may hold many.
type Profile struct {
	ID             string
	AgentUser      string
	AgentUID       uint32
	AgentHome      string
	BrokerUser     string
	BrokerUID      uint32
	BrokerToken    string
	SocketGroup    string
	WorkspaceGroup string
	HTTPPort       int
	CreatedAt      time.Time
}

// GenerateToken returns a new random 32-byte broker token, hex-encoded.
// Called when a profile is first created and whenever it is rotated
// (spec.md §4.3 "rotated on re-setup").
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("profile: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthorizesSocketPeer reports whether a Unix-socket caller with the given
// uid may connect to this profile's broker (spec.md §4.3 "only the broker
// user, the profile's agent user, and root may connect"). uid 0 is always
// root.
func (p *Profile) AuthorizesSocketPeer(uid uint32) bool {
	return uid == 0 || uid == p.BrokerUID || uid == p.AgentUID
}
