package wire

import (
	"fmt"

	semver "github.com/Masterminds/semver/v3"
)

// CurrentProtocolVersion is the single version check spec.md §4.4/§6
// requires: inbound Call messages whose Version doesn't match produce an
// Error reply.
const CurrentProtocolVersion uint8 = 1

// ProtocolConstraint is the semver version (1.0.0) whose major number a
// configured build version must share, so deployments can describe
// compatible builds without the wire format itself growing a negotiation
// handshake — spec.md Non-goals rule out "cross-version protocol
// negotiation beyond the single-version check," so this constraint is
// advisory, checked once by cmd/meshd at startup via CheckBuildVersion,
// not per-message.
var ProtocolConstraint = semver.MustParse("1.0.0")

// CheckBuildVersion reports whether a process's build version satisfies
// the protocol constraint this wire format was generated against.
func CheckBuildVersion(buildVersion string) error {
	v, err := semver.NewVersion(buildVersion)
	if err != nil {
		return fmt.Errorf("wire: invalid build version %q: %w", buildVersion, err)
	}
	if v.Major() != ProtocolConstraint.Major() {
		return fmt.Errorf("wire: build version %s is incompatible with protocol major version %d", v, ProtocolConstraint.Major())
	}
	return nil
}

// Capability names recognised by the core (spec.md §6).
const (
	CapabilityMessageFlags        = "MessageFlags"
	CapabilityRemoteCancelableCalls = "RemoteCancelableCalls"
)

// Capabilities is the string->bool map peers negotiate at connect time.
type Capabilities map[string]bool

// Supports reports whether a capability map advertises a given capability.
func (c Capabilities) Supports(name string) bool {
	return c != nil && c[name]
}

// DefaultCapabilities is what this implementation advertises.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		CapabilityMessageFlags:          true,
		CapabilityRemoteCancelableCalls: true,
	}
}

// CheckVersion validates an inbound message's protocol version, returning
// a ready-to-send Error reply when it doesn't match (spec.md §4.4).
func CheckVersion(m Message) (Message, bool) {
	if m.Version == CurrentProtocolVersion {
		return Message{}, true
	}
	return m.ErrorReply(fmt.Sprintf("protocol version mismatch: got %d, want %d", m.Version, CurrentProtocolVersion)), false
}
