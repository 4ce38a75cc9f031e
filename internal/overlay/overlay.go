package overlay

// NatType classifies a peer's network-address-translation behavior, as
// reported by the overlay's peer list.
type NatType int

const (
	NatUnknown NatType = iota
	NatOpenInternet
	NatNoPAT
	NatFullCone
	NatRestricted
	NatPortRestricted
	NatSymmetric
	NatSymmetricUdpWall
	NatSymmetricEasyIncrease
	NatSymmetricEasyDecrease
)

// Peer describes one overlay network member.
type Peer struct {
	Hostname string
	IPv4     string
	IsLocal  bool
	Nat      NatType
}

// Overlay is the capability contract the controller programs against: it
// never depends on whether a subprocess or an in-process library backend
// is behind it.
type Overlay interface {
	// IsAlive reports whether the underlying process/session is still up.
	IsAlive() bool
	// Peers lists the overlay's current member set, or nil if it could
	// not be determined.
	Peers() []Peer
	// AddPortForwards installs rules into the running overlay, retrying
	// each failed rule up to 3 times with 500/1500/2500ms backoff. The
	// whole batch only succeeds if every rule succeeds.
	AddPortForwards(rules []PortForward) bool
	// Close kills the underlying process/session, releasing its
	// resources. Safe to call more than once.
	Close()
}
