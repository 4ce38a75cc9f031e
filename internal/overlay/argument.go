package overlay

import "fmt"

// Proto is a port-forward/listener transport.
type Proto int

const (
	TCP Proto = iota
	UDP
)

func (p Proto) String() string {
	if p == UDP {
		return "udp"
	}
	return "tcp"
}

// PortForward is one local/remote mapping installed via AddPortForwards.
type PortForward struct {
	Local  string
	Remote string
	Proto  Proto
}

// Argument is the capability-contract configuration record the overlay
// runner renders to its native CLI invocation. The controller only ever
// builds Arguments; it never depends on the runner's rendering.
type Argument interface {
	render() []string
}

type flagArg string

func (f flagArg) render() []string { return []string{string(f)} }

// NoTun, MultiThread, LatencyFirst, EnableKcpProxy, P2POnly, DHCP are
// bare capability flags.
var (
	NoTun          Argument = flagArg("--no-tun")
	MultiThread    Argument = flagArg("--multi-thread")
	LatencyFirst   Argument = flagArg("--latency-first")
	EnableKcpProxy Argument = flagArg("--enable-kcp-proxy")
	P2POnly        Argument = flagArg("--p2p-only")
	DHCP           Argument = flagArg("-d")
)

type compressionArg string

func (c compressionArg) render() []string { return []string{fmt.Sprintf("--compression=%s", string(c))} }

// Compression selects the overlay's compression method (Terracotta always
// uses "zstd").
func Compression(method string) Argument { return compressionArg(method) }

type networkNameArg string

func (a networkNameArg) render() []string { return []string{"--network-name", string(a)} }

// NetworkName sets the overlay network identity minted/parsed from a Room.
func NetworkName(name string) Argument { return networkNameArg(name) }

type networkSecretArg string

func (a networkSecretArg) render() []string { return []string{"--network-secret", string(a)} }

// NetworkSecret sets the overlay network's shared secret.
func NetworkSecret(secret string) Argument { return networkSecretArg(secret) }

type publicServerArg string

func (a publicServerArg) render() []string { return []string{"-p", string(a)} }

// PublicServer adds a bootstrap/relay node URI.
func PublicServer(uri string) Argument { return publicServerArg(uri) }

type listenerArg struct {
	address string
	proto   Proto
}

func (a listenerArg) render() []string {
	return []string{"-l", fmt.Sprintf("%s://%s", a.proto, a.address)}
}

// Listener adds a listen address/proto pair.
func Listener(address string, proto Proto) Argument { return listenerArg{address, proto} }

type portForwardArg PortForward

func (a portForwardArg) render() []string {
	return []string{fmt.Sprintf("--port-forward=%s://%s/%s", Proto(a.Proto), a.Local, a.Remote)}
}

// PortForwardArg renders a single port-forward rule as a startup argument
// (distinct from AddPortForwards, which installs rules into a running
// overlay process via its CLI companion).
func PortForwardArg(pf PortForward) Argument { return portForwardArg(pf) }

type hostNameArg string

func (a hostNameArg) render() []string { return []string{"--hostname", string(a)} }

// HostName sets the overlay-visible hostname; the host sets
// "scaffolding-mc-server-<port>" and guests discover it by that prefix.
func HostName(name string) Argument { return hostNameArg(name) }

type ipv4Arg string

func (a ipv4Arg) render() []string { return []string{"--ipv4", string(a)} }

// IPv4 sets the overlay's virtual IPv4 address (the host uses
// "10.144.144.1").
func IPv4(addr string) Argument { return ipv4Arg(addr) }

type tcpWhitelistArg uint16

func (a tcpWhitelistArg) render() []string { return []string{fmt.Sprintf("--tcp-whitelist=%d", uint16(a))} }

// TcpWhitelist opens a TCP port through the overlay's firewall.
func TcpWhitelist(port uint16) Argument { return tcpWhitelistArg(port) }

type udpWhitelistArg uint16

func (a udpWhitelistArg) render() []string { return []string{fmt.Sprintf("--udp-whitelist=%d", uint16(a))} }

// UdpWhitelist opens a UDP port through the overlay's firewall.
func UdpWhitelist(port uint16) Argument { return udpWhitelistArg(port) }

// Render flattens a slice of Arguments into the flat CLI argument list the
// runner spawns its subprocess with.
func Render(args []Argument) []string {
	out := make([]string, 0, len(args)*2)
	for _, a := range args {
		out = append(out, a.render()...)
	}
	return out
}
