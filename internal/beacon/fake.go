package beacon

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"terracotta/internal/logging"
	"terracotta/internal/netiface"
)

const beaconInterval = 1500 * time.Millisecond

// Fake periodically emits a forged LAN beacon on every interface,
// advertising motd/port so the local game client believes a server is
// running on the machine.
type Fake struct {
	stopCh chan struct{}
	once   sync.Once
}

// NewFake starts sending beacons for port/motd every 1.5s until Close.
func NewFake(port uint16, motd string) *Fake {
	f := &Fake{stopCh: make(chan struct{})}

	ifaces, err := netiface.List()
	if err != nil {
		logging.Warn("Fake Beacon", "Cannot enumerate interfaces: %v", err)
		ifaces = nil
	}

	payload := fmt.Sprintf("%s%s%s%s%d%s", motdOpen, motd, motdClose, adOpen, port, adClose)

	started := 0
	for _, iface := range ifaces {
		if sender, err := openSender(iface); err == nil {
			go f.sendLoop(sender, payload)
			started++
		}
	}
	if started == 0 {
		// No usable interface: fall back to whatever route the OS picks.
		if sender, err := openSender(netiface.Addr{IsV4: true}); err == nil {
			go f.sendLoop(sender, payload)
		} else {
			logging.Warn("Fake Beacon", "Cannot open any sender socket: %v", err)
		}
	}

	return f
}

type beaconSender struct {
	conn net.PacketConn
	dest *net.UDPAddr
}

// openSender binds a UDP socket on the interface's address and points its
// multicast traffic out of that interface, TTL 4, with loopback enabled so
// a game client on this very machine sees the beacon too.
func openSender(iface netiface.Addr) (*beaconSender, error) {
	if iface.IsV4 {
		laddr := &net.UDPAddr{IP: iface.IP}
		conn, err := net.ListenUDP("udp4", laddr)
		if err != nil {
			return nil, err
		}
		p := ipv4.NewPacketConn(conn)
		if iface.Interface != nil {
			p.SetMulticastInterface(iface.Interface)
		}
		p.SetMulticastTTL(4)
		p.SetMulticastLoopback(true)
		dest := &net.UDPAddr{IP: net.ParseIP(multicastV4), Port: beaconPort}
		return &beaconSender{conn: conn, dest: dest}, nil
	}

	laddr := &net.UDPAddr{IP: iface.IP}
	conn, err := net.ListenUDP("udp6", laddr)
	if err != nil {
		return nil, err
	}
	p := ipv6.NewPacketConn(conn)
	if iface.Interface != nil {
		p.SetMulticastInterface(iface.Interface)
	}
	p.SetMulticastLoopback(true)
	dest := &net.UDPAddr{IP: net.ParseIP(multicastV6), Port: beaconPort}
	return &beaconSender{conn: conn, dest: dest}, nil
}

func (f *Fake) sendLoop(sender *beaconSender, payload string) {
	defer sender.conn.Close()

	ticker := time.NewTicker(beaconInterval)
	defer ticker.Stop()
	for {
		if _, err := sender.conn.WriteTo([]byte(payload), sender.dest); err != nil {
			return
		}
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Close stops all sender goroutines; idempotent.
func (f *Fake) Close() {
	f.once.Do(func() { close(f.stopCh) })
}
