package overlay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"terracotta/internal/logging"
)

const ringBufferLines = 500

// ProcessRunner is the subprocess backend for Overlay: it spawns the
// overlay's core binary, captures its log output into a ring buffer, and
// drives a companion CLI binary for peer queries and port-forward
// installation. The in-process library backend described in the capability
// contract's design notes is not implemented here; any caller only ever
// depends on the Overlay interface, so a linkage-based backend can be
// added later without touching controller code.
type ProcessRunner struct {
	corePath string
	cliPath  string

	mu      sync.Mutex
	cmd     *exec.Cmd
	rpcPort uint16

	ring      []string
	ringIndex int
	ringMu    sync.Mutex

	done chan struct{}
}

// Spawn starts the overlay core binary with the given arguments and an RPC
// port chosen by the caller (see the ports package), returning a live
// ProcessRunner. The caller is responsible for choosing corePath/cliPath
// (build-time download of the overlay binary is out of scope here).
func Spawn(corePath, cliPath string, args []Argument, rpcPort uint16) (*ProcessRunner, error) {
	flat := Render(args)
	flat = append(flat, "-r", strconv.Itoa(int(rpcPort)))

	cmd := exec.Command(corePath, flat...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("overlay: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("overlay: stderr pipe: %w", err)
	}

	logging.Info("Easytier", "Starting easytier: %v, rpc=%d", flat, rpcPort)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("overlay: spawn: %w", err)
	}

	r := &ProcessRunner{
		corePath: corePath,
		cliPath:  cliPath,
		cmd:      cmd,
		rpcPort:  rpcPort,
		ring:     make([]string, ringBufferLines),
		done:     make(chan struct{}),
	}

	go r.pump(stdout)
	go r.pump(stderr)
	go r.awaitExit()

	return r, nil
}

func (r *ProcessRunner) pump(rc io.ReadCloser) {
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		r.appendLine(scanner.Text())
	}
}

func (r *ProcessRunner) appendLine(line string) {
	r.ringMu.Lock()
	defer r.ringMu.Unlock()
	r.ring[r.ringIndex] = line
	r.ringIndex = (r.ringIndex + 1) % ringBufferLines
}

func (r *ProcessRunner) awaitExit() {
	err := r.cmd.Wait()
	close(r.done)

	var sb strings.Builder
	sb.WriteString("Easytier has exited")
	if err != nil {
		fmt.Fprintf(&sb, " with error: %v", err)
	} else {
		sb.WriteString(" cleanly")
	}
	sb.WriteString(". Here's the logs:\n")
	sb.WriteString(strings.Repeat("#", 60))

	r.ringMu.Lock()
	for i := 0; i < ringBufferLines; i++ {
		line := r.ring[(r.ringIndex+i)%ringBufferLines]
		if line != "" {
			sb.WriteString("\n    ")
			sb.WriteString(line)
		}
	}
	r.ringMu.Unlock()

	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("#", 60))
	logging.Info("Easytier", "%s", sb.String())
}

// IsAlive reports whether the subprocess is still running.
func (r *ProcessRunner) IsAlive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

type peerRecord struct {
	Hostname string `json:"hostname"`
	IPv4     string `json:"ipv4"`
	Cost     string `json:"cost"`
	NatType  string `json:"nat_type"`
}

func parseNatType(s string) NatType {
	switch s {
	case "Unknown":
		return NatUnknown
	case "OpenInternet":
		return NatOpenInternet
	case "NoPat":
		return NatNoPAT
	case "FullCone":
		return NatFullCone
	case "Restricted":
		return NatRestricted
	case "PortRestricted":
		return NatPortRestricted
	case "Symmetric":
		return NatSymmetric
	case "SymUdpFirewall":
		return NatSymmetricUdpWall
	case "SymmetricEasyInc":
		return NatSymmetricEasyIncrease
	case "SymmetricEasyDec":
		return NatSymmetricEasyDecrease
	default:
		return NatUnknown
	}
}

// Peers queries the CLI companion for the current peer table.
func (r *ProcessRunner) Peers() []Peer {
	out, err := r.startCli("-p", fmt.Sprintf("127.0.0.1:%d", r.rpcPort), "-o", "json", "peer").Output()
	if err != nil {
		return nil
	}

	var records []peerRecord
	if err := json.Unmarshal(out, &records); err != nil {
		return nil
	}

	peers := make([]Peer, 0, len(records))
	for _, rec := range records {
		peers = append(peers, Peer{
			Hostname: rec.Hostname,
			IPv4:     rec.IPv4,
			IsLocal:  rec.Cost == "Local",
			Nat:      parseNatType(rec.NatType),
		})
	}
	return peers
}

// AddPortForwards installs each rule via the CLI companion, retrying
// failed rules up to 3 times with backoff time*1000+500ms for time in
// 0..3 (500ms, 1500ms, 2500ms). The whole batch succeeds only if every
// rule eventually succeeds.
func (r *ProcessRunner) AddPortForwards(rules []PortForward) bool {
	pending := make([]PortForward, len(rules))
	copy(pending, rules)

	for attempt := 0; attempt < 3; attempt++ {
		next := pending[:0]
		for _, rule := range pending {
			cmd := r.startCli("-p", fmt.Sprintf("127.0.0.1:%d", r.rpcPort),
				"port-forward", "add", rule.Proto.String(), rule.Local, rule.Remote)
			if err := cmd.Run(); err != nil {
				next = append(next, rule)
			}
		}
		pending = next
		if len(pending) == 0 {
			return true
		}
		time.Sleep(time.Duration(attempt)*time.Second + 500*time.Millisecond)
	}

	var sb strings.Builder
	sb.WriteString("Cannot add port-forward rules: ")
	for i, rule := range pending {
		fmt.Fprintf(&sb, "%s -> %s (%s)", rule.Local, rule.Remote, rule.Proto)
		if i != len(pending)-1 {
			sb.WriteString(", ")
		}
	}
	logging.Warn("EasyTier CLI", "%s", sb.String())
	return false
}

func (r *ProcessRunner) startCli(args ...string) *exec.Cmd {
	return exec.Command(r.cliPath, args...)
}

// Close kills the subprocess. Safe to call more than once.
func (r *ProcessRunner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil && r.cmd.Process != nil {
		logging.Info("EasyTier", "Killing EasyTier.")
		_ = r.cmd.Process.Kill()
	}
}
