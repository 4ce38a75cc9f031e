package controller

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"terracotta/internal/profile"
	"terracotta/internal/session"
)

// fingerprint is the 16-byte literal a guest sends via c:ping to prove the
// remote is a Terracotta host rather than an unrelated listener.
var fingerprint = [16]byte{0x41, 0x57, 0x48, 0x44, 0x86, 0x37, 0x40, 0x59, 0x57, 0x44, 0x92, 0x43, 0x96, 0x99, 0x85, 0x01}

// Fingerprint exposes the literal so the guest supervisor can send it.
func Fingerprint() []byte {
	out := make([]byte, len(fingerprint))
	copy(out, fingerprint[:])
	return out
}

// Handlers builds the c:ping/c:protocols/c:server_port/c:player_ping/
// c:player_profiles_list table, bound to cell. Installed on the server
// side of a FramedSession listener in HostStarting→HostOk.
func Handlers(cell *Cell) session.Handlers {
	var hs session.Handlers
	hs = session.Handlers{
		{Namespace: "c", Path: "ping", Handle: handlePing},
		{Namespace: "c", Path: "protocols", Handle: func(_ []byte) (session.Response, error) {
			return session.Response{Ok: true, Data: hs.Protocols()}, nil
		}},
		{Namespace: "c", Path: "server_port", Handle: handleServerPort(cell)},
		{Namespace: "c", Path: "player_ping", Handle: handlePlayerPing(cell)},
		{Namespace: "c", Path: "player_profiles_list", Handle: handlePlayerProfilesList(cell)},
	}
	return hs
}

func handlePing(request []byte) (session.Response, error) {
	return session.Response{Ok: true, Data: append([]byte(nil), request...)}, nil
}

func handleServerPort(cell *Cell) session.Handler {
	return func(_ []byte) (session.Response, error) {
		g := cell.Acquire()
		defer g.Release()

		st := g.Value()
		if st.Kind != HostOk {
			return session.Response{Status: session.StatusInvalidState}, nil
		}

		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], st.Port)
		return session.Response{Ok: true, Data: buf[:]}, nil
	}
}

type playerPingBody struct {
	MachineID string `json:"machine_id"`
	Name      string `json:"name"`
	Vendor    string `json:"vendor"`
}

func handlePlayerPing(cell *Cell) session.Handler {
	return func(request []byte) (session.Response, error) {
		var body playerPingBody
		if err := json.Unmarshal(request, &body); err != nil {
			return session.Response{}, fmt.Errorf("invalid player_ping body: %w", err)
		}

		g := cell.Acquire()
		st := g.Value()
		if st.Kind != HostOk {
			g.Release()
			return session.Response{Status: session.StatusInvalidState}, nil
		}

		if len(st.HostProfiles) > 0 && st.HostProfiles[0].Profile.MachineID == body.MachineID {
			g.Release()
			return session.Response{}, fmt.Errorf("machine_id %q collides with the host's own entry", body.MachineID)
		}

		now := time.Now()
		for i := 1; i < len(st.HostProfiles); i++ {
			if st.HostProfiles[i].Profile.MachineID == body.MachineID {
				st.HostProfiles[i].LastSeen = now
				if st.HostProfiles[i].Profile.Name != body.Name {
					st.HostProfiles[i].Profile.Name = body.Name
					g.IncreaseShared()
				} else {
					g.Release()
				}
				return session.Response{Ok: true}, nil
			}
		}

		st.HostProfiles = append(st.HostProfiles, TrackedProfile{
			LastSeen: now,
			Profile: profile.Profile{
				MachineID: body.MachineID,
				Name:      body.Name,
				Vendor:    body.Vendor,
				Kind:      profile.GUEST,
			},
		})
		g.IncreaseShared()
		return session.Response{Ok: true}, nil
	}
}

func handlePlayerProfilesList(cell *Cell) session.Handler {
	return func(_ []byte) (session.Response, error) {
		g := cell.Acquire()
		defer g.Release()

		st := g.Value()
		if st.Kind != HostOk {
			return session.Response{Status: session.StatusInvalidState}, nil
		}

		wire := make([]profile.Wire, 0, len(st.HostProfiles))
		for _, tp := range st.HostProfiles {
			wire = append(wire, profile.Wire{
				MachineID: tp.Profile.MachineID,
				Name:      tp.Profile.Name,
				Vendor:    tp.Profile.Vendor,
				Kind:      tp.Profile.Kind.String(),
			})
		}

		data, err := json.Marshal(wire)
		if err != nil {
			return session.Response{}, err
		}
		return session.Response{Ok: true, Data: data}, nil
	}
}
