package session

import (
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/yamux"

	"terracotta/internal/logging"
)

// Handler answers one request kind with a Response or an error (treated as
// StatusUnknown by the caller).
type Handler func(request []byte) (Response, error)

// Route pairs a handler with the "<namespace>:<path>" kind it answers.
type Route struct {
	Namespace string
	Path      string
	Handle    Handler
}

// Handlers is the table installed on a server; lookup is linear, matching
// the small fixed handler count (five entries) this protocol ever has.
type Handlers []Route

func (hs Handlers) lookup(kind string) (Handler, bool) {
	for _, r := range hs {
		if kind == r.Namespace+":"+r.Path {
			return r.Handle, true
		}
	}
	return nil, false
}

// Protocols renders the installed handler table as NUL-separated
// "namespace:path" pairs, the payload c:protocols returns.
func (hs Handlers) Protocols() []byte {
	out := make([]byte, 0, 64)
	for i, r := range hs {
		if i > 0 {
			out = append(out, 0)
		}
		out = append(out, []byte(r.Namespace+":"+r.Path)...)
	}
	return out
}

const connTimeout = 64 * time.Second

// Start binds TCP on 0.0.0.0:port (port 0 picks an ephemeral one) and
// serves handlers over a yamux-multiplexed connection per client, one
// worker goroutine per inbound stream. Returns the bound port.
func Start(handlers Handlers, port uint16) (uint16, error) {
	l, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return 0, err
	}

	bound := uint16(l.Addr().(*net.TCPAddr).Port)

	go acceptLoop(l, handlers)

	return bound, nil
}

func acceptLoop(l net.Listener, handlers Handlers) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		go serveConn(conn, handlers)
	}
}

func serveConn(conn net.Conn, handlers Handlers) {
	session, err := yamux.Server(conn, nil)
	if err != nil {
		conn.Close()
		return
	}

	for {
		stream, err := session.Accept()
		if err != nil {
			return
		}
		go serveStream(stream, handlers)
	}
}

var notFoundMsg = []byte("Requested protocol hasn't been implemented.")

func serveStream(stream net.Conn, handlers Handlers) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(connTimeout))

	kind, body, err := readRequest(stream)
	if err != nil {
		return
	}

	var resp Response
	handle, ok := handlers.lookup(kind)
	if !ok {
		resp = Response{Status: StatusUnknown, Data: notFoundMsg}
	} else {
		result, err := handle(body)
		if err != nil {
			resp = Response{Status: StatusUnknown, Data: []byte(err.Error())}
		} else {
			resp = result
		}
	}

	if err := writeResponse(stream, resp); err != nil {
		logging.Info("ScaffoldingServer", "Connection closed: %v", err)
	}
}
