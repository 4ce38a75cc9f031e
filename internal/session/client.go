package session

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/hashicorp/yamux"

	"terracotta/internal/logging"
)

type pendingRequest struct {
	kind  string
	body  []byte
	reply chan *Response
}

// Client is a FramedSession client: one underlying yamux session over a
// single TCP connection, a single-writer goroutine that opens one stream
// per request and drains them strictly in submission order, enforcing
// "one outstanding request at a time" even though the yamux transport
// could otherwise support many concurrent streams.
type Client struct {
	session *yamux.Session
	queue   chan pendingRequest
	alive   int32
}

// Open dials ip:port and establishes a yamux client session over it.
func Open(ip string, port uint16) (*Client, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", ip, port), connTimeout)
	if err != nil {
		return nil, err
	}

	ySession, err := yamux.Client(conn, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		session: ySession,
		queue:   make(chan pendingRequest, 1),
	}
	go c.writer()
	return c, nil
}

func (c *Client) writer() {
	for req := range c.queue {
		resp, err := c.roundTrip(req.kind, req.body)
		if err != nil {
			logging.Info("ScaffoldingClient", "Session is closed: %v", err)
			atomic.StoreInt32(&c.alive, 1)
			req.reply <- nil
			close(c.queue)
			return
		}
		req.reply <- resp
	}
}

func (c *Client) roundTrip(kind string, body []byte) (*Response, error) {
	stream, err := c.session.Open()
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(connTimeout))

	if err := writeRequest(stream, kind, body); err != nil {
		return nil, err
	}
	resp, err := readResponse(stream)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsAlive reports whether the session is still usable.
func (c *Client) IsAlive() bool {
	return atomic.LoadInt32(&c.alive) == 0
}

// SendSync issues kind (namespace, path) with body and blocks for the
// response. Returns nil on socket closure or on a Fail response (which is
// logged here, matching the original's "only the core uses this" API).
func (c *Client) SendSync(namespace, path string, body []byte) *Response {
	kind := namespace + ":" + path
	reply := make(chan *Response, 1)

	defer func() {
		// A closed queue (session already dead) would panic on send;
		// recover and report failure instead.
		if r := recover(); r != nil {
			reply <- nil
		}
	}()

	if !c.IsAlive() {
		logging.Info("ScaffoldingClient", "API %s invocation failed: Session has been closed.", kind)
		return nil
	}

	c.queue <- pendingRequest{kind: kind, body: body, reply: reply}
	resp := <-reply

	if resp == nil {
		logging.Info("ScaffoldingClient", "API %s invocation failed: Session has been closed.", kind)
		return nil
	}
	if !resp.Ok {
		logging.Info("ScaffoldingClient", "API %s invocation failed with status %d: %s", kind, resp.Status, string(resp.Data))
		return nil
	}
	return resp
}

// Close tears down the underlying yamux session.
func (c *Client) Close() {
	c.session.Close()
}
