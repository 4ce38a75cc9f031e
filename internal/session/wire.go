// Package session implements FramedSession: the length-prefixed,
// namespaced request/response protocol used between guest and host. Each
// TCP connection is wrapped in a yamux session; every request/response
// round-trip is carried down its own yamux stream, and the client enforces
// one outstanding request per session regardless of how many streams the
// multiplexer could carry.
package session

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	maxKindLen = 255
	maxBodyLen = 16 * 1024 * 1024
)

// Response is either a success payload or a failure with a status code;
// status 0 is reserved for success and never appears in Fail.
type Response struct {
	Ok     bool
	Status byte
	Data   []byte
}

// StatusInvalidState and StatusUnknown are the two failure codes with
// assigned meaning; handlers may also return other non-zero statuses.
const (
	StatusInvalidState = 32
	StatusUnknown      = 255
)

func writeRequest(w io.Writer, kind string, body []byte) error {
	if len(kind) > maxKindLen {
		return fmt.Errorf("session: kind %q exceeds %d bytes", kind, maxKindLen)
	}
	if len(body) > maxBodyLen {
		return fmt.Errorf("session: body exceeds %d bytes", maxBodyLen)
	}

	if _, err := w.Write([]byte{byte(len(kind))}); err != nil {
		return err
	}
	if _, err := io.WriteString(w, kind); err != nil {
		return err
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readRequest(r io.Reader) (kind string, body []byte, err error) {
	var kindLen [1]byte
	if _, err = io.ReadFull(r, kindLen[:]); err != nil {
		return "", nil, err
	}

	kindBuf := make([]byte, kindLen[0])
	if _, err = io.ReadFull(r, kindBuf); err != nil {
		return "", nil, err
	}

	var bodyLen [4]byte
	if _, err = io.ReadFull(r, bodyLen[:]); err != nil {
		return "", nil, err
	}
	n := binary.BigEndian.Uint32(bodyLen[:])
	if n > maxBodyLen {
		return "", nil, fmt.Errorf("session: body_len %d exceeds %d", n, maxBodyLen)
	}

	body = make([]byte, n)
	if _, err = io.ReadFull(r, body); err != nil {
		return "", nil, err
	}
	return string(kindBuf), body, nil
}

func writeResponse(w io.Writer, resp Response) error {
	status := resp.Status
	if resp.Ok {
		status = 0
	}
	if len(resp.Data) > maxBodyLen {
		return fmt.Errorf("session: response body exceeds %d bytes", maxBodyLen)
	}

	if _, err := w.Write([]byte{status}); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(resp.Data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(resp.Data)
	return err
}

func readResponse(r io.Reader) (Response, error) {
	var statusBuf [1]byte
	if _, err := io.ReadFull(r, statusBuf[:]); err != nil {
		return Response{}, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Response{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxBodyLen {
		return Response{}, fmt.Errorf("session: response body_len %d exceeds %d", n, maxBodyLen)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Response{}, err
	}

	status := statusBuf[0]
	return Response{Ok: status == 0, Status: status, Data: data}, nil
}
