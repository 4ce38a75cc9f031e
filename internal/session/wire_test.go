package session

import (
	"bytes"
	"strings"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeRequest(&buf, "c:ping", []byte{1, 2, 3}); err != nil {
		t.Fatalf("writeRequest: %v", err)
	}

	kind, body, err := readRequest(&buf)
	if err != nil {
		t.Fatalf("readRequest: %v", err)
	}
	if kind != "c:ping" {
		t.Fatalf("kind = %q, want c:ping", kind)
	}
	if !bytes.Equal(body, []byte{1, 2, 3}) {
		t.Fatalf("body = %v, want [1 2 3]", body)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Response{Ok: true, Data: []byte("hello")}
	if err := writeResponse(&buf, in); err != nil {
		t.Fatalf("writeResponse: %v", err)
	}

	out, err := readResponse(&buf)
	if err != nil {
		t.Fatalf("readResponse: %v", err)
	}
	if !out.Ok || string(out.Data) != "hello" {
		t.Fatalf("out = %+v", out)
	}
}

func TestResponseFailureStatus(t *testing.T) {
	var buf bytes.Buffer
	in := Response{Status: StatusInvalidState}
	if err := writeResponse(&buf, in); err != nil {
		t.Fatalf("writeResponse: %v", err)
	}

	out, err := readResponse(&buf)
	if err != nil {
		t.Fatalf("readResponse: %v", err)
	}
	if out.Ok {
		t.Fatalf("expected Ok=false")
	}
	if out.Status != StatusInvalidState {
		t.Fatalf("status = %d, want %d", out.Status, StatusInvalidState)
	}
}

func TestWriteRequestRejectsOversizedKind(t *testing.T) {
	var buf bytes.Buffer
	kind := strings.Repeat("x", maxKindLen+1)
	if err := writeRequest(&buf, kind, nil); err == nil {
		t.Fatalf("expected error for oversized kind")
	}
}

func TestWriteRequestRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	body := make([]byte, maxBodyLen+1)
	if err := writeRequest(&buf, "c:ping", body); err == nil {
		t.Fatalf("expected error for oversized body")
	}
}

func TestReadRequestRejectsOversizedBodyLen(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(1)
	buf.WriteString("x")
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	if _, _, err := readRequest(&buf); err == nil {
		t.Fatalf("expected error for oversized body_len")
	}
}
