// Copyright 2025 Certen Protocol
package rpc

import (
	"bytes"
	"net"
	"testing"
)

func TestWriteFrameReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, MsgCoordinatorExecute, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	msgType, body, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if msgType != MsgCoordinatorExecute {
		t.Fatalf("expected MsgCoordinatorExecute, got %d", msgType)
	}
	if string(body) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", body)
	}
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // declares a ~4GiB frame
	_, _, err := ReadFrame(&buf)
	if err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsBadVersion(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, MsgLockTryLock, []byte("x")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	corrupted := buf.Bytes()
	corrupted[4] = 0xEE // the byte right after the length prefix is the version byte
	_, _, err := ReadFrame(bytes.NewReader(corrupted))
	if err == nil {
		t.Fatalf("expected a version mismatch error")
	}
}

func TestServeConnDispatchesToRegisteredHandler(t *testing.T) {
	server := NewServer()
	server.Handle(MsgCoordinatorExecute, func(body []byte) ([]byte, error) {
		out := make([]byte, len(body))
		for i, b := range body {
			out[i] = b + 1
		}
		return out, nil
	})

	clientConn, serverConn := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- server.ServeConn(serverConn) }()

	resp, err := Call(clientConn, MsgCoordinatorExecute, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(resp, []byte{2, 3, 4}) {
		t.Fatalf("expected handler-transformed response, got %v", resp)
	}

	clientConn.Close()
	<-done
}

func TestServeConnReturnsErrorForUnregisteredMessageType(t *testing.T) {
	server := NewServer()
	clientConn, serverConn := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- server.ServeConn(serverConn) }()

	if err := WriteFrame(clientConn, MsgWatchtowerBestHeight, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	clientConn.Close()

	if err := <-done; err == nil {
		t.Fatalf("expected an error for an unregistered message type")
	}
}
