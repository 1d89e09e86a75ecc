// Copyright 2025 Certen Protocol
//
// Package rpc implements §6's wire framing and message-type catalog over
// any reliable connection-oriented stream: a u32 big-endian length prefix
// wraps a version-prefixed envelope (txmodel.WrapEnvelope) whose first
// byte is a u8 message-type tag, followed by the type-specific body.
//
// Grounded on the pack's P2P envelope reference
// (2tbmz9y2xt-lang-rubin-protocol/clients/go/node/p2p/envelope.go): a
// fixed-size header (there: magic + command + length + checksum) read
// with io.ReadFull before ever reading an attacker/peer-controlled
// payload, then the declared-length payload read in one shot. This
// package drops the P2P-specific magic/checksum/ban-score fields (no
// peer-reputation system is in scope here) but keeps the two-stage
// length-then-payload read and the length-sanity check against a
// configurable ceiling.
package rpc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/cbdc-core/settlement/pkg/txmodel"
)

// MessageType is the u8 tag identifying a frame's payload shape, per
// §6's message-type catalog (one tag per component operation).
type MessageType uint8

const (
	MsgSentinelExecute           MessageType = iota // client -> sentinel: execute(tx)
	MsgSentinelValidate                              // sentinel -> peer sentinel: validate(tx)
	MsgSentinelResponse                               // status + optional error detail + optional attestation
	MsgAtomizerTxNotify                               // shard -> atomizer: tx_notify{tx_height, ctx, attestations}
	MsgAtomizerAggregateTxNotify                      // shard -> atomizer: aggregate_tx_notify{batch}
	MsgShardCTX                                       // sentinel -> shard: ctx broadcast
	MsgLockTryLock                                    // coordinator -> locking shard
	MsgLockPrepare
	MsgLockCommit
	MsgLockRollback
	MsgLockFinish
	MsgLockGetTickets
	MsgLockResponse
	MsgCoordinatorExecute // sentinel -> coordinator leader: execute(ctx)
	MsgCoordinatorResponse
	MsgWatchtowerStatusUpdate // client -> watchtower: status_update{tx -> [uhs]}
	MsgWatchtowerBestHeight   // client -> watchtower: best_block_height
	MsgWatchtowerResponse
	MsgWatchtowerReport      // shard -> watchtower: report(tx_id, tx_error)
	MsgArchiverPut           // atomizer -> archiver: put(block)
	MsgArchiverGetRange      // shard -> archiver: get_range(lo, hi)
	MsgArchiverLatestHeight  // client -> archiver: latest_height
	MsgArchiverResponse
	MsgShardBlock      // atomizer -> shard: push a newly cut block for application
	MsgWatchtowerBlock // atomizer -> watchtower: push a newly cut block for spend tracking
)

// MaxFrameBytes bounds a single frame's declared length, rejecting a
// corrupt or hostile length prefix before ever allocating a read buffer
// for it.
const MaxFrameBytes = 16 << 20 // 16 MiB

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// MaxFrameBytes.
var ErrFrameTooLarge = fmt.Errorf("rpc: frame exceeds %d bytes", MaxFrameBytes)

// WriteFrame writes one length-prefixed, versioned, tagged frame to w.
func WriteFrame(w io.Writer, msgType MessageType, body []byte) error {
	payload := make([]byte, 0, 1+len(body))
	payload = append(payload, byte(msgType))
	payload = append(payload, body...)
	envelope := txmodel.WrapEnvelope(payload)

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(envelope)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("rpc: write length prefix: %w", err)
	}
	if _, err := w.Write(envelope); err != nil {
		return fmt.Errorf("rpc: write envelope: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r, handling partial reads via
// io.ReadFull for both the length prefix and the declared-length payload.
func ReadFrame(r io.Reader) (MessageType, []byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n == 0 {
		return 0, nil, fmt.Errorf("rpc: empty frame")
	}
	if n > MaxFrameBytes {
		return 0, nil, ErrFrameTooLarge
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, fmt.Errorf("rpc: read frame body: %w", err)
	}

	payload, err := txmodel.UnwrapEnvelope(buf)
	if err != nil {
		return 0, nil, err
	}
	if len(payload) < 1 {
		return 0, nil, fmt.Errorf("rpc: frame missing message-type tag")
	}
	return MessageType(payload[0]), payload[1:], nil
}

// Handler processes one request body and returns a response body, or an
// error to be reported back to the caller out of band (the connection is
// closed on handler error; §6 does not define an in-band error frame for
// the transport layer itself, only component-specific error payloads).
type Handler func(body []byte) ([]byte, error)

// Server dispatches frames arriving on accepted connections to
// registered handlers by message type, one request-response exchange at
// a time per connection (the transport is a simple stream of blocking
// request/response pairs, matching the driver's suspension-point model
// in §5 where each RPC is awaited before the next is issued).
type Server struct {
	mu       sync.RWMutex
	handlers map[MessageType]Handler
}

// NewServer returns an empty Server.
func NewServer() *Server {
	return &Server{handlers: make(map[MessageType]Handler)}
}

// Handle registers handler for msgType, overwriting any prior
// registration.
func (s *Server) Handle(msgType MessageType, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[msgType] = handler
}

// Serve accepts connections from ln until ln is closed, handling each on
// its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	s.ServeConn(conn)
}

// ServeConn runs the frame-dispatch loop over a single connection until
// the peer disconnects or a framing error occurs.
func (s *Server) ServeConn(rw io.ReadWriter) error {
	r := bufio.NewReader(rw)
	for {
		msgType, body, err := ReadFrame(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		s.mu.RLock()
		handler, ok := s.handlers[msgType]
		s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("rpc: no handler registered for message type %d", msgType)
		}

		resp, err := handler(body)
		if err != nil {
			return fmt.Errorf("rpc: handler for message type %d: %w", msgType, err)
		}
		if err := WriteFrame(rw, msgType, resp); err != nil {
			return err
		}
	}
}

// Call opens conn, sends one request frame, and blocks for the matching
// response frame. Used by clients that dial fresh per call (the
// InProcess*Client adapters elsewhere in this module are preferred
// within a single process; Call backs their networked counterparts).
func Call(conn net.Conn, msgType MessageType, body []byte) ([]byte, error) {
	if err := WriteFrame(conn, msgType, body); err != nil {
		return nil, err
	}
	respType, respBody, err := ReadFrame(bufio.NewReader(conn))
	if err != nil {
		return nil, err
	}
	if respType != msgType {
		return nil, fmt.Errorf("rpc: response type %d does not match request type %d", respType, msgType)
	}
	return respBody, nil
}
