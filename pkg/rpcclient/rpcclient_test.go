// Copyright 2025 Certen Protocol
package rpcclient

import (
	"context"
	"net"
	"testing"

	"github.com/cbdc-core/settlement/pkg/lockingshard"
	"github.com/cbdc-core/settlement/pkg/rpc"
	"github.com/cbdc-core/settlement/pkg/sentinel"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

// serverPipe wires an rpc.Server to one end of a net.Pipe and returns a
// Conn wrapping the other end, so a client method can be exercised
// against a handler in the same test without a real listener.
func serverPipe(t *testing.T, srv *rpc.Server) *Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	go srv.ServeConn(server)
	return &Conn{conn: client}
}

func TestSentinelExecuteClientRoundTrip(t *testing.T) {
	srv := rpc.NewServer()
	srv.Handle(rpc.MsgSentinelExecute, func(body []byte) ([]byte, error) {
		if _, err := txmodel.DecodeFullTx(txmodel.NewDecoder(body)); err != nil {
			return nil, err
		}
		e := txmodel.NewEncoder(16)
		EncodeExecuteResult(e, sentinel.ExecuteResult{Status: sentinel.StatusConfirmed})
		return e.Bytes(), nil
	})

	c := SentinelExecuteClient{Conn: serverPipe(t, srv)}
	res, err := c.Execute(context.Background(), txmodel.FullTx{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != sentinel.StatusConfirmed {
		t.Fatalf("Status = %q, want confirmed", res.Status)
	}
}

func TestSentinelExecuteClientPropagatesStaticInvalidError(t *testing.T) {
	srv := rpc.NewServer()
	srv.Handle(rpc.MsgSentinelExecute, func(body []byte) ([]byte, error) {
		e := txmodel.NewEncoder(16)
		EncodeExecuteResult(e, sentinel.ExecuteResult{
			Status: sentinel.StatusStaticInvalid,
			Err:    txmodel.ErrAsymmetricValues,
		})
		return e.Bytes(), nil
	})

	c := SentinelExecuteClient{Conn: serverPipe(t, srv)}
	res, err := c.Execute(context.Background(), txmodel.FullTx{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != sentinel.StatusStaticInvalid || res.Err == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPeerSentinelClientRoundTrip(t *testing.T) {
	want := txmodel.Attestation{SentinelKey: txmodel.PubKey{1}, Signature: txmodel.Signature{2}}
	srv := rpc.NewServer()
	srv.Handle(rpc.MsgSentinelValidate, func(body []byte) ([]byte, error) {
		e := txmodel.NewEncoder(128)
		EncodeAttestationResponse(e, want, true)
		return e.Bytes(), nil
	})

	c := PeerSentinelClient{Conn: serverPipe(t, srv)}
	att, ok := c.RequestAttestation(context.Background(), txmodel.FullTx{})
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if att != want {
		t.Fatalf("got %+v, want %+v", att, want)
	}
}

func TestShardForwardClientPropagatesTxError(t *testing.T) {
	srv := rpc.NewServer()
	srv.Handle(rpc.MsgShardCTX, func(body []byte) ([]byte, error) {
		e := txmodel.NewEncoder(32)
		txmodel.EncodeTxError(e, txmodel.NewTxError(txmodel.KindInputsDNE))
		return e.Bytes(), nil
	})

	c := ShardForwardClient{Conn: serverPipe(t, srv)}
	txErr := c.OnCTX(txmodel.CTX{}, 5)
	if txErr == nil || txErr.Kind != txmodel.KindInputsDNE {
		t.Fatalf("unexpected TxError: %+v", txErr)
	}
}

func TestAtomizerClientEncodesConfirmedInputs(t *testing.T) {
	var gotInputs map[txmodel.Hash]struct{}
	srv := rpc.NewServer()
	srv.Handle(rpc.MsgAtomizerTxNotify, func(body []byte) ([]byte, error) {
		d := txmodel.NewDecoder(body)
		if _, err := d.ReadU64(); err != nil {
			return nil, err
		}
		if _, err := txmodel.DecodeCTX(d); err != nil {
			return nil, err
		}
		var err error
		gotInputs, err = DecodeConfirmedInputs(d)
		if err != nil {
			return nil, err
		}
		e := txmodel.NewEncoder(8)
		txmodel.EncodeTxError(e, nil)
		return e.Bytes(), nil
	})

	c := AtomizerClient{Conn: serverPipe(t, srv)}
	a, b := txmodel.Hash{1}, txmodel.Hash{2}
	txErr := c.Insert(1, txmodel.CTX{}, map[txmodel.Hash]struct{}{a: {}, b: {}})
	if txErr != nil {
		t.Fatalf("Insert: %v", txErr)
	}
	if len(gotInputs) != 2 {
		t.Fatalf("expected 2 confirmed inputs, got %d", len(gotInputs))
	}
}

func TestCoordinatorClientRoundTrip(t *testing.T) {
	srv := rpc.NewServer()
	srv.Handle(rpc.MsgCoordinatorExecute, func(body []byte) ([]byte, error) {
		e := txmodel.NewEncoder(8)
		EncodeCoordinatorResponse(e, true, nil)
		return e.Bytes(), nil
	})

	c := CoordinatorClient{Conn: serverPipe(t, srv)}
	committed, err := c.Execute(context.Background(), txmodel.FullTx{})
	if err != nil || !committed {
		t.Fatalf("Execute: %v, %v", committed, err)
	}
}

func TestArchiverClientGetRangeRoundTrip(t *testing.T) {
	blocks := []txmodel.Block{{Height: 1}, {Height: 2}}
	srv := rpc.NewServer()
	srv.Handle(rpc.MsgArchiverGetRange, func(body []byte) ([]byte, error) {
		e := txmodel.NewEncoder(64)
		e.WriteBool(false)
		e.WriteU64(uint64(len(blocks)))
		for _, b := range blocks {
			b.Encode(e)
		}
		return e.Bytes(), nil
	})

	c := ArchiverClient{Conn: serverPipe(t, srv)}
	got, err := c.GetRange(1, 2)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(got) != 2 || got[0].Height != 1 || got[1].Height != 2 {
		t.Fatalf("unexpected blocks: %+v", got)
	}
}

func TestArchiverClientPutPropagatesError(t *testing.T) {
	srv := rpc.NewServer()
	srv.Handle(rpc.MsgArchiverPut, func(body []byte) ([]byte, error) {
		e := txmodel.NewEncoder(32)
		EncodeAck(e, txmodel.ErrNoInputs)
		return e.Bytes(), nil
	})

	c := ArchiverClient{Conn: serverPipe(t, srv)}
	if err := c.Put(txmodel.Block{}); err == nil {
		t.Fatalf("expected an error from Put")
	}
}

func TestLockingShardClientTryLockRoundTrip(t *testing.T) {
	srv := rpc.NewServer()
	srv.Handle(rpc.MsgLockTryLock, func(body []byte) ([]byte, error) {
		e := txmodel.NewEncoder(32)
		e.WriteBytes([]byte("prior-value"))
		txmodel.EncodeTxError(e, nil)
		return e.Bytes(), nil
	})

	c := LockingShardClient{Conn: serverPipe(t, srv)}
	value, txErr := c.TryLock(context.Background(), 1, "broker-0", txmodel.Hash{}, lockingshard.ModeWrite, true)
	if txErr != nil {
		t.Fatalf("TryLock: %v", txErr)
	}
	if string(value) != "prior-value" {
		t.Fatalf("value = %q, want prior-value", value)
	}
}

func TestLockingShardClientGetTicketsRoundTrip(t *testing.T) {
	srv := rpc.NewServer()
	srv.Handle(rpc.MsgLockGetTickets, func(body []byte) ([]byte, error) {
		e := txmodel.NewEncoder(32)
		e.WriteU64(1)
		e.WriteU64(7)
		e.WriteBytes([]byte(lockingshard.TicketPrepared))
		return e.Bytes(), nil
	})

	c := LockingShardClient{Conn: serverPipe(t, srv)}
	tickets, err := c.GetTickets(context.Background(), "broker-0")
	if err != nil {
		t.Fatalf("GetTickets: %v", err)
	}
	if tickets[7] != lockingshard.TicketPrepared {
		t.Fatalf("tickets[7] = %q, want prepared", tickets[7])
	}
}
