// Copyright 2025 Certen Protocol
//
// Package rpcclient implements the networked counterparts of every
// InProcess*Client adapter defined alongside its interface (sentinel,
// shard, coordinator, wallet): a persistent connection to a peer daemon,
// serializing requests with pkg/rpc's framing and txmodel's wire codec.
//
// Grounded on the dcrd rpctest memWallet reference's request/response
// pattern adapted to this module's own rpc.Call helper rather than a
// JSON-RPC client, and on pkg/rpc's own doc comments describing the
// message-type catalog these calls address.
package rpcclient

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cbdc-core/settlement/pkg/lockingshard"
	"github.com/cbdc-core/settlement/pkg/rpc"
	"github.com/cbdc-core/settlement/pkg/sentinel"
	"github.com/cbdc-core/settlement/pkg/txmodel"
	"github.com/cbdc-core/settlement/pkg/wallet"
)

// Conn serializes request/response exchanges over one persistent
// connection to a peer daemon. §6's RPCs are synchronous suspension
// points (§5), so one connection handles one call at a time; concurrent
// callers queue on mu rather than racing frames onto the wire.
type Conn struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial opens a persistent connection to addr.
func Dial(addr string) (*Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", addr, err)
	}
	return &Conn{conn: c}, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) call(msgType rpc.MessageType, body []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rpc.Call(c.conn, msgType, body)
}

// SentinelExecuteClient is a network-backed wallet.SentinelClient,
// addressing a sentinel's MsgSentinelExecute handler.
type SentinelExecuteClient struct{ Conn *Conn }

// Execute submits tx to the remote sentinel and decodes its status.
func (c SentinelExecuteClient) Execute(_ context.Context, tx txmodel.FullTx) (sentinel.ExecuteResult, error) {
	e := txmodel.NewEncoder(256)
	tx.Encode(e)
	resp, err := c.Conn.call(rpc.MsgSentinelExecute, e.Bytes())
	if err != nil {
		return sentinel.ExecuteResult{}, err
	}
	return decodeExecuteResult(resp)
}

func EncodeExecuteResult(e *txmodel.Encoder, res sentinel.ExecuteResult) {
	e.WriteBytes([]byte(res.Status))
	e.WriteBool(res.Err != nil)
	if res.Err != nil {
		e.WriteBytes([]byte(res.Err.Error()))
	}
}

func decodeExecuteResult(body []byte) (sentinel.ExecuteResult, error) {
	d := txmodel.NewDecoder(body)
	status, err := d.ReadBytes()
	if err != nil {
		return sentinel.ExecuteResult{}, err
	}
	hasErr, err := d.ReadBool()
	if err != nil {
		return sentinel.ExecuteResult{}, err
	}
	res := sentinel.ExecuteResult{Status: sentinel.Status(status)}
	if hasErr {
		msg, err := d.ReadBytes()
		if err != nil {
			return sentinel.ExecuteResult{}, err
		}
		res.Err = fmt.Errorf("%s", msg)
	}
	return res, nil
}

// PeerSentinelClient is a network-backed sentinel.PeerClient, addressing
// a peer sentinel's MsgSentinelValidate handler.
type PeerSentinelClient struct{ Conn *Conn }

// RequestAttestation asks the remote sentinel to validate and attest tx.
func (c PeerSentinelClient) RequestAttestation(_ context.Context, tx txmodel.FullTx) (txmodel.Attestation, bool) {
	e := txmodel.NewEncoder(256)
	tx.Encode(e)
	resp, err := c.Conn.call(rpc.MsgSentinelValidate, e.Bytes())
	if err != nil {
		return txmodel.Attestation{}, false
	}
	d := txmodel.NewDecoder(resp)
	ok, err := d.ReadBool()
	if err != nil || !ok {
		return txmodel.Attestation{}, false
	}
	keyB, err := d.ReadFixed(txmodel.PubKeySize)
	if err != nil {
		return txmodel.Attestation{}, false
	}
	sigB, err := d.ReadFixed(txmodel.SignatureSize)
	if err != nil {
		return txmodel.Attestation{}, false
	}
	var att txmodel.Attestation
	copy(att.SentinelKey[:], keyB)
	copy(att.Signature[:], sigB)
	return att, true
}

func EncodeAttestationResponse(e *txmodel.Encoder, att txmodel.Attestation, ok bool) {
	e.WriteBool(ok)
	if ok {
		e.WriteFixed(att.SentinelKey[:])
		e.WriteFixed(att.Signature[:])
	}
}

// ShardForwardClient is a network-backed sentinel.ShardForwardClient,
// addressing a shard's MsgShardCTX handler.
type ShardForwardClient struct{ Conn *Conn }

// OnCTX forwards ctx to the remote shard, required to already be at
// requiredHeight.
func (c ShardForwardClient) OnCTX(ctx txmodel.CTX, requiredHeight uint64) *txmodel.TxError {
	e := txmodel.NewEncoder(256)
	ctx.Encode(e)
	e.WriteU64(requiredHeight)
	resp, err := c.Conn.call(rpc.MsgShardCTX, e.Bytes())
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	txErr, err := txmodel.DecodeTxError(txmodel.NewDecoder(resp))
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	return txErr
}

// AtomizerClient is a network-backed shard.AtomizerClient, addressing an
// atomizer's MsgAtomizerTxNotify handler.
type AtomizerClient struct{ Conn *Conn }

// Insert forwards ctx to the remote atomizer along with confirmedInputs,
// the set of input UHS ids the calling shard has just confirmed exist.
func (c AtomizerClient) Insert(blockHeight uint64, ctx txmodel.CTX, confirmedInputs map[txmodel.Hash]struct{}) *txmodel.TxError {
	e := txmodel.NewEncoder(256)
	e.WriteU64(blockHeight)
	ctx.Encode(e)
	e.WriteU64(uint64(len(confirmedInputs)))
	for id := range confirmedInputs {
		e.WriteHash(id)
	}
	resp, err := c.Conn.call(rpc.MsgAtomizerTxNotify, e.Bytes())
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	txErr, err := txmodel.DecodeTxError(txmodel.NewDecoder(resp))
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	return txErr
}

// DecodeConfirmedInputs reads the confirmed-input-id set an
// AtomizerClient.Insert call wrote onto the wire, shared by the atomizer
// daemon's MsgAtomizerTxNotify handler so the wire format has one
// decoder instead of two.
func DecodeConfirmedInputs(d *txmodel.Decoder) (map[txmodel.Hash]struct{}, error) {
	n, err := d.ReadU64()
	if err != nil {
		return nil, err
	}
	out := make(map[txmodel.Hash]struct{}, n)
	for i := uint64(0); i < n; i++ {
		id, err := d.ReadHash()
		if err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, nil
}

// CoordinatorClient is a network-backed sentinel.CoordinatorClient and
// wallet.BootstrapSubmitter, addressing a coordinator leader's
// MsgCoordinatorExecute handler.
type CoordinatorClient struct{ Conn *Conn }

// Execute submits tx to the remote coordinator leader.
func (c CoordinatorClient) Execute(_ context.Context, tx txmodel.FullTx) (bool, error) {
	e := txmodel.NewEncoder(256)
	tx.Encode(e)
	resp, err := c.Conn.call(rpc.MsgCoordinatorExecute, e.Bytes())
	if err != nil {
		return false, err
	}
	d := txmodel.NewDecoder(resp)
	committed, err := d.ReadBool()
	if err != nil {
		return false, err
	}
	hasErr, err := d.ReadBool()
	if err != nil {
		return false, err
	}
	if hasErr {
		msg, err := d.ReadBytes()
		if err != nil {
			return false, err
		}
		return committed, fmt.Errorf("%s", msg)
	}
	return committed, nil
}

func EncodeCoordinatorResponse(e *txmodel.Encoder, committed bool, execErr error) {
	e.WriteBool(committed)
	e.WriteBool(execErr != nil)
	if execErr != nil {
		e.WriteBytes([]byte(execErr.Error()))
	}
}

// WatchtowerClient is a network-backed wallet.SyncSource, addressing a
// watchtower's MsgWatchtowerStatusUpdate handler for a single
// transaction at a time.
type WatchtowerClient struct{ Conn *Conn }

// Status asks the remote watchtower whether txID has settled.
func (c WatchtowerClient) Status(_ context.Context, txID txmodel.Hash, inputUHS, outputUHS []txmodel.Hash) (wallet.SyncOutcome, error) {
	e := txmodel.NewEncoder(128)
	e.WriteHash(txID)
	e.WriteU64(uint64(len(inputUHS)))
	for _, h := range inputUHS {
		e.WriteHash(h)
	}
	e.WriteU64(uint64(len(outputUHS)))
	for _, h := range outputUHS {
		e.WriteHash(h)
	}
	resp, err := c.Conn.call(rpc.MsgWatchtowerStatusUpdate, e.Bytes())
	if err != nil {
		return "", err
	}
	d := txmodel.NewDecoder(resp)
	status, err := d.ReadBytes()
	if err != nil {
		return "", err
	}
	return wallet.SyncOutcome(status), nil
}

// WatchtowerBestHeightClient addresses MsgWatchtowerBestHeight, used by
// an atomizer-mode sentinel to learn the height a shard attestation
// should be stamped with before forwarding a confirmed CTX.
type WatchtowerBestHeightClient struct{ Conn *Conn }

// BestHeight asks the remote watchtower for its best observed block
// height.
func (c WatchtowerBestHeightClient) BestHeight() (uint64, error) {
	resp, err := c.Conn.call(rpc.MsgWatchtowerBestHeight, nil)
	if err != nil {
		return 0, err
	}
	return txmodel.NewDecoder(resp).ReadU64()
}

// Report sends a watchtower report(tx_id, tx_error) notification,
// addressing MsgWatchtowerReport. Used as a shard's ErrorSink.
type WatchtowerReportClient struct{ Conn *Conn }

func (c WatchtowerReportClient) Report(txID txmodel.Hash, txErr *txmodel.TxError) {
	e := txmodel.NewEncoder(64)
	e.WriteHash(txID)
	txmodel.EncodeTxError(e, txErr)
	_, _ = c.Conn.call(rpc.MsgWatchtowerReport, e.Bytes())
}

// ArchiverClient is a network-backed shard.ArchiverClient and the
// atomizer's block-sink, addressing an archiver's MsgArchiverPut and
// MsgArchiverGetRange handlers.
type ArchiverClient struct{ Conn *Conn }

// Put stores block on the remote archiver.
func (c ArchiverClient) Put(block txmodel.Block) error {
	e := txmodel.NewEncoder(256)
	block.Encode(e)
	resp, err := c.Conn.call(rpc.MsgArchiverPut, e.Bytes())
	if err != nil {
		return err
	}
	return decodeAck(resp)
}

// GetRange fetches blocks [lo, hi] from the remote archiver.
func (c ArchiverClient) GetRange(lo, hi uint64) ([]txmodel.Block, error) {
	e := txmodel.NewEncoder(16)
	e.WriteU64(lo)
	e.WriteU64(hi)
	resp, err := c.Conn.call(rpc.MsgArchiverGetRange, e.Bytes())
	if err != nil {
		return nil, err
	}
	d := txmodel.NewDecoder(resp)
	hasErr, err := d.ReadBool()
	if err != nil {
		return nil, err
	}
	if hasErr {
		msg, err := d.ReadBytes()
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s", msg)
	}
	n, err := d.ReadU64()
	if err != nil {
		return nil, err
	}
	blocks := make([]txmodel.Block, n)
	for i := range blocks {
		blk, err := txmodel.DecodeBlock(d)
		if err != nil {
			return nil, err
		}
		blocks[i] = blk
	}
	return blocks, nil
}

// LatestHeight asks the remote archiver for the highest height it has
// ever stored, addressing MsgArchiverLatestHeight.
func (c ArchiverClient) LatestHeight() (uint64, error) {
	resp, err := c.Conn.call(rpc.MsgArchiverLatestHeight, nil)
	if err != nil {
		return 0, err
	}
	return txmodel.NewDecoder(resp).ReadU64()
}

// ShardBlockClient is a network-backed block sink addressing a shard's
// MsgShardBlock handler, used by the atomizer to push every newly cut
// block to every shard (each applies only its in-range ids) rather than
// have each shard poll the archiver for it.
type ShardBlockClient struct{ Conn *Conn }

// Push sends block to the remote shard for application via Shard.OnBlock,
// returning the TxError the shard's gap back-fill produced, if any.
func (c ShardBlockClient) Push(block txmodel.Block) *txmodel.TxError {
	e := txmodel.NewEncoder(256)
	block.Encode(e)
	resp, err := c.Conn.call(rpc.MsgShardBlock, e.Bytes())
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	txErr, err := txmodel.DecodeTxError(txmodel.NewDecoder(resp))
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	return txErr
}

// WatchtowerBlockClient is a network-backed block sink addressing a
// watchtower's MsgWatchtowerBlock handler, used by the atomizer to keep
// the watchtower's spend-tracking cache current as blocks are cut.
type WatchtowerBlockClient struct{ Conn *Conn }

// Push sends block to the remote watchtower for OnBlock bookkeeping.
func (c WatchtowerBlockClient) Push(block txmodel.Block) error {
	e := txmodel.NewEncoder(256)
	block.Encode(e)
	_, err := c.Conn.call(rpc.MsgWatchtowerBlock, e.Bytes())
	return err
}

func decodeAck(body []byte) error {
	d := txmodel.NewDecoder(body)
	hasErr, err := d.ReadBool()
	if err != nil {
		return err
	}
	if !hasErr {
		return nil
	}
	msg, err := d.ReadBytes()
	if err != nil {
		return err
	}
	return fmt.Errorf("%s", msg)
}

func EncodeAck(e *txmodel.Encoder, ackErr error) {
	e.WriteBool(ackErr != nil)
	if ackErr != nil {
		e.WriteBytes([]byte(ackErr.Error()))
	}
}

// LockingShardClient is a network-backed coordinator.ShardClient,
// addressing a locking shard's MsgLock* handlers.
type LockingShardClient struct{ Conn *Conn }

func (c LockingShardClient) TryLock(_ context.Context, ticket uint64, broker string, key txmodel.Hash, mode lockingshard.Mode, firstLock bool) ([]byte, *txmodel.TxError) {
	e := txmodel.NewEncoder(128)
	e.WriteU64(ticket)
	e.WriteBytes([]byte(broker))
	e.WriteHash(key)
	e.WriteU8(uint8(mode))
	e.WriteBool(firstLock)
	resp, err := c.Conn.call(rpc.MsgLockTryLock, e.Bytes())
	if err != nil {
		return nil, txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	d := txmodel.NewDecoder(resp)
	value, err := d.ReadBytes()
	if err != nil {
		return nil, txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	txErr, err := txmodel.DecodeTxError(d)
	if err != nil {
		return nil, txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	return value, txErr
}

func (c LockingShardClient) Prepare(_ context.Context, ticket uint64, broker string, updates map[txmodel.Hash][]byte) *txmodel.TxError {
	e := txmodel.NewEncoder(128)
	e.WriteU64(ticket)
	e.WriteBytes([]byte(broker))
	e.WriteU64(uint64(len(updates)))
	for k, v := range updates {
		e.WriteHash(k)
		e.WriteBytes(v)
	}
	resp, err := c.Conn.call(rpc.MsgLockPrepare, e.Bytes())
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	txErr, err := txmodel.DecodeTxError(txmodel.NewDecoder(resp))
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	return txErr
}

func (c LockingShardClient) Commit(_ context.Context, ticket uint64) *txmodel.TxError {
	e := txmodel.NewEncoder(8)
	e.WriteU64(ticket)
	resp, err := c.Conn.call(rpc.MsgLockCommit, e.Bytes())
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	txErr, err := txmodel.DecodeTxError(txmodel.NewDecoder(resp))
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	return txErr
}

func (c LockingShardClient) Rollback(_ context.Context, ticket uint64) *txmodel.TxError {
	e := txmodel.NewEncoder(8)
	e.WriteU64(ticket)
	resp, err := c.Conn.call(rpc.MsgLockRollback, e.Bytes())
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	txErr, err := txmodel.DecodeTxError(txmodel.NewDecoder(resp))
	if err != nil {
		return txmodel.NewTxError(txmodel.KindSync).WithMsg(err.Error())
	}
	return txErr
}

func (c LockingShardClient) Finish(_ context.Context, ticket uint64) {
	e := txmodel.NewEncoder(8)
	e.WriteU64(ticket)
	_, _ = c.Conn.call(rpc.MsgLockFinish, e.Bytes())
}

func (c LockingShardClient) GetTickets(_ context.Context, broker string) (map[uint64]lockingshard.TicketState, error) {
	e := txmodel.NewEncoder(32)
	e.WriteBytes([]byte(broker))
	resp, err := c.Conn.call(rpc.MsgLockGetTickets, e.Bytes())
	if err != nil {
		return nil, err
	}
	d := txmodel.NewDecoder(resp)
	n, err := d.ReadU64()
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]lockingshard.TicketState, n)
	for i := uint64(0); i < n; i++ {
		ticket, err := d.ReadU64()
		if err != nil {
			return nil, err
		}
		state, err := d.ReadBytes()
		if err != nil {
			return nil, err
		}
		out[ticket] = lockingshard.TicketState(state)
	}
	return out, nil
}

