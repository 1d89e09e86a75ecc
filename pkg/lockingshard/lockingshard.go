// Copyright 2025 Certen Protocol
//
// Package lockingshard implements the §4.7 2PC participant: an
// authoritative, range-partitioned key-value store of UHS IDs with
// wound-wait deadlock avoidance and a per-ticket begun/prepared/
// committed/finished (or wounded/aborted/finished) state machine.
//
// try_lock is applied locally and is not proposed through the replicated
// log (§4.7: "does not need durable replication of intent if repeated
// rolls forward safely"); prepare/commit/rollback/finish are log-append
// operations (Shard implements replog.Applier for them) so every
// replica reaches the same ticket outcome in the same order.
//
// Grounded on the teacher's pkg/batch/consensus_coordinator.go for the
// mutex-guarded per-id state-machine map shape, generalized from a single
// linear BatchStatus progression to the two-branch begun/prepared/
// committed and wounded/aborted state machine §4.7 requires.
package lockingshard

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cbdc-core/settlement/pkg/directory"
	"github.com/cbdc-core/settlement/pkg/replog"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

// Mode is the lock mode a ticket requests on a key.
type Mode uint8

const (
	ModeRead Mode = iota
	ModeWrite
)

// TicketState mirrors the protocol-error kind vocabulary so a ticket's
// state and the error a stale caller gets back read the same way.
type TicketState string

const (
	TicketBegun     TicketState = TicketState(txmodel.KindBegun)
	TicketPrepared  TicketState = TicketState(txmodel.KindPrepared)
	TicketCommitted TicketState = TicketState(txmodel.KindCommitted)
	TicketWounded   TicketState = TicketState(txmodel.KindWounded)
	TicketAborted   TicketState = TicketState(txmodel.KindAborted)
)

type heldKey struct {
	key  txmodel.Hash
	mode Mode
}

type woundInfo struct {
	woundingTicket uint64
	woundingKey    txmodel.Hash
}

type ticketEntry struct {
	state          TicketState
	broker         string
	heldKeys       []heldKey
	pendingUpdates map[txmodel.Hash][]byte
	wound          *woundInfo
}

type keyState struct {
	value   []byte
	locked  bool
	mode    Mode
	writer  uint64
	readers map[uint64]struct{}
}

// Shard is one range-partitioned locking shard.
type Shard struct {
	mu sync.Mutex

	rng directory.Range

	locks   map[txmodel.Hash]*keyState
	tickets map[uint64]*ticketEntry
	byBroker map[string]map[uint64]struct{}
}

// New returns an empty Shard authoritative for rng.
func New(rng directory.Range) *Shard {
	return &Shard{
		rng:      rng,
		locks:    make(map[txmodel.Hash]*keyState),
		tickets:  make(map[uint64]*ticketEntry),
		byBroker: make(map[string]map[uint64]struct{}),
	}
}

func (s *Shard) inRange(key txmodel.Hash) bool { return s.rng.Contains(key[0]) }

func woundedErr(w *woundInfo) *txmodel.TxError {
	e := txmodel.NewTxError(txmodel.KindWounded)
	e.WoundingTicket = w.woundingTicket
	e.WoundingKey = w.woundingKey
	return e
}

func stateErr(state TicketState) *txmodel.TxError {
	return txmodel.NewTxError(txmodel.ErrorKind(state))
}

// TryLock implements §4.7's try_lock: it never blocks. When the key is
// held in a conflicting mode by another ticket it applies wound-wait
// (wounding any strictly younger holder) and returns KindRetry — the
// caller is expected to call TryLock again once the conflicting holder
// has released the key, which is how this package expresses the spec's
// "asynchronous, callback-returning" try_lock without a blocking
// callback registry.
func (s *Shard) TryLock(ticket uint64, broker string, key txmodel.Hash, mode Mode, firstLock bool) ([]byte, *txmodel.TxError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inRange(key) {
		return nil, txmodel.NewTxError(txmodel.KindNotInRange)
	}

	entry, ok := s.tickets[ticket]
	if !ok {
		if !firstLock {
			return nil, txmodel.NewTxError(txmodel.KindUnknownTicket)
		}
		entry = &ticketEntry{state: TicketBegun, broker: broker, pendingUpdates: make(map[txmodel.Hash][]byte)}
		s.tickets[ticket] = entry
		s.addBrokerTicket(broker, ticket)
	} else if entry.state == TicketWounded {
		return nil, woundedErr(entry.wound)
	} else if entry.state != TicketBegun {
		return nil, stateErr(entry.state)
	}

	ks, exists := s.locks[key]
	if !exists {
		ks = &keyState{readers: make(map[uint64]struct{})}
		s.locks[key] = ks
	}

	if !ks.locked {
		s.grant(entry, ks, ticket, key, mode)
		return ks.value, nil
	}

	if ks.mode == ModeRead && mode == ModeRead {
		ks.readers[ticket] = struct{}{}
		s.recordHeld(entry, key, mode)
		return ks.value, nil
	}

	holders := s.holders(ks)
	if len(holders) == 1 && holders[0] == ticket {
		// Re-entrant same-mode request, or a solo-reader upgrading to write.
		if ks.mode == mode {
			return ks.value, nil
		}
		ks.mode = ModeWrite
		ks.writer = ticket
		ks.readers = make(map[uint64]struct{})
		s.recordHeld(entry, key, mode)
		return ks.value, nil
	}

	others := make([]uint64, 0, len(holders))
	for _, h := range holders {
		if h != ticket {
			others = append(others, h)
		}
	}

	for _, h := range others {
		s.maybeWound(ticket, key, h)
	}
	return nil, txmodel.NewTxError(txmodel.KindRetry)
}

func (s *Shard) holders(ks *keyState) []uint64 {
	if ks.mode == ModeWrite {
		return []uint64{ks.writer}
	}
	out := make([]uint64, 0, len(ks.readers))
	for r := range ks.readers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// maybeWound applies wound-wait between requester and holder: the
// strictly older ticket (lower number) wounds the younger one.
func (s *Shard) maybeWound(requester uint64, key txmodel.Hash, holder uint64) {
	if requester >= holder {
		return // requester is younger or equal: it waits, no wound
	}
	victim, ok := s.tickets[holder]
	if !ok {
		return
	}
	switch victim.state {
	case TicketCommitted, TicketAborted, TicketWounded:
		return
	}
	victim.state = TicketWounded
	victim.wound = &woundInfo{woundingTicket: requester, woundingKey: key}
}

func (s *Shard) grant(entry *ticketEntry, ks *keyState, ticket uint64, key txmodel.Hash, mode Mode) {
	ks.locked = true
	ks.mode = mode
	if mode == ModeWrite {
		ks.writer = ticket
		ks.readers = make(map[uint64]struct{})
	} else {
		ks.readers[ticket] = struct{}{}
	}
	s.recordHeld(entry, key, mode)
}

func (s *Shard) recordHeld(entry *ticketEntry, key txmodel.Hash, mode Mode) {
	for i, hk := range entry.heldKeys {
		if hk.key == key {
			entry.heldKeys[i].mode = mode
			return
		}
	}
	entry.heldKeys = append(entry.heldKeys, heldKey{key: key, mode: mode})
}

func (s *Shard) addBrokerTicket(broker string, ticket uint64) {
	set, ok := s.byBroker[broker]
	if !ok {
		set = make(map[uint64]struct{})
		s.byBroker[broker] = set
	}
	set[ticket] = struct{}{}
}

// releaseLocks drops entry's hold on every key it holds, without
// touching the key's stored value.
func (s *Shard) releaseLocks(ticket uint64, entry *ticketEntry) {
	for _, hk := range entry.heldKeys {
		ks, ok := s.locks[hk.key]
		if !ok {
			continue
		}
		if ks.mode == ModeWrite && ks.writer == ticket {
			ks.locked = false
			ks.writer = 0
		} else if ks.mode == ModeRead {
			delete(ks.readers, ticket)
			if len(ks.readers) == 0 {
				ks.locked = false
			}
		}
	}
	entry.heldKeys = nil
}

// Prepare implements §4.7's prepare: requires every updated key be
// write-held by ticket, stages the updates, and transitions to prepared.
func (s *Shard) Prepare(ticket uint64, broker string, updates map[txmodel.Hash][]byte) *txmodel.TxError {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tickets[ticket]
	if !ok {
		return txmodel.NewTxError(txmodel.KindUnknownTicket)
	}
	if entry.state == TicketWounded {
		return woundedErr(entry.wound)
	}
	if entry.state != TicketBegun {
		return stateErr(entry.state)
	}
	for key := range updates {
		if !s.heldForWrite(entry, key) {
			return txmodel.NewTxError(txmodel.KindDataError).WithMsg(
				fmt.Sprintf("prepare references key %s without a held write lock", key))
		}
	}
	staged := make(map[txmodel.Hash][]byte, len(updates))
	for k, v := range updates {
		staged[k] = append([]byte(nil), v...)
	}
	entry.pendingUpdates = staged
	entry.state = TicketPrepared
	return nil
}

func (s *Shard) heldForWrite(entry *ticketEntry, key txmodel.Hash) bool {
	for _, hk := range entry.heldKeys {
		if hk.key == key && hk.mode == ModeWrite {
			return true
		}
	}
	return false
}

// Commit implements §4.7's commit: applies staged updates and
// transitions to committed. Locks are released at Finish, not here, so a
// crash between Commit and Finish still reflects "committed, locks held"
// to a recovering broker via GetTickets.
func (s *Shard) Commit(ticket uint64) *txmodel.TxError {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tickets[ticket]
	if !ok {
		return txmodel.NewTxError(txmodel.KindUnknownTicket)
	}
	if entry.state == TicketWounded {
		return woundedErr(entry.wound)
	}
	if entry.state != TicketPrepared {
		return stateErr(entry.state)
	}
	for key, val := range entry.pendingUpdates {
		ks, ok := s.locks[key]
		if !ok {
			ks = &keyState{readers: make(map[uint64]struct{})}
			s.locks[key] = ks
		}
		ks.value = val
	}
	entry.state = TicketCommitted
	return nil
}

// Rollback implements §4.7's rollback: discards staged updates and
// releases locks without applying. Allowed from begun, prepared, or
// wounded; rejected once committed.
func (s *Shard) Rollback(ticket uint64) *txmodel.TxError {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tickets[ticket]
	if !ok {
		return txmodel.NewTxError(txmodel.KindUnknownTicket)
	}
	if entry.state == TicketCommitted {
		return stateErr(entry.state)
	}
	s.releaseLocks(ticket, entry)
	entry.pendingUpdates = make(map[txmodel.Hash][]byte)
	entry.state = TicketAborted
	return nil
}

// Finish implements §4.7's finish: forgets ticket state. Idempotent,
// including for a ticket this shard never saw (the recovery path may
// finish a ticket a given shard was never routed to).
func (s *Shard) Finish(ticket uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tickets[ticket]
	if !ok {
		return
	}
	s.releaseLocks(ticket, entry)
	if set, ok := s.byBroker[entry.broker]; ok {
		delete(set, ticket)
		if len(set) == 0 {
			delete(s.byBroker, entry.broker)
		}
	}
	delete(s.tickets, ticket)
}

// GetTickets implements §4.7's get_tickets: every not-yet-finished ticket
// this shard ever bound to broker, for leader-change recovery.
func (s *Shard) GetTickets(broker string) map[uint64]TicketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]TicketState)
	for ticket := range s.byBroker[broker] {
		if entry, ok := s.tickets[ticket]; ok {
			out[ticket] = entry.state
		}
	}
	return out
}

// Entry tags for the replicated prepare/commit/rollback/finish ops.
const (
	entryPrepare  byte = 0
	entryCommit   byte = 1
	entryRollback byte = 2
	entryFinish   byte = 3
)

// EncodePrepare serializes a Prepare call as a replog.Entry.
func EncodePrepare(ticket uint64, broker string, updates map[txmodel.Hash][]byte) replog.Entry {
	e := txmodel.NewEncoder(128)
	e.WriteU8(entryPrepare)
	e.WriteU64(ticket)
	e.WriteBytes([]byte(broker))
	keys := make([]txmodel.Hash, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	e.WriteU64(uint64(len(keys)))
	for _, k := range keys {
		e.WriteHash(k)
		e.WriteBytes(updates[k])
	}
	return replog.Entry(e.Bytes())
}

// EncodeCommit serializes a Commit call as a replog.Entry.
func EncodeCommit(ticket uint64) replog.Entry {
	e := txmodel.NewEncoder(9)
	e.WriteU8(entryCommit)
	e.WriteU64(ticket)
	return replog.Entry(e.Bytes())
}

// EncodeRollback serializes a Rollback call as a replog.Entry.
func EncodeRollback(ticket uint64) replog.Entry {
	e := txmodel.NewEncoder(9)
	e.WriteU8(entryRollback)
	e.WriteU64(ticket)
	return replog.Entry(e.Bytes())
}

// EncodeFinish serializes a Finish call as a replog.Entry.
func EncodeFinish(ticket uint64) replog.Entry {
	e := txmodel.NewEncoder(9)
	e.WriteU8(entryFinish)
	e.WriteU64(ticket)
	return replog.Entry(e.Bytes())
}

// Apply implements replog.Applier for the four replicated operations.
func (s *Shard) Apply(_ replog.AppliedIndex, entry replog.Entry) {
	d := txmodel.NewDecoder(entry)
	tag, err := d.ReadU8()
	if err != nil {
		return
	}
	switch tag {
	case entryPrepare:
		ticket, err := d.ReadU64()
		if err != nil {
			return
		}
		brokerB, err := d.ReadBytes()
		if err != nil {
			return
		}
		n, err := d.ReadU64()
		if err != nil {
			return
		}
		updates := make(map[txmodel.Hash][]byte, n)
		for i := uint64(0); i < n; i++ {
			key, err := d.ReadHash()
			if err != nil {
				return
			}
			val, err := d.ReadBytes()
			if err != nil {
				return
			}
			updates[key] = val
		}
		s.Prepare(ticket, string(brokerB), updates)
	case entryCommit:
		if ticket, err := d.ReadU64(); err == nil {
			s.Commit(ticket)
		}
	case entryRollback:
		if ticket, err := d.ReadU64(); err == nil {
			s.Rollback(ticket)
		}
	case entryFinish:
		if ticket, err := d.ReadU64(); err == nil {
			s.Finish(ticket)
		}
	}
}

// Snapshot serializes every key's stored value (lock state is
// intentionally excluded: a restored replica starts with no locks held,
// which is safe because try_lock rolls forward and brokers recover
// outstanding tickets via GetTickets against the other, unaffected
// replicas of the same shard).
func (s *Shard) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := txmodel.NewEncoder(256)
	keys := make([]txmodel.Hash, 0, len(s.locks))
	for k := range s.locks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	e.WriteU64(uint64(len(keys)))
	for _, k := range keys {
		e.WriteHash(k)
		e.WriteBytes(s.locks[k].value)
	}
	return txmodel.WrapEnvelope(e.Bytes()), nil
}

// Restore replaces every key's stored value from a snapshot.
func (s *Shard) Restore(snapshot []byte) error {
	payload, err := txmodel.UnwrapEnvelope(snapshot)
	if err != nil {
		return fmt.Errorf("lockingshard: restore: %w", err)
	}
	d := txmodel.NewDecoder(payload)
	n, err := d.ReadU64()
	if err != nil {
		return fmt.Errorf("lockingshard: restore count: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = make(map[txmodel.Hash]*keyState, n)
	for i := uint64(0); i < n; i++ {
		key, err := d.ReadHash()
		if err != nil {
			return fmt.Errorf("lockingshard: restore key: %w", err)
		}
		val, err := d.ReadBytes()
		if err != nil {
			return fmt.Errorf("lockingshard: restore value: %w", err)
		}
		s.locks[key] = &keyState{value: val, readers: make(map[uint64]struct{})}
	}
	return nil
}
