// Copyright 2025 Certen Protocol
//
// Package coordinator implements §4.8: the 2PC driver that turns a
// sufficiently-attested CTX into a two-phase commit across the locking
// shards that own its inputs and outputs, and recovers in-flight tickets
// after a leader change.
//
// Grounded on the teacher's pkg/batch/consensus_coordinator.go for the
// overall shape (a coordinator fanning a single logical operation out to
// many participants and reconciling the result), generalized from
// attestation-quorum collection to two-phase-commit across locking
// shards, and on its use of github.com/google/uuid for broker/request
// identifiers (reused here as the coordinator's broker id, which every
// ticket it issues is registered under on each shard).
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cbdc-core/settlement/pkg/directory"
	"github.com/cbdc-core/settlement/pkg/lockingshard"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

// ShardClient is the coordinator's view of one locking shard: either an
// in-process *lockingshard.Shard (InProcessShardClient) or an RPC stub
// reaching a remote shard process.
type ShardClient interface {
	TryLock(ctx context.Context, ticket uint64, broker string, key txmodel.Hash, mode lockingshard.Mode, firstLock bool) ([]byte, *txmodel.TxError)
	Prepare(ctx context.Context, ticket uint64, broker string, updates map[txmodel.Hash][]byte) *txmodel.TxError
	Commit(ctx context.Context, ticket uint64) *txmodel.TxError
	Rollback(ctx context.Context, ticket uint64) *txmodel.TxError
	Finish(ctx context.Context, ticket uint64)
	GetTickets(ctx context.Context, broker string) (map[uint64]lockingshard.TicketState, error)
}

// InProcessShardClient adapts a local *lockingshard.Shard to ShardClient,
// used for single-process topologies and tests.
type InProcessShardClient struct {
	Shard *lockingshard.Shard
}

func (c InProcessShardClient) TryLock(_ context.Context, ticket uint64, broker string, key txmodel.Hash, mode lockingshard.Mode, firstLock bool) ([]byte, *txmodel.TxError) {
	return c.Shard.TryLock(ticket, broker, key, mode, firstLock)
}

func (c InProcessShardClient) Prepare(_ context.Context, ticket uint64, broker string, updates map[txmodel.Hash][]byte) *txmodel.TxError {
	return c.Shard.Prepare(ticket, broker, updates)
}

func (c InProcessShardClient) Commit(_ context.Context, ticket uint64) *txmodel.TxError {
	return c.Shard.Commit(ticket)
}

func (c InProcessShardClient) Rollback(_ context.Context, ticket uint64) *txmodel.TxError {
	return c.Shard.Rollback(ticket)
}

func (c InProcessShardClient) Finish(_ context.Context, ticket uint64) { c.Shard.Finish(ticket) }

func (c InProcessShardClient) GetTickets(_ context.Context, broker string) (map[uint64]lockingshard.TicketState, error) {
	return c.Shard.GetTickets(broker), nil
}

// TicketMachine hands out strictly increasing ticket numbers. Lower
// numbers are older, which is what gives wound-wait its priority order.
type TicketMachine struct {
	next atomic.Uint64
}

// NewTicketMachine starts ticket numbering at floor+1, so a recovered
// leader never reissues a ticket number an earlier leader already used.
func NewTicketMachine(floor uint64) *TicketMachine {
	m := &TicketMachine{}
	m.next.Store(floor)
	return m
}

// Next returns a fresh, strictly increasing ticket number.
func (m *TicketMachine) Next() uint64 { return m.next.Add(1) }

// Config controls a Coordinator's concurrency and retry behavior.
type Config struct {
	MaxThreads   int
	RetryBackoff time.Duration
	MaxRetries   int
}

func (c Config) withDefaults() Config {
	if c.MaxThreads <= 0 {
		c.MaxThreads = 32
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 200
	}
	return c
}

// Coordinator drives 2PC for CTX batches across a set of locking shards.
type Coordinator struct {
	brokerID string
	dir      *directory.Table
	shards   map[int]ShardClient
	tickets  *TicketMachine
	cfg      Config
	sem      chan struct{}
}

// New returns a Coordinator that is leader for its own brokerID and owns
// the given shard clients, indexed by directory shard index.
func New(dir *directory.Table, shards map[int]ShardClient, tickets *TicketMachine, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		brokerID: uuid.NewString(),
		dir:      dir,
		shards:   shards,
		tickets:  tickets,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxThreads),
	}
}

// BrokerID returns the id every ticket this coordinator issues is
// registered under on each shard, used by GetTickets-based recovery.
func (c *Coordinator) BrokerID() string { return c.brokerID }

type shardWork struct {
	shardIndex int
	input      []lockedInput
	output     []lockedOutput
}

type lockedInput struct {
	key      txmodel.Hash
	expected []byte
}

type lockedOutput struct {
	key  txmodel.Hash
	data []byte
}

// Execute runs the five-step algorithm in §4.8 for a single transaction
// and blocks until the commit/abort outcome is known.
func (c *Coordinator) Execute(ctx context.Context, tx txmodel.FullTx) (bool, error) {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	ticket := c.tickets.Next()
	work, err := c.planShardWork(tx)
	if err != nil {
		return false, err
	}

	touched := make(map[int]bool, len(work))
	ok := c.tryLockAll(ctx, ticket, work, touched)
	if !ok {
		c.abort(ctx, ticket, touched)
		return false, nil
	}

	if !c.prepareAll(ctx, ticket, work) {
		c.abort(ctx, ticket, touched)
		return false, nil
	}

	if !c.commitAll(ctx, ticket, touched) {
		c.abort(ctx, ticket, touched)
		return false, nil
	}

	c.finishAll(ctx, ticket, touched)
	return true, nil
}

func (c *Coordinator) planShardWork(tx txmodel.FullTx) (map[int]*shardWork, error) {
	work := make(map[int]*shardWork)
	get := func(idx int) *shardWork {
		w, ok := work[idx]
		if !ok {
			w = &shardWork{shardIndex: idx}
			work[idx] = w
		}
		return w
	}

	for _, in := range tx.Inputs {
		key := in.UHSID()
		idx, err := c.dir.Route(key)
		if err != nil {
			return nil, fmt.Errorf("coordinator: routing input %s: %w", key, err)
		}
		if _, ok := c.shards[idx]; !ok {
			return nil, fmt.Errorf("coordinator: no shard client configured for shard %d", idx)
		}
		e := txmodel.NewEncoder(64)
		in.Output.Encode(e)
		get(idx).input = append(get(idx).input, lockedInput{key: key, expected: e.Bytes()})
	}

	outputIDs := tx.OutputUHSIDs()
	for i, out := range tx.Outputs {
		key := outputIDs[i]
		idx, err := c.dir.Route(key)
		if err != nil {
			return nil, fmt.Errorf("coordinator: routing output %s: %w", key, err)
		}
		if _, ok := c.shards[idx]; !ok {
			return nil, fmt.Errorf("coordinator: no shard client configured for shard %d", idx)
		}
		e := txmodel.NewEncoder(64)
		out.Encode(e)
		get(idx).output = append(get(idx).output, lockedOutput{key: key, data: e.Bytes()})
	}
	return work, nil
}

// tryLockAll acquires write locks for every input and output key, in
// parallel across shards, retrying on KindRetry up to cfg.MaxRetries.
// It returns false as soon as any lock proves the transaction cannot
// proceed (missing/mismatched input, non-empty output slot, or a
// deadline exceeded while waiting out a wound).
func (c *Coordinator) tryLockAll(ctx context.Context, ticket uint64, work map[int]*shardWork, touched map[int]bool) bool {
	var mu sync.Mutex
	ok := true

	var wg sync.WaitGroup
	for idx, w := range work {
		idx, w := idx, w
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := c.shards[idx]
			success := c.lockShardKeys(ctx, client, ticket, w)
			mu.Lock()
			touched[idx] = true
			if !success {
				ok = false
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return ok
}

// lockShardKeys locks every key this ticket needs on a single shard. It
// owns its own "is this the first try_lock call for this ticket on this
// shard" flag, since each shard is only ever touched by one goroutine per
// Execute call.
func (c *Coordinator) lockShardKeys(ctx context.Context, client ShardClient, ticket uint64, w *shardWork) bool {
	isFirst := true
	first := func() bool {
		f := isFirst
		isFirst = false
		return f
	}

	for _, in := range w.input {
		val, ok := c.retryLock(ctx, client, ticket, in.key, lockingshard.ModeWrite, first)
		if !ok {
			return false
		}
		if len(val) != len(in.expected) || string(val) != string(in.expected) {
			return false // input already spent or never existed
		}
	}
	for _, out := range w.output {
		val, ok := c.retryLock(ctx, client, ticket, out.key, lockingshard.ModeWrite, first)
		if !ok {
			return false
		}
		if len(val) != 0 {
			return false // output slot already occupied
		}
	}
	return true
}

// retryLock retries a single try_lock call until it is granted, a
// terminal error occurs, the context is canceled, or MaxRetries is hit.
func (c *Coordinator) retryLock(ctx context.Context, client ShardClient, ticket uint64, key txmodel.Hash, mode lockingshard.Mode, first func() bool) ([]byte, bool) {
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		val, err := client.TryLock(ctx, ticket, c.brokerID, key, mode, first())
		if err == nil {
			return val, true
		}
		if err.Kind != txmodel.KindRetry {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(c.cfg.RetryBackoff):
		}
	}
	return nil, false
}

func (c *Coordinator) prepareAll(ctx context.Context, ticket uint64, work map[int]*shardWork) bool {
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := true
	for idx, w := range work {
		idx, w := idx, w
		wg.Add(1)
		go func() {
			defer wg.Done()
			updates := make(map[txmodel.Hash][]byte, len(w.input)+len(w.output))
			for _, in := range w.input {
				updates[in.key] = nil // delete: spent
			}
			for _, out := range w.output {
				updates[out.key] = out.data
			}
			if err := c.shards[idx].Prepare(ctx, ticket, c.brokerID, updates); err != nil {
				mu.Lock()
				ok = false
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return ok
}

func (c *Coordinator) commitAll(ctx context.Context, ticket uint64, touched map[int]bool) bool {
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := true
	for idx := range touched {
		idx := idx
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.shards[idx].Commit(ctx, ticket); err != nil {
				mu.Lock()
				ok = false
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return ok
}

func (c *Coordinator) finishAll(ctx context.Context, ticket uint64, touched map[int]bool) {
	var wg sync.WaitGroup
	for idx := range touched {
		idx := idx
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.shards[idx].Finish(ctx, ticket)
		}()
	}
	wg.Wait()
}

func (c *Coordinator) abort(ctx context.Context, ticket uint64, touched map[int]bool) {
	var wg sync.WaitGroup
	for idx := range touched {
		idx := idx
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.shards[idx].Rollback(ctx, ticket)
		}()
	}
	wg.Wait()
	c.finishAll(ctx, ticket, touched)
}

// Recover implements §4.8's leader-change recovery: for every ticket
// this coordinator's broker id has outstanding on any shard, it unions
// the per-shard states and drives the ticket to a terminal outcome.
func (c *Coordinator) Recover(ctx context.Context) error {
	perShard := make(map[int]map[uint64]lockingshard.TicketState, len(c.shards))
	for idx, client := range c.shards {
		states, err := client.GetTickets(ctx, c.brokerID)
		if err != nil {
			return fmt.Errorf("coordinator: get_tickets on shard %d: %w", idx, err)
		}
		perShard[idx] = states
	}

	allTickets := make(map[uint64]struct{})
	for _, states := range perShard {
		for t := range states {
			allTickets[t] = struct{}{}
		}
	}

	for ticket := range allTickets {
		touched := make(map[int]bool)
		var anyCommitted, anyBegunOrWounded, allPreparedOrBetter bool
		allPreparedOrBetter = true
		seen := false
		for idx, states := range perShard {
			state, ok := states[ticket]
			if !ok {
				continue
			}
			touched[idx] = true
			seen = true
			switch state {
			case lockingshard.TicketCommitted:
				anyCommitted = true
			case lockingshard.TicketPrepared:
				// counts toward allPreparedOrBetter
			case lockingshard.TicketBegun, lockingshard.TicketWounded:
				anyBegunOrWounded = true
				allPreparedOrBetter = false
			default: // aborted
				allPreparedOrBetter = false
			}
		}
		if !seen {
			continue
		}

		if anyCommitted || (allPreparedOrBetter && !anyBegunOrWounded) {
			for idx := range touched {
				if perShard[idx][ticket] != lockingshard.TicketCommitted {
					c.shards[idx].Commit(ctx, ticket)
				}
			}
			c.finishAll(ctx, ticket, touched)
		} else {
			c.abort(ctx, ticket, touched)
		}
	}
	return nil
}
