// Copyright 2025 Certen Protocol
package wallet

import (
	"context"
	"testing"

	"github.com/cbdc-core/settlement/pkg/sentinel"
	"github.com/cbdc-core/settlement/pkg/txmodel"
	"github.com/cbdc-core/settlement/pkg/xsign"
)

type fixedSentinel struct {
	res sentinel.ExecuteResult
	err error
}

func (f fixedSentinel) Execute(context.Context, txmodel.FullTx) (sentinel.ExecuteResult, error) {
	return f.res, f.err
}

type fixedBootstrap struct {
	committed bool
	err       error
}

func (f fixedBootstrap) Execute(context.Context, txmodel.FullTx) (bool, error) {
	return f.committed, f.err
}

type fakeSyncSource struct {
	outcomes map[txmodel.Hash]SyncOutcome
}

func (f fakeSyncSource) Status(_ context.Context, txID txmodel.Hash, _, _ []txmodel.Hash) (SyncOutcome, error) {
	if o, ok := f.outcomes[txID]; ok {
		return o, nil
	}
	return OutcomePending, nil
}

func seedCoin(t *testing.T, w *Wallet, value uint64, prevByte byte) (txmodel.OutPoint, *xsign.KeyPair) {
	t.Helper()
	kp, err := xsign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	op := txmodel.OutPoint{TxID: txmodel.Hash{prevByte}, OutputIndex: 0}
	out := txmodel.Output{WitnessProgramCommitment: xsign.P2PKCommitment(kp.PublicKey()), Value: value}
	w.Seed(op, out, kp)
	return op, kp
}

func TestNewAddressGeneratesDistinctKeys(t *testing.T) {
	w := New(nil, nil, nil)
	a, err := w.NewAddress()
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	b, err := w.NewAddress()
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct addresses")
	}
}

func TestSendSelectsCoinsAndReservesThem(t *testing.T) {
	w := New(fixedSentinel{res: sentinel.ExecuteResult{Status: sentinel.StatusPending}}, nil, nil)
	seedCoin(t, w, 100, 0x01)

	payeeKp, err := xsign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	if got := w.Balance(); got != 100 {
		t.Fatalf("expected balance 100 before send, got %d", got)
	}

	tx, res, err := w.Send(context.Background(), 40, payeeKp.PublicKey())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Status != sentinel.StatusPending {
		t.Fatalf("expected pending, got %v", res.Status)
	}
	if len(tx.Inputs) != 1 {
		t.Fatalf("expected one input spent, got %d", len(tx.Inputs))
	}
	if len(tx.Outputs) != 2 {
		t.Fatalf("expected payee + change output, got %d", len(tx.Outputs))
	}

	if got := w.Balance(); got != 0 {
		t.Fatalf("expected the spent coin reserved out of the spendable balance, got %d", got)
	}

	pub, sig, ok := xsign.ParseP2PKWitness(tx.Inputs[0].Witness)
	if !ok {
		t.Fatalf("expected a valid P2PK witness")
	}
	if !(xsign.SchnorrVerifier{}).Verify(pub, tx.TxID(), sig) {
		t.Fatalf("expected the input signature to verify")
	}
}

func TestSendInsufficientFunds(t *testing.T) {
	w := New(fixedSentinel{}, nil, nil)
	seedCoin(t, w, 10, 0x01)

	payeeKp, err := xsign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, _, err := w.Send(context.Background(), 100, payeeKp.PublicKey()); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestFanProducesCountOutputs(t *testing.T) {
	w := New(fixedSentinel{res: sentinel.ExecuteResult{Status: sentinel.StatusPending}}, nil, nil)
	seedCoin(t, w, 100, 0x01)

	payeeKp, err := xsign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx, _, err := w.Fan(context.Background(), 3, 10, payeeKp.PublicKey())
	if err != nil {
		t.Fatalf("Fan: %v", err)
	}
	if len(tx.Outputs) != 4 { // 3 payouts + change
		t.Fatalf("expected 3 payouts plus change, got %d outputs", len(tx.Outputs))
	}
}

func TestMintBypassesSentinelAndConfirmsOnCommit(t *testing.T) {
	w := New(nil, fixedBootstrap{committed: true}, nil)
	tx, ok, err := w.Mint(context.Background(), 2, 50)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if !ok {
		t.Fatalf("expected the mint to commit")
	}
	if len(tx.Inputs) != 0 {
		t.Fatalf("expected an invalid-input (no-input) mint tx, got %d inputs", len(tx.Inputs))
	}
	if got := w.Balance(); got != 100 {
		t.Fatalf("expected minted outputs credited to the wallet, got %d", got)
	}
}

func TestMintNotCommittedLeavesTxPending(t *testing.T) {
	w := New(nil, fixedBootstrap{committed: false}, nil)
	_, ok, err := w.Mint(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if ok {
		t.Fatalf("expected the mint to not commit")
	}
	if got := w.Balance(); got != 0 {
		t.Fatalf("expected no credited balance until confirmed, got %d", got)
	}
}

func TestAbandonTransactionUnreservesCoins(t *testing.T) {
	w := New(fixedSentinel{res: sentinel.ExecuteResult{Status: sentinel.StatusStateInvalid}}, nil, nil)
	seedCoin(t, w, 100, 0x01)
	payeeKp, err := xsign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx, _, err := w.Send(context.Background(), 40, payeeKp.PublicKey())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := w.Balance(); got != 0 {
		t.Fatalf("expected reserved balance, got %d", got)
	}

	w.AbandonTransaction(tx.TxID())
	if got := w.Balance(); got != 100 {
		t.Fatalf("expected balance restored after abandon, got %d", got)
	}
}

func TestSyncConfirmsAndAbandonsPendingTransactions(t *testing.T) {
	sync := fakeSyncSource{outcomes: make(map[txmodel.Hash]SyncOutcome)}
	w := New(fixedSentinel{res: sentinel.ExecuteResult{Status: sentinel.StatusPending}}, nil, sync)
	seedCoin(t, w, 100, 0x01)
	seedCoin(t, w, 100, 0x02)
	payeeKp, err := xsign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	txA, _, err := w.Send(context.Background(), 40, payeeKp.PublicKey())
	if err != nil {
		t.Fatalf("Send A: %v", err)
	}
	txB, _, err := w.Send(context.Background(), 40, payeeKp.PublicKey())
	if err != nil {
		t.Fatalf("Send B: %v", err)
	}

	sync.outcomes[txA.TxID()] = OutcomeConfirmed
	sync.outcomes[txB.TxID()] = OutcomeRejected

	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// A confirmed: change output graduates to spendable. B rejected: the
	// full reserved coin (100) is restored.
	if got := w.Balance(); got != 60+100 {
		t.Fatalf("expected confirmed change (60) plus restored coin (100), got %d", got)
	}
}

func TestImportSendInputGraduatesOnConfirm(t *testing.T) {
	kp, err := xsign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	input := txmodel.Input{
		OutPoint: txmodel.OutPoint{TxID: txmodel.Hash{0x09}, OutputIndex: 0},
		Output:   txmodel.Output{WitnessProgramCommitment: xsign.P2PKCommitment(kp.PublicKey()), Value: 25},
	}
	sync := fakeSyncSource{outcomes: map[txmodel.Hash]SyncOutcome{input.UHSID(): OutcomeConfirmed}}
	w := New(fixedSentinel{}, nil, sync)
	w.ImportSendInput(input, kp)

	if got := w.Balance(); got != 0 {
		t.Fatalf("expected the imported input held pending, got balance %d", got)
	}
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := w.Balance(); got != 25 {
		t.Fatalf("expected the imported input graduated to spendable, got %d", got)
	}
}
