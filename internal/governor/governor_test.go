package governor

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/valory-xyz/lockbox-governor-solana/internal/message"
	"github.com/valory-xyz/lockbox-governor-solana/internal/state"
)

var testProgramID = solana.MustPublicKeyFromBase58("DWDGo2UkBUFZ3VitBfWRBMvRnHr7E2DSh57NK27xMYaB")

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

func emitter(b byte) [32]byte { return [32]byte(key(b)) }

type tokenTransfer struct {
	env         message.Envelope
	source      solana.PublicKey
	destination solana.PublicKey
	amount      uint64
}

type sweep struct {
	sourceSOL       solana.PublicKey
	sourceOLAS      solana.PublicKey
	destinationSOL  solana.PublicKey
	destinationOLAS solana.PublicKey
}

type ownerChange struct {
	sourceSOL  solana.PublicKey
	sourceOLAS solana.PublicKey
	newOwner   solana.PublicKey
}

type fakeTokens struct {
	transfers    []tokenTransfer
	sweeps       []sweep
	ownerChanges []ownerChange
	transferErr  error
}

func (f *fakeTokens) Transfer(_ context.Context, env message.Envelope, source, destination solana.PublicKey, amount uint64) error {
	if f.transferErr != nil {
		return f.transferErr
	}
	f.transfers = append(f.transfers, tokenTransfer{env, source, destination, amount})
	return nil
}

func (f *fakeTokens) TransferAll(_ context.Context, _ message.Envelope, sourceSOL, sourceOLAS, destinationSOL, destinationOLAS solana.PublicKey) error {
	f.sweeps = append(f.sweeps, sweep{sourceSOL, sourceOLAS, destinationSOL, destinationOLAS})
	return nil
}

func (f *fakeTokens) TransferTokenAccounts(_ context.Context, _ message.Envelope, sourceSOL, sourceOLAS, newOwner solana.PublicKey) error {
	f.ownerChanges = append(f.ownerChanges, ownerChange{sourceSOL, sourceOLAS, newOwner})
	return nil
}

type authorityChange struct {
	program      solana.PublicKey
	newAuthority solana.PublicKey
}

type upgradeCall struct {
	program solana.PublicKey
	buffer  solana.PublicKey
	spill   solana.PublicKey
}

type fakePrograms struct {
	authorities []authorityChange
	upgrades    []upgradeCall
}

func (f *fakePrograms) SetUpgradeAuthority(_ context.Context, _ message.Envelope, program, newAuthority solana.PublicKey) error {
	f.authorities = append(f.authorities, authorityChange{program, newAuthority})
	return nil
}

func (f *fakePrograms) Upgrade(_ context.Context, _ message.Envelope, program, buffer, spill solana.PublicKey) error {
	f.upgrades = append(f.upgrades, upgradeCall{program, buffer, spill})
	return nil
}

type captureSink struct {
	events []Event
}

func (s *captureSink) Emit(e Event) { s.events = append(s.events, e) }

type fixture struct {
	gov       *Governor
	store     *state.Store
	tokens    *fakeTokens
	programs  *fakePrograms
	sink      *captureSink
	authority state.TreasuryAuthority
	signer    solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := state.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	authority, err := state.DeriveTreasuryAuthority(testProgramID)
	if err != nil {
		t.Fatalf("derive authority: %v", err)
	}

	cfg, err := Initialize(store, 2, emitter(0xAA), authority, state.DefaultMintSOL, state.DefaultMintOLAS)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	f := &fixture{
		store:     store,
		tokens:    &fakeTokens{},
		programs:  &fakePrograms{},
		sink:      &captureSink{},
		authority: authority,
		signer:    key(0x51),
	}
	f.gov = New(zap.NewNop(), cfg, store, f.tokens, f.programs, authority, f.signer, f.sink)
	return f
}

func env(seq uint64) message.Envelope {
	return message.Envelope{
		EmitterChain:   2,
		EmitterAddress: emitter(0xAA),
		Sequence:       seq,
		Nonce:          1,
		Digest:         emitter(0xD1),
	}
}

func (f *fixture) tokenAccount(addr solana.PublicKey, mint solana.PublicKey, amount uint64) TokenAccount {
	return TokenAccount{Address: addr, Mint: mint, Owner: f.authority.Address, Amount: amount}
}

func TestInitializeTwiceFails(t *testing.T) {
	f := newFixture(t)

	_, err := Initialize(f.store, 2, emitter(0xAA), f.authority, state.DefaultMintSOL, state.DefaultMintOLAS)
	if err == nil {
		t.Error("second initialize succeeded")
	}
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)

	source, dest := key(0x01), key(0x02)
	msg := message.Transfer{Source: source, Destination: dest, Amount: 500}
	accs := TransferAccounts{
		Source:      f.tokenAccount(source, state.DefaultMintSOL, 1000),
		Destination: f.tokenAccount(dest, state.DefaultMintSOL, 0),
	}

	if err := f.gov.Transfer(context.Background(), env(7), msg, accs); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if len(f.tokens.transfers) != 1 {
		t.Fatalf("got %d transfers, want 1", len(f.tokens.transfers))
	}
	got := f.tokens.transfers[0]
	if got.source != source || got.destination != dest || got.amount != 500 {
		t.Errorf("unexpected transfer %+v", got)
	}
	if got.env.Sequence != 7 || got.env.Digest != emitter(0xD1) {
		t.Errorf("effect not keyed to the message: %+v", got.env)
	}

	if f.gov.Config().TotalSOLTransferred != 500 {
		t.Errorf("total SOL = %d, want 500", f.gov.Config().TotalSOLTransferred)
	}

	// Totals must be persisted, not just in memory.
	persisted, err := f.store.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if persisted.TotalSOLTransferred != 500 {
		t.Errorf("persisted total SOL = %d, want 500", persisted.TotalSOLTransferred)
	}

	rec, ok, err := f.store.Received(2, 7)
	if err != nil || !ok {
		t.Fatalf("replay record missing: ok=%v err=%v", ok, err)
	}
	if rec.Nonce != 1 || rec.MessageHash != emitter(0xD1) {
		t.Errorf("replay record audit fields wrong: %+v", rec)
	}

	if len(f.sink.events) != 1 {
		t.Fatalf("got %d events, want 1", len(f.sink.events))
	}
	ev, ok := f.sink.events[0].(TransferEvent)
	if !ok {
		t.Fatalf("unexpected event %T", f.sink.events[0])
	}
	if ev.Signer != f.signer || ev.Amount != 500 || ev.Destination != dest || ev.Token != state.DefaultMintSOL {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestTransferReplayRejected(t *testing.T) {
	f := newFixture(t)

	source, dest := key(0x01), key(0x02)
	msg := message.Transfer{Source: source, Destination: dest, Amount: 500}
	accs := TransferAccounts{
		Source:      f.tokenAccount(source, state.DefaultMintSOL, 1000),
		Destination: f.tokenAccount(dest, state.DefaultMintSOL, 0),
	}

	if err := f.gov.Transfer(context.Background(), env(7), msg, accs); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	err := f.gov.Transfer(context.Background(), env(7), msg, accs)
	if !errors.Is(err, state.ErrAlreadyProcessed) {
		t.Fatalf("replay: got %v, want ErrAlreadyProcessed", err)
	}

	if len(f.tokens.transfers) != 1 {
		t.Errorf("effect ran %d times, want 1", len(f.tokens.transfers))
	}
	if f.gov.Config().TotalSOLTransferred != 500 {
		t.Errorf("total double-applied: %d", f.gov.Config().TotalSOLTransferred)
	}
}

func TestTransferRejectsBadOrigin(t *testing.T) {
	f := newFixture(t)

	source, dest := key(0x01), key(0x02)
	msg := message.Transfer{Source: source, Destination: dest, Amount: 500}
	accs := TransferAccounts{
		Source:      f.tokenAccount(source, state.DefaultMintSOL, 1000),
		Destination: f.tokenAccount(dest, state.DefaultMintSOL, 0),
	}

	badEmitter := env(7)
	badEmitter.EmitterAddress = emitter(0xBB)
	if err := f.gov.Transfer(context.Background(), badEmitter, msg, accs); !errors.Is(err, state.ErrInvalidForeignEmitter) {
		t.Errorf("wrong emitter: got %v, want ErrInvalidForeignEmitter", err)
	}

	badChain := env(7)
	badChain.EmitterChain = 3
	if err := f.gov.Transfer(context.Background(), badChain, msg, accs); !errors.Is(err, ErrInvalidForeignChain) {
		t.Errorf("wrong chain: got %v, want ErrInvalidForeignChain", err)
	}

	if len(f.tokens.transfers) != 0 {
		t.Error("effect ran despite rejected origin")
	}
	if _, ok, _ := f.store.Received(2, 7); ok {
		t.Error("replay record created despite rejected origin")
	}
}

func TestTransferRejectsSubstitutedAccounts(t *testing.T) {
	f := newFixture(t)

	msg := message.Transfer{Source: key(0x01), Destination: key(0x02), Amount: 500}
	// Authentic message, but the caller supplies a different live source.
	accs := TransferAccounts{
		Source:      f.tokenAccount(key(0x0E), state.DefaultMintSOL, 1000),
		Destination: f.tokenAccount(key(0x02), state.DefaultMintSOL, 0),
	}

	if err := f.gov.Transfer(context.Background(), env(7), msg, accs); !errors.Is(err, ErrWrongAccount) {
		t.Errorf("got %v, want ErrWrongAccount", err)
	}
	if len(f.tokens.transfers) != 0 {
		t.Error("effect ran despite substituted account")
	}
}

func TestTransferRejectsWrongMintThenRetrySucceeds(t *testing.T) {
	f := newFixture(t)

	source, dest := key(0x01), key(0x02)
	msg := message.Transfer{Source: source, Destination: dest, Amount: 500}

	mismatched := TransferAccounts{
		Source:      f.tokenAccount(source, state.DefaultMintOLAS, 1000),
		Destination: f.tokenAccount(dest, state.DefaultMintSOL, 0),
	}
	if err := f.gov.Transfer(context.Background(), env(7), msg, mismatched); !errors.Is(err, ErrWrongTokenMint) {
		t.Fatalf("got %v, want ErrWrongTokenMint", err)
	}
	if _, ok, _ := f.store.Received(2, 7); ok {
		t.Fatal("replay record created on precondition failure")
	}

	// The same message is retryable with corrected accounts.
	corrected := TransferAccounts{
		Source:      f.tokenAccount(source, state.DefaultMintSOL, 1000),
		Destination: f.tokenAccount(dest, state.DefaultMintSOL, 0),
	}
	if err := f.gov.Transfer(context.Background(), env(7), msg, corrected); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestTransferRejectsUngovernedMint(t *testing.T) {
	f := newFixture(t)

	source, dest := key(0x01), key(0x02)
	other := key(0x33)
	msg := message.Transfer{Source: source, Destination: dest, Amount: 500}
	accs := TransferAccounts{
		Source:      f.tokenAccount(source, other, 1000),
		Destination: f.tokenAccount(dest, other, 0),
	}

	if err := f.gov.Transfer(context.Background(), env(7), msg, accs); !errors.Is(err, ErrWrongTokenMint) {
		t.Errorf("got %v, want ErrWrongTokenMint", err)
	}
}

func TestTransferRejectsForeignOwnedSource(t *testing.T) {
	f := newFixture(t)

	source, dest := key(0x01), key(0x02)
	msg := message.Transfer{Source: source, Destination: dest, Amount: 500}
	accs := TransferAccounts{
		Source:      TokenAccount{Address: source, Mint: state.DefaultMintSOL, Owner: key(0x44), Amount: 1000},
		Destination: f.tokenAccount(dest, state.DefaultMintSOL, 0),
	}

	if err := f.gov.Transfer(context.Background(), env(7), msg, accs); !errors.Is(err, ErrWrongAccountOwner) {
		t.Errorf("got %v, want ErrWrongAccountOwner", err)
	}
}

func TestTransferRejectsInsufficientBalance(t *testing.T) {
	f := newFixture(t)

	source, dest := key(0x01), key(0x02)
	msg := message.Transfer{Source: source, Destination: dest, Amount: 500}
	accs := TransferAccounts{
		Source:      f.tokenAccount(source, state.DefaultMintSOL, 499),
		Destination: f.tokenAccount(dest, state.DefaultMintSOL, 0),
	}

	if err := f.gov.Transfer(context.Background(), env(7), msg, accs); !errors.Is(err, state.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestTransferRejectsTotalOverflow(t *testing.T) {
	f := newFixture(t)
	f.gov.Config().TotalSOLTransferred = math.MaxUint64 - 10

	source, dest := key(0x01), key(0x02)
	msg := message.Transfer{Source: source, Destination: dest, Amount: 500}
	accs := TransferAccounts{
		Source:      f.tokenAccount(source, state.DefaultMintSOL, 1000),
		Destination: f.tokenAccount(dest, state.DefaultMintSOL, 0),
	}

	if err := f.gov.Transfer(context.Background(), env(7), msg, accs); !errors.Is(err, state.ErrOverflow) {
		t.Fatalf("got %v, want ErrOverflow", err)
	}
	if f.gov.Config().TotalSOLTransferred != math.MaxUint64-10 {
		t.Error("total mutated on overflow")
	}
	if len(f.tokens.transfers) != 0 {
		t.Error("effect ran despite overflow")
	}
	if _, ok, _ := f.store.Received(2, 7); ok {
		t.Error("replay record created despite overflow")
	}
}

func TestTransferEffectFailureConsumesMessage(t *testing.T) {
	f := newFixture(t)
	f.tokens.transferErr = errors.New("ledger unavailable")

	source, dest := key(0x01), key(0x02)
	msg := message.Transfer{Source: source, Destination: dest, Amount: 500}
	accs := TransferAccounts{
		Source:      f.tokenAccount(source, state.DefaultMintSOL, 1000),
		Destination: f.tokenAccount(dest, state.DefaultMintSOL, 0),
	}

	if err := f.gov.Transfer(context.Background(), env(7), msg, accs); err == nil {
		t.Fatal("expected effect failure")
	}

	// The claim precedes the effect: the message is consumed and cannot
	// re-enter even though the effect never ran.
	if _, ok, _ := f.store.Received(2, 7); !ok {
		t.Fatal("replay record missing after failed effect")
	}
	f.tokens.transferErr = nil
	if err := f.gov.Transfer(context.Background(), env(7), msg, accs); !errors.Is(err, state.ErrAlreadyProcessed) {
		t.Errorf("retry after failed effect: got %v, want ErrAlreadyProcessed", err)
	}
	if f.gov.Config().TotalSOLTransferred != 0 {
		t.Errorf("total = %d after failed effect, want 0", f.gov.Config().TotalSOLTransferred)
	}
}

func TestTransferAll(t *testing.T) {
	f := newFixture(t)

	srcSOL, srcOLAS, dstSOL, dstOLAS := key(0x01), key(0x02), key(0x03), key(0x04)
	msg := message.TransferAll{
		SourceSOL: srcSOL, SourceOLAS: srcOLAS,
		DestinationSOL: dstSOL, DestinationOLAS: dstOLAS,
	}
	accs := TransferAllAccounts{
		SourceSOL:       f.tokenAccount(srcSOL, state.DefaultMintSOL, 300),
		SourceOLAS:      f.tokenAccount(srcOLAS, state.DefaultMintOLAS, 700),
		DestinationSOL:  f.tokenAccount(dstSOL, state.DefaultMintSOL, 0),
		DestinationOLAS: f.tokenAccount(dstOLAS, state.DefaultMintOLAS, 0),
	}

	if err := f.gov.TransferAll(context.Background(), env(8), msg, accs); err != nil {
		t.Fatalf("transfer all: %v", err)
	}

	if len(f.tokens.sweeps) != 1 {
		t.Fatalf("got %d sweeps, want 1", len(f.tokens.sweeps))
	}
	if f.tokens.sweeps[0] != (sweep{srcSOL, srcOLAS, dstSOL, dstOLAS}) {
		t.Errorf("unexpected sweep %+v", f.tokens.sweeps[0])
	}
	if f.gov.Config().TotalSOLTransferred != 300 || f.gov.Config().TotalOLASTransferred != 700 {
		t.Errorf("totals = %d/%d, want 300/700",
			f.gov.Config().TotalSOLTransferred, f.gov.Config().TotalOLASTransferred)
	}

	ev, ok := f.sink.events[0].(TransferAllEvent)
	if !ok {
		t.Fatalf("unexpected event %T", f.sink.events[0])
	}
	if ev.AmountSOL != 300 || ev.AmountOLAS != 700 {
		t.Errorf("unexpected event amounts %+v", ev)
	}
}

func TestTransferAllZeroBalanceLeg(t *testing.T) {
	f := newFixture(t)

	srcSOL, srcOLAS, dstSOL, dstOLAS := key(0x01), key(0x02), key(0x03), key(0x04)
	msg := message.TransferAll{
		SourceSOL: srcSOL, SourceOLAS: srcOLAS,
		DestinationSOL: dstSOL, DestinationOLAS: dstOLAS,
	}
	accs := TransferAllAccounts{
		SourceSOL:       f.tokenAccount(srcSOL, state.DefaultMintSOL, 0),
		SourceOLAS:      f.tokenAccount(srcOLAS, state.DefaultMintOLAS, 700),
		DestinationSOL:  f.tokenAccount(dstSOL, state.DefaultMintSOL, 0),
		DestinationOLAS: f.tokenAccount(dstOLAS, state.DefaultMintOLAS, 0),
	}

	if err := f.gov.TransferAll(context.Background(), env(8), msg, accs); err != nil {
		t.Fatalf("transfer all: %v", err)
	}

	// An empty leg contributes nothing to the totals or the event.
	if f.gov.Config().TotalSOLTransferred != 0 || f.gov.Config().TotalOLASTransferred != 700 {
		t.Errorf("totals = %d/%d, want 0/700",
			f.gov.Config().TotalSOLTransferred, f.gov.Config().TotalOLASTransferred)
	}
	ev, ok := f.sink.events[0].(TransferAllEvent)
	if !ok {
		t.Fatalf("unexpected event %T", f.sink.events[0])
	}
	if ev.AmountSOL != 0 || ev.AmountOLAS != 700 {
		t.Errorf("unexpected event amounts %+v", ev)
	}
}

func TestTransferAllRejectsSwappedMints(t *testing.T) {
	f := newFixture(t)

	srcSOL, srcOLAS, dstSOL, dstOLAS := key(0x01), key(0x02), key(0x03), key(0x04)
	msg := message.TransferAll{
		SourceSOL: srcSOL, SourceOLAS: srcOLAS,
		DestinationSOL: dstSOL, DestinationOLAS: dstOLAS,
	}
	accs := TransferAllAccounts{
		SourceSOL:       f.tokenAccount(srcSOL, state.DefaultMintOLAS, 300),
		SourceOLAS:      f.tokenAccount(srcOLAS, state.DefaultMintSOL, 700),
		DestinationSOL:  f.tokenAccount(dstSOL, state.DefaultMintSOL, 0),
		DestinationOLAS: f.tokenAccount(dstOLAS, state.DefaultMintOLAS, 0),
	}

	if err := f.gov.TransferAll(context.Background(), env(8), msg, accs); !errors.Is(err, ErrWrongTokenMint) {
		t.Errorf("got %v, want ErrWrongTokenMint", err)
	}
}

func TestTransferTokenAccounts(t *testing.T) {
	f := newFixture(t)

	srcSOL, srcOLAS, newOwner := key(0x01), key(0x02), key(0x05)
	msg := message.TransferTokenAccounts{SourceSOL: srcSOL, SourceOLAS: srcOLAS, Destination: newOwner}
	accs := TransferTokenAccountsAccounts{
		SourceSOL:   f.tokenAccount(srcSOL, state.DefaultMintSOL, 300),
		SourceOLAS:  f.tokenAccount(srcOLAS, state.DefaultMintOLAS, 700),
		Destination: newOwner,
	}

	if err := f.gov.TransferTokenAccounts(context.Background(), env(9), msg, accs); err != nil {
		t.Fatalf("transfer token accounts: %v", err)
	}

	if len(f.tokens.ownerChanges) != 1 {
		t.Fatalf("got %d owner changes, want 1", len(f.tokens.ownerChanges))
	}
	if f.tokens.ownerChanges[0] != (ownerChange{srcSOL, srcOLAS, newOwner}) {
		t.Errorf("unexpected owner change %+v", f.tokens.ownerChanges[0])
	}
	// Ownership reassignment never touches the totals.
	if f.gov.Config().TotalSOLTransferred != 0 || f.gov.Config().TotalOLASTransferred != 0 {
		t.Error("totals mutated by owner change")
	}
}

func TestSetUpgradeAuthority(t *testing.T) {
	f := newFixture(t)

	program, newAuth := key(0x10), key(0x11)
	msg := message.SetUpgradeAuthority{Program: program, NewAuthority: newAuth}
	accs := SetUpgradeAuthorityAccounts{
		Program:      ProgramAccount{Address: program, Executable: true, UpgradeAuthority: f.authority.Address},
		NewAuthority: newAuth,
	}

	if err := f.gov.SetUpgradeAuthority(context.Background(), env(10), msg, accs); err != nil {
		t.Fatalf("set upgrade authority: %v", err)
	}

	if len(f.programs.authorities) != 1 {
		t.Fatalf("got %d authority changes, want 1", len(f.programs.authorities))
	}
	if f.programs.authorities[0] != (authorityChange{program, newAuth}) {
		t.Errorf("unexpected authority change %+v", f.programs.authorities[0])
	}
}

func TestSetUpgradeAuthorityRejectsForeignAuthority(t *testing.T) {
	f := newFixture(t)

	program, newAuth := key(0x10), key(0x11)
	msg := message.SetUpgradeAuthority{Program: program, NewAuthority: newAuth}
	accs := SetUpgradeAuthorityAccounts{
		Program:      ProgramAccount{Address: program, Executable: true, UpgradeAuthority: key(0x66)},
		NewAuthority: newAuth,
	}

	if err := f.gov.SetUpgradeAuthority(context.Background(), env(10), msg, accs); !errors.Is(err, ErrWrongUpgradeAuthority) {
		t.Errorf("got %v, want ErrWrongUpgradeAuthority", err)
	}
	if len(f.programs.authorities) != 0 {
		t.Error("effect ran despite wrong authority")
	}
}

func TestSetUpgradeAuthorityRejectsNonExecutable(t *testing.T) {
	f := newFixture(t)

	program, newAuth := key(0x10), key(0x11)
	msg := message.SetUpgradeAuthority{Program: program, NewAuthority: newAuth}
	accs := SetUpgradeAuthorityAccounts{
		Program:      ProgramAccount{Address: program, Executable: false, UpgradeAuthority: f.authority.Address},
		NewAuthority: newAuth,
	}

	if err := f.gov.SetUpgradeAuthority(context.Background(), env(10), msg, accs); !errors.Is(err, ErrWrongAccount) {
		t.Errorf("got %v, want ErrWrongAccount", err)
	}
}

func TestUpgradeProgram(t *testing.T) {
	f := newFixture(t)

	program, buffer, spill := key(0x10), key(0x12), key(0x13)
	msg := message.UpgradeProgram{Program: program, Buffer: buffer, Spill: spill}
	accs := UpgradeProgramAccounts{
		Program: ProgramAccount{Address: program, Executable: true, UpgradeAuthority: f.authority.Address},
		Buffer:  buffer,
		Spill:   spill,
	}

	if err := f.gov.UpgradeProgram(context.Background(), env(11), msg, accs); err != nil {
		t.Fatalf("upgrade program: %v", err)
	}

	if len(f.programs.upgrades) != 1 {
		t.Fatalf("got %d upgrades, want 1", len(f.programs.upgrades))
	}
	if f.programs.upgrades[0] != (upgradeCall{program, buffer, spill}) {
		t.Errorf("unexpected upgrade %+v", f.programs.upgrades[0])
	}

	ev, ok := f.sink.events[0].(UpgradeProgramEvent)
	if !ok {
		t.Fatalf("unexpected event %T", f.sink.events[0])
	}
	if ev.Program != program || ev.Buffer != buffer || ev.Spill != spill {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestUpgradeProgramRejectsSubstitutedBuffer(t *testing.T) {
	f := newFixture(t)

	program, buffer, spill := key(0x10), key(0x12), key(0x13)
	msg := message.UpgradeProgram{Program: program, Buffer: buffer, Spill: spill}
	accs := UpgradeProgramAccounts{
		Program: ProgramAccount{Address: program, Executable: true, UpgradeAuthority: f.authority.Address},
		Buffer:  key(0x77),
		Spill:   spill,
	}

	if err := f.gov.UpgradeProgram(context.Background(), env(11), msg, accs); !errors.Is(err, ErrWrongAccount) {
		t.Errorf("got %v, want ErrWrongAccount", err)
	}
	if len(f.programs.upgrades) != 0 {
		t.Error("effect ran despite substituted buffer")
	}
}

func TestDistinctSequencesBothExecute(t *testing.T) {
	f := newFixture(t)

	source, dest := key(0x01), key(0x02)
	accs := TransferAccounts{
		Source:      f.tokenAccount(source, state.DefaultMintSOL, 1000),
		Destination: f.tokenAccount(dest, state.DefaultMintSOL, 0),
	}

	msg := message.Transfer{Source: source, Destination: dest, Amount: 100}
	if err := f.gov.Transfer(context.Background(), env(1), msg, accs); err != nil {
		t.Fatalf("seq 1: %v", err)
	}
	if err := f.gov.Transfer(context.Background(), env(2), msg, accs); err != nil {
		t.Fatalf("seq 2: %v", err)
	}

	if f.gov.Config().TotalSOLTransferred != 200 {
		t.Errorf("total = %d, want 200", f.gov.Config().TotalSOLTransferred)
	}
}

// The relayer dispatches one goroutine per message; the handlers serialize
// internally so the shared totals never lose an update.
func TestConcurrentTransfers(t *testing.T) {
	f := newFixture(t)

	source, dest := key(0x01), key(0x02)
	msg := message.Transfer{Source: source, Destination: dest, Amount: 1}
	accs := TransferAccounts{
		Source:      f.tokenAccount(source, state.DefaultMintSOL, 1000),
		Destination: f.tokenAccount(dest, state.DefaultMintSOL, 0),
	}

	const n = 50
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.gov.Transfer(context.Background(), env(uint64(i+1)), msg, accs)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("transfer %d: %v", i+1, err)
		}
	}
	if len(f.tokens.transfers) != n {
		t.Errorf("got %d effects, want %d", len(f.tokens.transfers), n)
	}
	if f.gov.Config().TotalSOLTransferred != n {
		t.Errorf("total = %d, want %d", f.gov.Config().TotalSOLTransferred, n)
	}

	persisted, err := f.store.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if persisted.TotalSOLTransferred != n {
		t.Errorf("persisted total = %d, want %d", persisted.TotalSOLTransferred, n)
	}
	count, err := f.store.ReceivedCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != n {
		t.Errorf("replay records = %d, want %d", count, n)
	}
}
