package clients

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/valory-xyz/lockbox-governor-solana/internal/governor"
	"github.com/valory-xyz/lockbox-governor-solana/internal/message"
	"github.com/valory-xyz/lockbox-governor-solana/internal/state"
)

// DefaultWormholeProgramID is the Wormhole core bridge on Solana mainnet.
var DefaultWormholeProgramID = solana.MustPublicKeyFromBase58("worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth")

// PDA seeds of the on-chain governor program.
var (
	seedReceived = []byte("received")
)

// Wormhole PDA seeds.
var seedPostedVAA = []byte("PostedVAA")

// Upgradeable loader account state discriminants.
const (
	loaderStateProgram     uint32 = 2
	loaderStateProgramData uint32 = 3
)

// SolanaClient is the production effect executor. It reads live account
// snapshots for the verification gate and submits one governor program
// instruction per action. The treasury authority is the program's config PDA:
// it has no key, so the only transaction signer is the payer and the program
// signs the inner token and loader instructions with the config seeds.
type SolanaClient struct {
	client            *rpc.Client
	payer             solana.PrivateKey
	programID         solana.PublicKey
	wormholeProgramID solana.PublicKey
	config            solana.PublicKey
	logger            *zap.Logger
}

// NewSolanaClient connects to a Solana RPC endpoint. The payer key funds and
// signs the governor program transactions.
func NewSolanaClient(logger *zap.Logger, rpcURL string, privateKeyBase58 string, programID, wormholeProgramID solana.PublicKey) (*SolanaClient, error) {
	privKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	authority, err := state.DeriveTreasuryAuthority(programID)
	if err != nil {
		return nil, err
	}

	c := &SolanaClient{
		client:            rpc.New(rpcURL),
		payer:             privKey,
		programID:         programID,
		wormholeProgramID: wormholeProgramID,
		config:            authority.Address,
		logger:            logger.With(zap.String("component", "SolanaClient")),
	}
	c.logger.Info("Solana client initialized",
		zap.String("rpcURL", rpcURL),
		zap.String("payer", c.payer.PublicKey().String()),
		zap.String("programID", programID.String()),
		zap.String("config", c.config.String()))
	return c, nil
}

// GetPayerAddress returns the payer's public key.
func (c *SolanaClient) GetPayerAddress() solana.PublicKey {
	return c.payer.PublicKey()
}

// GetTokenAccount fetches and parses an SPL token account snapshot.
func (c *SolanaClient) GetTokenAccount(ctx context.Context, addr solana.PublicKey) (governor.TokenAccount, error) {
	info, err := c.client.GetAccountInfo(ctx, addr)
	if err != nil {
		return governor.TokenAccount{}, fmt.Errorf("fetch token account %s: %w", addr, err)
	}
	if info == nil || info.Value == nil {
		return governor.TokenAccount{}, fmt.Errorf("token account %s does not exist", addr)
	}

	// SPL token account layout: mint (32), owner (32), amount (u64 LE), rest.
	data := info.Value.Data.GetBinary()
	if len(data) < 72 {
		return governor.TokenAccount{}, fmt.Errorf("token account %s: data too short (%d bytes)", addr, len(data))
	}

	acc := governor.TokenAccount{Address: addr}
	copy(acc.Mint[:], data[0:32])
	copy(acc.Owner[:], data[32:64])
	acc.Amount = binary.LittleEndian.Uint64(data[64:72])
	return acc, nil
}

// GetProgramAccount fetches a governed program's snapshot, resolving its
// program-data account to read the current upgrade authority.
func (c *SolanaClient) GetProgramAccount(ctx context.Context, addr solana.PublicKey) (governor.ProgramAccount, error) {
	info, err := c.client.GetAccountInfo(ctx, addr)
	if err != nil {
		return governor.ProgramAccount{}, fmt.Errorf("fetch program account %s: %w", addr, err)
	}
	if info == nil || info.Value == nil {
		return governor.ProgramAccount{}, fmt.Errorf("program account %s does not exist", addr)
	}

	acc := governor.ProgramAccount{
		Address:    addr,
		Executable: info.Value.Executable,
	}

	// Program account layout: state discriminant (u32 LE) + programdata key.
	data := info.Value.Data.GetBinary()
	if len(data) < 36 || binary.LittleEndian.Uint32(data[0:4]) != loaderStateProgram {
		return acc, fmt.Errorf("account %s is not an upgradeable program", addr)
	}
	var programData solana.PublicKey
	copy(programData[:], data[4:36])

	pdInfo, err := c.client.GetAccountInfo(ctx, programData)
	if err != nil {
		return acc, fmt.Errorf("fetch program data %s: %w", programData, err)
	}
	if pdInfo == nil || pdInfo.Value == nil {
		return acc, fmt.Errorf("program data account %s does not exist", programData)
	}

	// Program data layout: discriminant (u32) + slot (u64) +
	// option flag (1) + upgrade authority (32).
	pd := pdInfo.Value.Data.GetBinary()
	if len(pd) < 45 || binary.LittleEndian.Uint32(pd[0:4]) != loaderStateProgramData {
		return acc, fmt.Errorf("account %s is not program data", programData)
	}
	if pd[12] == 1 {
		copy(acc.UpgradeAuthority[:], pd[13:45])
	}
	return acc, nil
}

// Transfer submits the governor program's transfer instruction.
func (c *SolanaClient) Transfer(ctx context.Context, env message.Envelope, source, destination solana.PublicKey, amount uint64) error {
	ix, err := c.TransferInstruction(env, source, destination)
	if err != nil {
		return err
	}
	sig, err := c.submitGovernorInstruction(ctx, env, ix)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	c.logger.Info("Transfer submitted",
		zap.String("source", source.String()),
		zap.String("destination", destination.String()),
		zap.Uint64("amount", amount),
		zap.String("signature", sig))
	return nil
}

// TransferAll submits the governor program's transfer_all instruction.
func (c *SolanaClient) TransferAll(ctx context.Context, env message.Envelope, sourceSOL, sourceOLAS, destinationSOL, destinationOLAS solana.PublicKey) error {
	ix, err := c.TransferAllInstruction(env, sourceSOL, sourceOLAS, destinationSOL, destinationOLAS)
	if err != nil {
		return err
	}
	sig, err := c.submitGovernorInstruction(ctx, env, ix)
	if err != nil {
		return fmt.Errorf("transfer all: %w", err)
	}
	c.logger.Info("Balance sweep submitted",
		zap.String("destinationSOL", destinationSOL.String()),
		zap.String("destinationOLAS", destinationOLAS.String()),
		zap.String("signature", sig))
	return nil
}

// TransferTokenAccounts submits the governor program's
// transfer_token_accounts instruction.
func (c *SolanaClient) TransferTokenAccounts(ctx context.Context, env message.Envelope, sourceSOL, sourceOLAS, newOwner solana.PublicKey) error {
	ix, err := c.TransferTokenAccountsInstruction(env, sourceSOL, sourceOLAS, newOwner)
	if err != nil {
		return err
	}
	sig, err := c.submitGovernorInstruction(ctx, env, ix)
	if err != nil {
		return fmt.Errorf("transfer token accounts: %w", err)
	}
	c.logger.Info("Token account owner change submitted",
		zap.String("newOwner", newOwner.String()),
		zap.String("signature", sig))
	return nil
}

// SetUpgradeAuthority submits the governor program's
// set_program_upgrade_authority instruction.
func (c *SolanaClient) SetUpgradeAuthority(ctx context.Context, env message.Envelope, program, newAuthority solana.PublicKey) error {
	ix, err := c.SetUpgradeAuthorityInstruction(env, program, newAuthority)
	if err != nil {
		return err
	}
	sig, err := c.submitGovernorInstruction(ctx, env, ix)
	if err != nil {
		return fmt.Errorf("set upgrade authority: %w", err)
	}
	c.logger.Info("Upgrade authority change submitted",
		zap.String("program", program.String()),
		zap.String("newAuthority", newAuthority.String()),
		zap.String("signature", sig))
	return nil
}

// Upgrade submits the governor program's upgrade_program instruction.
func (c *SolanaClient) Upgrade(ctx context.Context, env message.Envelope, program, buffer, spill solana.PublicKey) error {
	ix, err := c.UpgradeInstruction(env, program, buffer, spill)
	if err != nil {
		return err
	}
	sig, err := c.submitGovernorInstruction(ctx, env, ix)
	if err != nil {
		return fmt.Errorf("upgrade program: %w", err)
	}
	c.logger.Info("Program upgrade submitted",
		zap.String("program", program.String()),
		zap.String("buffer", buffer.String()),
		zap.String("spill", spill.String()),
		zap.String("signature", sig))
	return nil
}

// anchorDiscriminator computes the 8-byte Anchor instruction discriminator.
func anchorDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

// instructionData builds the instruction payload: discriminator + vaa_hash.
func instructionData(name string, digest [32]byte) []byte {
	data := make([]byte, 0, 40)
	data = append(data, anchorDiscriminator(name)...)
	data = append(data, digest[:]...)
	return data
}

// messageAccounts builds the account prefix shared by every governor
// instruction: payer, config, wormhole program, posted VAA, received record.
func (c *SolanaClient) messageAccounts(env message.Envelope, configWritable bool) ([]*solana.AccountMeta, error) {
	posted, err := c.postedVAAAddress(env.Digest)
	if err != nil {
		return nil, err
	}
	received, err := c.receivedAddress(env.EmitterChain, env.Sequence)
	if err != nil {
		return nil, err
	}

	return []*solana.AccountMeta{
		{PublicKey: c.payer.PublicKey(), IsSigner: true, IsWritable: true},
		{PublicKey: c.config, IsWritable: configWritable},
		{PublicKey: c.wormholeProgramID},
		{PublicKey: posted},
		{PublicKey: received, IsWritable: true},
	}, nil
}

// TransferInstruction builds the transfer instruction. Exported so the
// transaction layout can be inspected without an RPC connection.
func (c *SolanaClient) TransferInstruction(env message.Envelope, source, destination solana.PublicKey) (*solana.GenericInstruction, error) {
	accounts, err := c.messageAccounts(env, true)
	if err != nil {
		return nil, err
	}
	accounts = append(accounts,
		&solana.AccountMeta{PublicKey: source, IsWritable: true},
		&solana.AccountMeta{PublicKey: destination, IsWritable: true},
		&solana.AccountMeta{PublicKey: solana.TokenProgramID},
		&solana.AccountMeta{PublicKey: solana.SystemProgramID},
	)
	return solana.NewInstruction(c.programID, accounts, instructionData("transfer", env.Digest)), nil
}

// TransferAllInstruction builds the transfer_all instruction.
func (c *SolanaClient) TransferAllInstruction(env message.Envelope, sourceSOL, sourceOLAS, destinationSOL, destinationOLAS solana.PublicKey) (*solana.GenericInstruction, error) {
	accounts, err := c.messageAccounts(env, true)
	if err != nil {
		return nil, err
	}
	accounts = append(accounts,
		&solana.AccountMeta{PublicKey: sourceSOL, IsWritable: true},
		&solana.AccountMeta{PublicKey: sourceOLAS, IsWritable: true},
		&solana.AccountMeta{PublicKey: destinationSOL, IsWritable: true},
		&solana.AccountMeta{PublicKey: destinationOLAS, IsWritable: true},
		&solana.AccountMeta{PublicKey: solana.TokenProgramID},
		&solana.AccountMeta{PublicKey: solana.SystemProgramID},
	)
	return solana.NewInstruction(c.programID, accounts, instructionData("transfer_all", env.Digest)), nil
}

// TransferTokenAccountsInstruction builds the transfer_token_accounts
// instruction.
func (c *SolanaClient) TransferTokenAccountsInstruction(env message.Envelope, sourceSOL, sourceOLAS, newOwner solana.PublicKey) (*solana.GenericInstruction, error) {
	accounts, err := c.messageAccounts(env, false)
	if err != nil {
		return nil, err
	}
	accounts = append(accounts,
		&solana.AccountMeta{PublicKey: sourceSOL, IsWritable: true},
		&solana.AccountMeta{PublicKey: sourceOLAS, IsWritable: true},
		&solana.AccountMeta{PublicKey: newOwner, IsWritable: true},
		&solana.AccountMeta{PublicKey: solana.TokenProgramID},
		&solana.AccountMeta{PublicKey: solana.SystemProgramID},
	)
	return solana.NewInstruction(c.programID, accounts, instructionData("transfer_token_accounts", env.Digest)), nil
}

// SetUpgradeAuthorityInstruction builds the set_program_upgrade_authority
// instruction.
func (c *SolanaClient) SetUpgradeAuthorityInstruction(env message.Envelope, program, newAuthority solana.PublicKey) (*solana.GenericInstruction, error) {
	programData, err := deriveProgramDataAddress(program)
	if err != nil {
		return nil, err
	}
	accounts, err := c.messageAccounts(env, false)
	if err != nil {
		return nil, err
	}
	accounts = append(accounts,
		&solana.AccountMeta{PublicKey: program, IsWritable: true},
		&solana.AccountMeta{PublicKey: programData, IsWritable: true},
		&solana.AccountMeta{PublicKey: newAuthority, IsWritable: true},
		&solana.AccountMeta{PublicKey: solana.BPFLoaderUpgradeableProgramID},
		&solana.AccountMeta{PublicKey: solana.SystemProgramID},
	)
	return solana.NewInstruction(c.programID, accounts, instructionData("set_program_upgrade_authority", env.Digest)), nil
}

// UpgradeInstruction builds the upgrade_program instruction.
func (c *SolanaClient) UpgradeInstruction(env message.Envelope, program, buffer, spill solana.PublicKey) (*solana.GenericInstruction, error) {
	programData, err := deriveProgramDataAddress(program)
	if err != nil {
		return nil, err
	}
	accounts, err := c.messageAccounts(env, false)
	if err != nil {
		return nil, err
	}
	accounts = append(accounts,
		&solana.AccountMeta{PublicKey: program, IsWritable: true},
		&solana.AccountMeta{PublicKey: programData, IsWritable: true},
		&solana.AccountMeta{PublicKey: buffer, IsWritable: true},
		&solana.AccountMeta{PublicKey: spill, IsWritable: true},
		&solana.AccountMeta{PublicKey: solana.BPFLoaderUpgradeableProgramID},
		&solana.AccountMeta{PublicKey: solana.SysVarRentPubkey},
		&solana.AccountMeta{PublicKey: solana.SysVarClockPubkey},
		&solana.AccountMeta{PublicKey: solana.SystemProgramID},
	)
	return solana.NewInstruction(c.programID, accounts, instructionData("upgrade_program", env.Digest)), nil
}

// postedVAAAddress derives the Wormhole posted-VAA account for a body digest.
func (c *SolanaClient) postedVAAAddress(digest [32]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedPostedVAA, digest[:]}, c.wormholeProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive posted VAA address: %w", err)
	}
	return addr, nil
}

// receivedAddress derives the governor program's replay record account.
func (c *SolanaClient) receivedAddress(chain uint16, sequence uint64) (solana.PublicKey, error) {
	chainBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(chainBytes, chain)
	sequenceBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(sequenceBytes, sequence)

	addr, _, err := solana.FindProgramAddress([][]byte{seedReceived, chainBytes, sequenceBytes}, c.programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive received address: %w", err)
	}
	return addr, nil
}

func deriveProgramDataAddress(program solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{program[:]}, solana.BPFLoaderUpgradeableProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive program data address: %w", err)
	}
	return addr, nil
}

// submitGovernorInstruction checks the VAA is posted on chain, then signs
// with the payer and sends. The config PDA is never a transaction signer.
func (c *SolanaClient) submitGovernorInstruction(ctx context.Context, env message.Envelope, ix solana.Instruction) (string, error) {
	posted, err := c.postedVAAAddress(env.Digest)
	if err != nil {
		return "", err
	}
	info, err := c.client.GetAccountInfo(ctx, posted)
	if err != nil {
		return "", fmt.Errorf("check posted VAA %s: %w", posted, err)
	}
	if info == nil || info.Value == nil {
		return "", fmt.Errorf("VAA not yet posted to Wormhole at %s", posted)
	}

	recent, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		recent.Value.Blockhash,
		solana.TransactionPayer(c.payer.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("create transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.payer.PublicKey()) {
			return &c.payer
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return sig.String(), nil
}
