// Package message implements the governance payload wire format.
//
// Every governance message carried inside a VAA payload is one of five
// fixed-layout variants, tagged by a single discriminant byte. All integers
// are little-endian and all account identifiers are raw 32-byte Solana
// public keys. Decoding is strict: an unknown tag, a short buffer or
// trailing bytes all fail, never a partial parse.
package message

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Payload discriminants.
const (
	PayloadTransfer              uint8 = 0
	PayloadTransferAll           uint8 = 1
	PayloadTransferTokenAccounts uint8 = 2
	PayloadSetUpgradeAuthority   uint8 = 3
	PayloadUpgradeProgram        uint8 = 4
)

// Encoded sizes, discriminant byte included.
const (
	transferLen              = 1 + 32 + 32 + 8
	transferAllLen           = 1 + 4*32
	transferTokenAccountsLen = 1 + 3*32
	setUpgradeAuthorityLen   = 1 + 2*32
	upgradeProgramLen        = 1 + 3*32
)

// Payload is one decoded governance message body.
type Payload interface {
	// ID returns the payload discriminant.
	ID() uint8
	// Encode appends the wire encoding, discriminant first.
	Encode() []byte
}

// Transfer moves a token amount from a treasury-owned account.
type Transfer struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Amount      uint64
}

// TransferAll sweeps the full SOL and OLAS balances.
type TransferAll struct {
	SourceSOL       solana.PublicKey
	SourceOLAS      solana.PublicKey
	DestinationSOL  solana.PublicKey
	DestinationOLAS solana.PublicKey
}

// TransferTokenAccounts reassigns ownership of the SOL and OLAS token
// accounts to a new owner.
type TransferTokenAccounts struct {
	SourceSOL   solana.PublicKey
	SourceOLAS  solana.PublicKey
	Destination solana.PublicKey
}

// SetUpgradeAuthority reassigns a governed program's upgrade authority.
type SetUpgradeAuthority struct {
	Program      solana.PublicKey
	NewAuthority solana.PublicKey
}

// UpgradeProgram redeploys a governed program from a staged buffer, with
// excess rent refunded to the spill account.
type UpgradeProgram struct {
	Program solana.PublicKey
	Buffer  solana.PublicKey
	Spill   solana.PublicKey
}

func (Transfer) ID() uint8              { return PayloadTransfer }
func (TransferAll) ID() uint8           { return PayloadTransferAll }
func (TransferTokenAccounts) ID() uint8 { return PayloadTransferTokenAccounts }
func (SetUpgradeAuthority) ID() uint8   { return PayloadSetUpgradeAuthority }
func (UpgradeProgram) ID() uint8        { return PayloadUpgradeProgram }

func (m Transfer) Encode() []byte {
	buf := make([]byte, 0, transferLen)
	buf = append(buf, PayloadTransfer)
	buf = append(buf, m.Source[:]...)
	buf = append(buf, m.Destination[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, m.Amount)
	return buf
}

func (m TransferAll) Encode() []byte {
	buf := make([]byte, 0, transferAllLen)
	buf = append(buf, PayloadTransferAll)
	buf = append(buf, m.SourceSOL[:]...)
	buf = append(buf, m.SourceOLAS[:]...)
	buf = append(buf, m.DestinationSOL[:]...)
	buf = append(buf, m.DestinationOLAS[:]...)
	return buf
}

func (m TransferTokenAccounts) Encode() []byte {
	buf := make([]byte, 0, transferTokenAccountsLen)
	buf = append(buf, PayloadTransferTokenAccounts)
	buf = append(buf, m.SourceSOL[:]...)
	buf = append(buf, m.SourceOLAS[:]...)
	buf = append(buf, m.Destination[:]...)
	return buf
}

func (m SetUpgradeAuthority) Encode() []byte {
	buf := make([]byte, 0, setUpgradeAuthorityLen)
	buf = append(buf, PayloadSetUpgradeAuthority)
	buf = append(buf, m.Program[:]...)
	buf = append(buf, m.NewAuthority[:]...)
	return buf
}

func (m UpgradeProgram) Encode() []byte {
	buf := make([]byte, 0, upgradeProgramLen)
	buf = append(buf, PayloadUpgradeProgram)
	buf = append(buf, m.Program[:]...)
	buf = append(buf, m.Buffer[:]...)
	buf = append(buf, m.Spill[:]...)
	return buf
}

// Decode parses a governance payload. The buffer must contain exactly one
// encoded message: short and over-long buffers are rejected.
func Decode(data []byte) (Payload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	r := reader{buf: data[1:]}

	var (
		p    Payload
		want int
	)
	switch data[0] {
	case PayloadTransfer:
		p = Transfer{
			Source:      r.key(),
			Destination: r.key(),
			Amount:      r.uint64(),
		}
		want = transferLen

	case PayloadTransferAll:
		p = TransferAll{
			SourceSOL:       r.key(),
			SourceOLAS:      r.key(),
			DestinationSOL:  r.key(),
			DestinationOLAS: r.key(),
		}
		want = transferAllLen

	case PayloadTransferTokenAccounts:
		p = TransferTokenAccounts{
			SourceSOL:   r.key(),
			SourceOLAS:  r.key(),
			Destination: r.key(),
		}
		want = transferTokenAccountsLen

	case PayloadSetUpgradeAuthority:
		p = SetUpgradeAuthority{
			Program:      r.key(),
			NewAuthority: r.key(),
		}
		want = setUpgradeAuthorityLen

	case PayloadUpgradeProgram:
		p = UpgradeProgram{
			Program: r.key(),
			Buffer:  r.key(),
			Spill:   r.key(),
		}
		want = upgradeProgramLen

	default:
		return nil, fmt.Errorf("unknown payload ID %d", data[0])
	}

	if err := r.finish(want, len(data)); err != nil {
		return nil, err
	}
	return p, nil
}

// reader consumes fixed-size fields and remembers whether it ever ran short.
// Error checking is deferred to finish so the variant decoders above stay
// declarative.
type reader struct {
	buf   []byte
	short bool
}

func (r *reader) key() (k solana.PublicKey) {
	if len(r.buf) < 32 {
		r.short = true
		return
	}
	copy(k[:], r.buf[:32])
	r.buf = r.buf[32:]
	return
}

func (r *reader) uint64() uint64 {
	if len(r.buf) < 8 {
		r.short = true
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[:8])
	r.buf = r.buf[8:]
	return v
}

func (r *reader) finish(want, got int) error {
	if r.short || got < want {
		return fmt.Errorf("payload too short: %d bytes, want %d", got, want)
	}
	if len(r.buf) != 0 {
		return fmt.Errorf("payload has %d trailing bytes", len(r.buf))
	}
	return nil
}
