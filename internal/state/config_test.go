package state

import (
	"errors"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
)

var testProgramID = solana.MustPublicKeyFromBase58("DWDGo2UkBUFZ3VitBfWRBMvRnHr7E2DSh57NK27xMYaB")

func emitter(b byte) [32]byte {
	var e [32]byte
	for i := range e {
		e[i] = b
	}
	return e
}

func testAuthority(t *testing.T) TreasuryAuthority {
	t.Helper()
	a, err := DeriveTreasuryAuthority(testProgramID)
	if err != nil {
		t.Fatalf("derive authority: %v", err)
	}
	return a
}

func TestNewConfigValidation(t *testing.T) {
	auth := testAuthority(t)

	cases := []struct {
		name    string
		chain   uint16
		emitter [32]byte
		wantErr bool
	}{
		{"valid", 2, emitter(0xAA), false},
		{"zero chain", 0, emitter(0xAA), true},
		{"local chain", ChainIDSolana, emitter(0xAA), true},
		{"zero emitter", 2, [32]byte{}, true},
	}

	for _, tc := range cases {
		_, err := NewConfig(tc.chain, tc.emitter, auth, DefaultMintSOL, DefaultMintOLAS)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidForeignEmitter) {
				t.Errorf("%s: got %v, want ErrInvalidForeignEmitter", tc.name, err)
			}
		} else if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestVerifyEmitter(t *testing.T) {
	cfg, err := NewConfig(2, emitter(0xAA), testAuthority(t), DefaultMintSOL, DefaultMintOLAS)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}

	if !cfg.VerifyEmitter(emitter(0xAA)) {
		t.Error("registered emitter rejected")
	}
	if cfg.VerifyEmitter(emitter(0xBB)) {
		t.Error("unregistered emitter accepted")
	}
}

func TestAddTransferred(t *testing.T) {
	cfg, err := NewConfig(2, emitter(0xAA), testAuthority(t), DefaultMintSOL, DefaultMintOLAS)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}

	if err := cfg.AddTransferred(DefaultMintSOL, 500); err != nil {
		t.Fatalf("add SOL: %v", err)
	}
	if err := cfg.AddTransferred(DefaultMintOLAS, 700); err != nil {
		t.Fatalf("add OLAS: %v", err)
	}
	if cfg.TotalSOLTransferred != 500 || cfg.TotalOLASTransferred != 700 {
		t.Errorf("totals = %d/%d, want 500/700", cfg.TotalSOLTransferred, cfg.TotalOLASTransferred)
	}

	if err := cfg.AddTransferred(solana.PublicKey{}, 1); err == nil {
		t.Error("ungoverned mint accepted")
	}
}

func TestAddTransferredOverflow(t *testing.T) {
	cfg, err := NewConfig(2, emitter(0xAA), testAuthority(t), DefaultMintSOL, DefaultMintOLAS)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	cfg.TotalSOLTransferred = math.MaxUint64 - 10

	if err := cfg.CheckTransferred(DefaultMintSOL, 11); !errors.Is(err, ErrOverflow) {
		t.Errorf("check: got %v, want ErrOverflow", err)
	}
	if err := cfg.AddTransferred(DefaultMintSOL, 11); !errors.Is(err, ErrOverflow) {
		t.Errorf("add: got %v, want ErrOverflow", err)
	}
	if cfg.TotalSOLTransferred != math.MaxUint64-10 {
		t.Error("total mutated on overflow")
	}

	// Exactly filling the range is still legal.
	if err := cfg.AddTransferred(DefaultMintSOL, 10); err != nil {
		t.Errorf("add to max: %v", err)
	}
	if cfg.TotalSOLTransferred != math.MaxUint64 {
		t.Error("total not saturated to max")
	}
}

func TestTreasuryAuthoritySeeds(t *testing.T) {
	auth := testAuthority(t)

	seeds := auth.Seeds()
	if len(seeds) != 2 || string(seeds[0]) != "config" || len(seeds[1]) != 1 || seeds[1][0] != auth.Bump {
		t.Errorf("unexpected seed material: %v", seeds)
	}

	// The derivation must reproduce the same address from the seeds.
	addr, err := solana.CreateProgramAddress(seeds, testProgramID)
	if err != nil {
		t.Fatalf("create program address: %v", err)
	}
	if !addr.Equals(auth.Address) {
		t.Errorf("seeds derive %s, want %s", addr, auth.Address)
	}
}
