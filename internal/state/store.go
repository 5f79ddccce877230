package state

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InMemoryDSN opens an ephemeral in-memory database, used by tests.
const InMemoryDSN = ":memory:"

var gormConfig = &gorm.Config{
	Logger:         logger.Default.LogMode(logger.Silent),
	TranslateError: true,
}

// configRow is the persisted form of Config. Singleton: id is always 1.
type configRow struct {
	ID                   uint   `gorm:"primaryKey"`
	Chain                uint16 `gorm:"not null"`
	ForeignEmitter       []byte `gorm:"type:blob;not null"`
	Bump                 uint8
	MintSOL              []byte `gorm:"type:blob;not null"`
	MintOLAS             []byte `gorm:"type:blob;not null"`
	TotalSOLTransferred  uint64
	TotalOLASTransferred uint64
	UpdatedAt            time.Time
}

func (configRow) TableName() string { return "config" }

// receivedRow is the persisted form of Received. The unique composite index
// on (chain, sequence) is the replay-protection mechanism: inserting a
// duplicate key fails at the constraint, there is no separate existence
// check to race against.
type receivedRow struct {
	ID          uint   `gorm:"primaryKey"`
	Chain       uint16 `gorm:"uniqueIndex:idx_chain_sequence;not null"`
	Sequence    uint64 `gorm:"uniqueIndex:idx_chain_sequence;not null"`
	Nonce       uint32
	MessageHash []byte `gorm:"type:blob;not null"`
	CreatedAt   time.Time
}

func (receivedRow) TableName() string { return "received" }

// Store persists the governor's config and received ledger in SQLite.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the file-backed store in the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create store directory")
	}
	dsn := filepath.Join(dir, "governor.db")
	if !strings.Contains(dsn, "?") {
		// WAL mode for concurrent readers during relay processing.
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return open(dsn)
}

// OpenInMemory opens a non-persistent store for tests.
func OpenInMemory() (*Store, error) {
	return open(InMemoryDSN)
}

func open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	if err := db.AutoMigrate(&configRow{}, &receivedRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get underlying sql.DB")
	}
	// SQLite behaves best on a single writer connection in WAL mode.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "get underlying sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "close database")
}

// SaveConfig writes the singleton config record, creating it if absent.
func (s *Store) SaveConfig(cfg *Config) error {
	row := configRow{
		ID:                   1,
		Chain:                cfg.Chain,
		ForeignEmitter:       append([]byte(nil), cfg.ForeignEmitter[:]...),
		Bump:                 cfg.Bump,
		MintSOL:              append([]byte(nil), cfg.MintSOL[:]...),
		MintOLAS:             append([]byte(nil), cfg.MintOLAS[:]...),
		TotalSOLTransferred:  cfg.TotalSOLTransferred,
		TotalOLASTransferred: cfg.TotalOLASTransferred,
	}
	err := s.db.Save(&row).Error
	return errors.Wrap(err, "save config")
}

// LoadConfig reads the singleton config record. Returns ErrNotInitialized
// when no record exists.
func (s *Store) LoadConfig() (*Config, error) {
	var row configRow
	if err := s.db.First(&row, 1).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, errors.Wrap(err, "load config")
	}

	cfg := &Config{
		Chain:                row.Chain,
		Bump:                 row.Bump,
		TotalSOLTransferred:  row.TotalSOLTransferred,
		TotalOLASTransferred: row.TotalOLASTransferred,
	}
	copy(cfg.ForeignEmitter[:], row.ForeignEmitter)
	cfg.MintSOL = solana.PublicKeyFromBytes(row.MintSOL)
	cfg.MintOLAS = solana.PublicKeyFromBytes(row.MintOLAS)
	return cfg, nil
}

// RecordIfAbsent inserts a received record, atomically claiming the
// (chain, sequence) key. A second insert for the same key returns
// ErrAlreadyProcessed and leaves the ledger unchanged.
func (s *Store) RecordIfAbsent(rec Received) error {
	row := receivedRow{
		Chain:       rec.Chain,
		Sequence:    rec.Sequence,
		Nonce:       rec.Nonce,
		MessageHash: append([]byte(nil), rec.MessageHash[:]...),
	}
	if err := s.db.Create(&row).Error; err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyProcessed
		}
		return errors.Wrap(err, "record received message")
	}
	return nil
}

// Received looks up a replay record by key. The boolean reports existence.
func (s *Store) Received(chain uint16, sequence uint64) (*Received, bool, error) {
	var row receivedRow
	err := s.db.Where("chain = ? AND sequence = ?", chain, sequence).First(&row).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "look up received message")
	}

	rec := &Received{
		Chain:    row.Chain,
		Sequence: row.Sequence,
		Nonce:    row.Nonce,
	}
	copy(rec.MessageHash[:], row.MessageHash)
	return rec, true, nil
}

// ReceivedCount returns the number of processed messages.
func (s *Store) ReceivedCount() (int64, error) {
	var n int64
	err := s.db.Model(&receivedRow{}).Count(&n).Error
	return n, errors.Wrap(err, "count received messages")
}
