// Package storage is the durable persistence layer: a batched MySQL
// writer (via gorm, the teacher's exact ORM and driver) fronted by a
// Redis cache of already-recorded contract addresses, grounded on the teacher's
// storage.MySQL/storage.Redis singletons and on
// original_source/database.py's contracts/monitoring_state schema.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/chainwatch/contract-monitor/internal/config"
	"github.com/chainwatch/contract-monitor/internal/errs"
	"github.com/chainwatch/contract-monitor/internal/logging"
	"github.com/chainwatch/contract-monitor/internal/models"
)

// contractRecord is the gorm model backing the contracts table, mapped
// from models.ContractRow at the storage boundary.
type contractRecord struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	ContractAddress string `gorm:"size:42;not null;uniqueIndex:idx_contract_network"`
	Network         string `gorm:"size:32;not null;uniqueIndex:idx_contract_network;index"`
	DeployerAddress string `gorm:"size:42;not null;index:idx_deployer"`
	EntityName      *string `gorm:"size:255;index:idx_entity"`
	EntityID        *string `gorm:"size:255"`
	BlockNumber     uint64  `gorm:"not null"`
	TransactionHash string  `gorm:"size:80;not null"`
	ContractType    string  `gorm:"size:32;index:idx_contract_type"`
	ContractInfo    string  `gorm:"type:text"`
	FactoryAddress  *string `gorm:"size:42"`
	DeploymentType  string  `gorm:"size:16"`
	Timestamp       time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (contractRecord) TableName() string { return "contracts" }

func fromContractRow(r models.ContractRow) contractRecord {
	return contractRecord{
		ContractAddress: r.ContractAddress,
		Network:         r.Chain,
		DeployerAddress: r.DeployerAddress,
		EntityName:      r.EntityName,
		EntityID:        r.EntityID,
		BlockNumber:     r.BlockNumber,
		TransactionHash: r.TransactionHash,
		ContractType:    string(r.ContractType),
		ContractInfo:    r.ContractInfo,
		FactoryAddress:  r.FactoryAddress,
		DeploymentType:  string(r.DeploymentType),
		Timestamp:       r.Timestamp,
	}
}

// cursorRecord is the gorm model backing the monitoring_state table.
type cursorRecord struct {
	Network            string `gorm:"primaryKey;size:32"`
	LastProcessedBlock uint64 `gorm:"not null"`
	UpdatedAt          time.Time
}

func (cursorRecord) TableName() string { return "monitoring_state" }

const (
	retryBase  = time.Second
	retryCap   = 30 * time.Second
	maxRetries = 5
)

// Store is the batched, retrying persistence layer shared by every chain
// worker. One Store serves the whole process; workers enqueue rows and
// advance cursors concurrently.
type Store struct {
	cfg   config.Config
	db    *gorm.DB
	cache *redis.Client

	mu      sync.Mutex
	pending []models.ContractRow
	cursors map[string]uint64 // last-write-wins, flushed alongside rows

	flushSignal chan struct{}
	closeOnce   sync.Once
	closed      chan struct{}
	wg          sync.WaitGroup
}

// Open establishes the MySQL and Redis connections, migrates the
// schema, and starts the background flush loop.
func Open(cfg config.Config) (*Store, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errs.NewFatalConfigError("open_mysql", err)
	}
	if err := db.AutoMigrate(&contractRecord{}, &cursorRecord{}); err != nil {
		return nil, errs.NewFatalConfigError("migrate_mysql", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.NewFatalConfigError("mysql_pool", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	cache := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		PoolTimeout:  30 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := cache.Ping(context.Background()).Err(); err != nil {
		return nil, errs.NewFatalConfigError("open_redis", err)
	}

	s := &Store{
		cfg:         cfg,
		db:          db,
		cache:       cache,
		cursors:     make(map[string]uint64),
		flushSignal: make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s, nil
}

// Enqueue adds row to the pending batch, cached optimistically so a
// concurrent IsKnown check during the same flush window already sees it.
func (s *Store) Enqueue(row models.ContractRow) {
	s.mu.Lock()
	s.pending = append(s.pending, row)
	shouldFlush := len(s.pending) >= s.cfg.WriteBatchSize
	s.mu.Unlock()

	s.cacheKnown(row.Chain, row.ContractAddress)
	logging.ForChain(row.Chain).Info("queued contract", "address", row.ContractAddress, "type", string(row.ContractType))

	if shouldFlush {
		select {
		case s.flushSignal <- struct{}{}:
		default:
		}
	}
}

// AdvanceCursor records the new last-processed-block for chain. Multiple
// calls before the next flush are last-write-wins.
func (s *Store) AdvanceCursor(chain string, block uint64) {
	s.mu.Lock()
	s.cursors[chain] = block
	s.mu.Unlock()
}

// LoadCursor returns the last persisted block for chain, or 0 if none.
func (s *Store) LoadCursor(ctx context.Context, chain string) (uint64, error) {
	var rec cursorRecord
	err := s.db.WithContext(ctx).Where("network = ?", chain).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.NewPersistenceError("load_cursor", err)
	}
	return rec.LastProcessedBlock, nil
}

// IsKnown reports whether a contract address has already been recorded
// for chain, checking the Redis cache before falling back to MySQL.
func (s *Store) IsKnown(ctx context.Context, chain, address string) (bool, error) {
	key := knownKey(chain, address)
	exists, err := s.cache.Exists(ctx, key).Result()
	if err == nil && exists > 0 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&contractRecord{}).
		Where("network = ? AND contract_address = ?", chain, address).
		Count(&count).Error; err != nil {
		return false, errs.NewPersistenceError("is_known", err)
	}
	if count > 0 {
		s.cacheKnown(chain, address)
	}
	return count > 0, nil
}

func (s *Store) cacheKnown(chain, address string) {
	s.cache.Set(context.Background(), knownKey(chain, address), 1, 24*time.Hour)
}

func knownKey(chain, address string) string {
	return fmt.Sprintf("contract:%s:%s", chain, models.NormalizeAddress(address))
}

func (s *Store) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.WriteBatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(context.Background())
		case <-s.flushSignal:
			s.flush(context.Background())
		}
	}
}

// flush writes the pending batch and cursor updates, retrying with
// exponential backoff before escalating to a PersistenceError. Failures
// are logged and the batch dropped; callers that need to observe the
// outcome (row count, error) should use Flush instead.
func (s *Store) flush(ctx context.Context) {
	if _, err := s.Flush(ctx); err != nil {
		logging.Logger().Error("persistence batch failed after retries, dropping batch", "error", err)
	}
}

// Flush synchronously drains the pending batch and cursor updates,
// writing them with retry, and returns the number of rows persisted.
// Spec: "flush() -> count ... returns number of rows persisted".
func (s *Store) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	rows := s.pending
	s.pending = nil
	cursors := s.cursors
	s.cursors = make(map[string]uint64)
	s.mu.Unlock()

	if len(rows) == 0 && len(cursors) == 0 {
		return 0, nil
	}

	if err := s.writeWithRetry(ctx, rows, cursors); err != nil {
		return 0, err
	}
	logging.Logger().Info("batch write completed", "rows", len(rows), "cursors", len(cursors))
	return len(rows), nil
}

func (s *Store) writeWithRetry(ctx context.Context, rows []models.ContractRow, cursors map[string]uint64) error {
	var lastErr error
	delay := retryBase
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > retryCap {
				delay = retryCap
			}
		}
		if err := s.writeBatch(ctx, rows, cursors); err != nil {
			lastErr = err
			logging.Logger().Warn("persistence batch attempt failed", "attempt", attempt + 1, "error", err)
			continue
		}
		return nil
	}
	return errs.NewPersistenceError("flush", lastErr)
}

func (s *Store) writeBatch(ctx context.Context, rows []models.ContractRow, cursors map[string]uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			records := make([]contractRecord, len(rows))
			for i, r := range rows {
				records[i] = fromContractRow(r)
			}
			// Idempotent upsert on (contract_address, network): a
			// re-observed deployment is a no-op, never an error.
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "contract_address"}, {Name: "network"}},
				DoNothing: true,
			}).Create(&records).Error; err != nil {
				return err
			}
		}
		for chain, block := range cursors {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "network"}},
				DoUpdates: clause.AssignmentColumns([]string{"last_processed_block", "updated_at"}),
			}).Create(&cursorRecord{Network: chain, LastProcessedBlock: block, UpdatedAt: time.Now().UTC()}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Close flushes any pending batch and releases the underlying
// connections. Safe to call once; subsequent calls are no-ops.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.wg.Wait()
		if sqlDB, dbErr := s.db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		err = s.cache.Close()
	})
	return err
}
