package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	boltdb "github.com/andrew-solarstorm/bolt-db"
	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/leverage-keeper/internal/domain"
	"github.com/hxuan190/leverage-keeper/internal/txn"
)

const (
	RunsBucket     = "runs"
	StrategyBucket = "strategy"

	DefaultDBPath = "./data/leverage-keeper.db"

	strategyKey = "current"
)

var ErrRunNotFound = errors.New("run not found")

// RunRecord is one keeper run as kept in the history.
type RunRecord struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Outcome is "success", "skipped" or "failed".
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`

	RateBeforeBps uint16                   `json:"rateBeforeBps"`
	Values        *domain.RebalanceValues  `json:"values,omitempty"`
	FlashLoan     *domain.FlashLoanDetails `json:"flashLoan,omitempty"`

	Statuses   []txn.TransactionStatus `json:"statuses"`
	Signatures []string                `json:"signatures,omitempty"`
}

// StoredStrategy is the schedule progress that outlives a restart.
type StoredStrategy struct {
	Settings  domain.RebalanceSettings `json:"settings"`
	DCA       *domain.DCASettings      `json:"dca,omitempty"`
	UpdatedAt time.Time                `json:"updatedAt"`
}

type Storage struct {
	db     *boltdb.BoltDatabase
	dbPath string
}

func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}

	db := boltdb.NewBoltDatabase(dbPath)
	if db == nil {
		return nil, fmt.Errorf("failed to open database at %s", dbPath)
	}

	log.Info().Str("path", dbPath).Msg("[KeeperStorage] opened database")

	return &Storage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Storage) SaveRun(run *RunRecord) error {
	data, err := sonic.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	return s.db.Set(RunsBucket, []byte(run.ID), data)
}

// SaveRunWithStrategy writes a finished run and the strategy it advanced in
// one batch.
func (s *Storage) SaveRunWithStrategy(run *RunRecord, strategy *StoredStrategy) error {
	runData, err := sonic.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	strategyData, err := sonic.Marshal(strategy)
	if err != nil {
		return fmt.Errorf("failed to marshal strategy: %w", err)
	}

	batch := s.db.NewBatch()
	ops := []*boltdb.WriteOperation{
		{Bucket: []byte(RunsBucket), Key: []byte(run.ID), Value: &runData, Op: boltdb.OpSet},
		{Bucket: []byte(StrategyBucket), Key: []byte(strategyKey), Value: &strategyData, Op: boltdb.OpSet},
	}
	for _, op := range ops {
		if err := batch.Add(op); err != nil {
			return fmt.Errorf("failed to add %s to batch: %w", op.Bucket, err)
		}
	}

	if err := batch.Execute(); err != nil {
		log.Error().Err(err).Str("run", run.ID).Msg("[KeeperStorage] FAILED to execute batch")
		return err
	}
	return nil
}

// ListRuns returns the most recent runs first, at most limit when positive.
func (s *Storage) ListRuns(limit int) ([]*RunRecord, error) {
	data, err := s.db.List(RunsBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*RunRecord, 0, len(data))
	for id, value := range data {
		var run RunRecord
		if err := sonic.Unmarshal(value, &run); err != nil {
			log.Error().Str("run", id).Err(err).Msg("[KeeperStorage] failed to unmarshal run, skipping")
			continue
		}
		runs = append(runs, &run)
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Storage) GetRun(id string) (*RunRecord, error) {
	data, err := s.db.List(RunsBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	value, ok := data[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	var run RunRecord
	if err := sonic.Unmarshal(value, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}
	return &run, nil
}

func (s *Storage) SaveStrategy(strategy *StoredStrategy) error {
	data, err := sonic.Marshal(strategy)
	if err != nil {
		return fmt.Errorf("failed to marshal strategy: %w", err)
	}
	return s.db.Set(StrategyBucket, []byte(strategyKey), data)
}

// LoadStrategy returns nil when no strategy was saved yet.
func (s *Storage) LoadStrategy() (*StoredStrategy, error) {
	data, err := s.db.List(StrategyBucket)
	if err != nil {
		log.Debug().Err(err).Msg("[KeeperStorage] no stored strategy")
		return nil, nil
	}
	value, ok := data[strategyKey]
	if !ok {
		return nil, nil
	}
	var strategy StoredStrategy
	if err := sonic.Unmarshal(value, &strategy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal strategy: %w", err)
	}
	return &strategy, nil
}
