package staging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/store"
)

const masterLogName = "movelog_mastercache.json"

// MoveLogEntry records one dataset's completed staging pass.
type MoveLogEntry struct {
	DatasetID   string `json:"dataset_id"`
	Destination string `json:"destination"`
	NumFiles    int    `json:"num_files"`
	Completed   string `json:"completed"`
}

// MoveLog tracks which dataset ids have been fully staged. A per-dataset
// movelog_<id>.json is written on completion and rolled up into the master
// cache; an id present in a valid log is never re-fetched unless forced.
// The staging fetcher is the move log's only writer.
type MoveLog struct {
	mu     sync.Mutex
	store  store.Store
	root   string
	logger *zap.Logger
	now    func() time.Time

	master map[string]MoveLogEntry
}

type MoveLogOption func(*MoveLog)

func MoveLogWithLogger(logger *zap.Logger) MoveLogOption {
	return func(m *MoveLog) {
		m.logger = logger
	}
}

func MoveLogWithClock(now func() time.Time) MoveLogOption {
	return func(m *MoveLog) {
		m.now = now
	}
}

func NewMoveLog(s store.Store, root string, opts ...MoveLogOption) *MoveLog {
	m := &MoveLog{
		store:  s,
		root:   root,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func perIDLogName(id string) string {
	return fmt.Sprintf("movelog_%s.json", id)
}

// Load reads the master cache. A missing cache is an empty log.
func (m *MoveLog) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.master = make(map[string]MoveLogEntry)
	uri := store.Join(m.root, masterLogName)

	var entries map[string]MoveLogEntry
	err := store.ReadJSON(ctx, m.store, uri, &entries)
	if store.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	m.master = entries
	m.logger.Info("move log loaded", zap.Int("datasets", len(entries)))
	return nil
}

// Contains reports whether id has a finalized move log.
func (m *MoveLog) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.master[id]
	return ok
}

// Finalize records id as fully staged: the per-dataset log is written
// first, then the master cache is rolled up. A crash between the two is
// repaired on the next Finalize of any id.
func (m *MoveLog) Finalize(ctx context.Context, id, destination string, numFiles int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := MoveLogEntry{
		DatasetID:   id,
		Destination: destination,
		NumFiles:    numFiles,
		Completed:   catalog.FormatTime(m.now()),
	}

	if err := store.WriteJSON(ctx, m.store, store.Join(m.root, perIDLogName(id)), entry); err != nil {
		return err
	}

	m.master[id] = entry
	if err := store.WriteJSON(ctx, m.store, store.Join(m.root, masterLogName), m.master); err != nil {
		return err
	}

	m.logger.Info("move log finalized",
		zap.String("dataset_id", id),
		zap.Int("num_files", numFiles),
	)
	return nil
}
