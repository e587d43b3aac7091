package importer

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/db"
)

// Status is the state of an import job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNoCheckpoint is returned by a CheckpointStore when a job has none.
var ErrNoCheckpoint = eris.New("importer: no checkpoint")

// ErrCheckpointMismatch is returned when a job is resumed with a different
// record set or chunk size than it started with.
var ErrCheckpointMismatch = eris.New("importer: checkpoint does not match input")

// Checkpoint is the durable progress record of an import job. New fields
// must be additive so older checkpoints keep decoding.
type Checkpoint struct {
	JobID              string      `json:"job_id"`
	Table              string      `json:"table,omitempty"`
	TotalRecords       int         `json:"total_records"`
	ChunkSize          int         `json:"chunk_size"`
	LastCommittedChunk int         `json:"last_committed_chunk"`
	Imported           int64       `json:"imported"`
	ChunkRetries       map[int]int `json:"chunk_retries,omitempty"`
	Status             Status      `json:"status"`
	Error              string      `json:"error,omitempty"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// NewCheckpoint returns the checkpoint of a job that has committed nothing.
func NewCheckpoint(jobID, table string, total, chunkSize int) *Checkpoint {
	return &Checkpoint{
		JobID:              jobID,
		Table:              table,
		TotalRecords:       total,
		ChunkSize:          chunkSize,
		LastCommittedChunk: -1,
		Status:             StatusPending,
		UpdatedAt:          time.Now().UTC(),
	}
}

// NextChunk is the index the job resumes from.
func (c *Checkpoint) NextChunk() int {
	return c.LastCommittedChunk + 1
}

func (c *Checkpoint) clone() *Checkpoint {
	cp := *c
	cp.ChunkRetries = maps.Clone(c.ChunkRetries)
	return &cp
}

// advance returns the checkpoint after chunk index committed n rows.
func (c *Checkpoint) advance(index int, n int64, retries int) *Checkpoint {
	next := c.clone()
	next.LastCommittedChunk = index
	next.Imported += n
	next.setRetries(index, retries)
	next.UpdatedAt = time.Now().UTC()
	return next
}

func (c *Checkpoint) setRetries(index, retries int) {
	if retries <= 0 {
		return
	}
	if c.ChunkRetries == nil {
		c.ChunkRetries = map[int]int{}
	}
	c.ChunkRetries[index] = retries
}

func (c *Checkpoint) matches(total, chunkSize int) error {
	if c.TotalRecords != total || c.ChunkSize != chunkSize {
		return eris.Wrapf(ErrCheckpointMismatch,
			"importer: job %s has %d records in chunks of %d, got %d in chunks of %d",
			c.JobID, c.TotalRecords, c.ChunkSize, total, chunkSize)
	}
	return nil
}

// CheckpointStore persists checkpoints by job id.
type CheckpointStore interface {
	// Load returns ErrNoCheckpoint when the job has no checkpoint.
	Load(ctx context.Context, jobID string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
}

// TxCheckpointStore is a CheckpointStore that can write inside the chunk's
// own transaction, so a checkpoint and its chunk commit together.
type TxCheckpointStore interface {
	CheckpointStore
	SaveTx(ctx context.Context, ex db.Execer, cp *Checkpoint) error
}

// MemoryCheckpointStore keeps checkpoints in process memory.
type MemoryCheckpointStore struct {
	mu   sync.Mutex
	byID map[string]*Checkpoint
}

// NewMemoryCheckpointStore creates an empty MemoryCheckpointStore.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{byID: map[string]*Checkpoint{}}
}

func (s *MemoryCheckpointStore) Load(_ context.Context, jobID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.byID[jobID]
	if !ok {
		return nil, ErrNoCheckpoint
	}
	return cp.clone(), nil
}

func (s *MemoryCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cp.JobID] = cp.clone()
	return nil
}

// FileCheckpointStore writes one JSON file per job under a directory.
type FileCheckpointStore struct {
	dir string
}

// NewFileCheckpointStore creates the directory if needed.
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "importer: create checkpoint dir %s", dir)
	}
	return &FileCheckpointStore{dir: dir}, nil
}

func (s *FileCheckpointStore) path(jobID string) string {
	return filepath.Join(s.dir, filepath.Base(jobID)+".json")
}

func (s *FileCheckpointStore) Load(_ context.Context, jobID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, eris.Wrapf(err, "importer: read checkpoint %s", jobID)
	}
	return decodeCheckpoint(data)
}

// Save replaces the file atomically.
func (s *FileCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return eris.Wrap(err, "importer: encode checkpoint")
	}
	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*")
	if err != nil {
		return eris.Wrap(err, "importer: create checkpoint temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "importer: write checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "importer: sync checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "importer: close checkpoint")
	}
	if err := os.Rename(tmp.Name(), s.path(cp.JobID)); err != nil {
		return eris.Wrapf(err, "importer: replace checkpoint %s", cp.JobID)
	}
	return nil
}

func decodeCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, eris.Wrap(err, "importer: decode checkpoint")
	}
	return &cp, nil
}
