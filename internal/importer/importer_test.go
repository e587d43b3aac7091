package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progeodata/leadflow/internal/db"
	"github.com/progeodata/leadflow/internal/resilience"
)

func testTarget() Target {
	return Target{
		Table:   "leads_import",
		Columns: []string{"id", "name"},
		Rules:   map[string]string{"name": "required"},
	}
}

func makeRecords(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{"id": i, "name": fmt.Sprintf("biz %d", i)}
	}
	return out
}

func testConfig() Config {
	retry := RetryConfig(3, time.Millisecond)
	retry.Sleep = func(context.Context, time.Duration) error { return nil }
	return Config{Retry: retry}
}

func TestImportBatch_RetriesTransientChunkFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "leads_import"`).WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "leads_import"`).WillReturnResult(pgxmock.NewResult("INSERT", 10000))
	mock.ExpectCommit()

	store := NewMemoryCheckpointStore()
	im := New(mock, store, testConfig())
	res, err := im.ImportBatch(context.Background(), makeRecords(10000), 10000, Options{JobID: "job-c", Target: testTarget()})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, int64(10000), res.Imported)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 1, res.ChunksCommitted)
	assert.Equal(t, 1, res.Retries)
	assert.Empty(t, res.Errors)

	cp, err := store.Load(context.Background(), "job-c")
	require.NoError(t, err)
	assert.Equal(t, 0, cp.LastCommittedChunk)
	assert.Equal(t, int64(10000), cp.Imported)
	assert.Equal(t, map[int]int{0: 1}, cp.ChunkRetries)
	assert.Equal(t, StatusCompleted, cp.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportBatch_ResumeImportsEachRecordOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewMemoryCheckpointStore()
	im := New(mock, store, testConfig())
	records := makeRecords(5)
	opts := Options{JobID: "job-resume", Target: testTarget()}

	// First run: chunk 0 commits, chunk 1 hits a constraint violation.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "leads_import"`).WithArgs(0, "biz 0", 1, "biz 1").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "leads_import"`).WithArgs(2, "biz 2", 3, "biz 3").
		WillReturnError(&pgconn.PgError{Code: "23502", Message: "null value in column"})
	mock.ExpectRollback()

	res, err := im.ImportBatch(context.Background(), records, 2, opts)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, int64(2), res.Imported)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "chunk 1", res.Errors[0].Unit)
	assert.Equal(t, resilience.ErrorTypePermanent, res.Errors[0].ErrorType)
	assert.Equal(t, 1, res.Errors[0].Attempts, "permanent errors are not retried")

	cp, err := store.Load(context.Background(), "job-resume")
	require.NoError(t, err)
	assert.Equal(t, 0, cp.LastCommittedChunk)
	assert.Equal(t, StatusFailed, cp.Status)
	assert.Contains(t, cp.Error, "23502")

	// Second run resumes at chunk 1.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "leads_import"`).WithArgs(2, "biz 2", 3, "biz 3").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "leads_import"`).WithArgs(4, "biz 4").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err = im.ImportBatch(context.Background(), records, 2, opts)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.ResumedFrom)
	assert.Equal(t, 2, res.ChunksCommitted)
	assert.Equal(t, int64(5), res.Imported)

	cp, err = store.Load(context.Background(), "job-resume")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.LastCommittedChunk)
	assert.Empty(t, cp.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// monotonicStore records every saved LastCommittedChunk.
type monotonicStore struct {
	*MemoryCheckpointStore
	saved []int
}

func (s *monotonicStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.saved = append(s.saved, cp.LastCommittedChunk)
	return s.MemoryCheckpointStore.Save(ctx, cp)
}

func TestImportBatch_CheckpointAdvancesPerChunk(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for range 4 {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "leads_import"`).WillReturnResult(pgxmock.NewResult("INSERT", 3))
		mock.ExpectCommit()
	}

	store := &monotonicStore{MemoryCheckpointStore: NewMemoryCheckpointStore()}
	res, err := New(mock, store, testConfig()).ImportBatch(context.Background(), makeRecords(12), 3, Options{JobID: "job-p6", Target: testTarget()})
	require.NoError(t, err)
	assert.Equal(t, 4, res.ChunksCommitted)

	// running, one save per commit, completed
	assert.Equal(t, []int{-1, 0, 1, 2, 3, 3}, store.saved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// flakySaveStore fails the save numbered failAt (0-based) failures times.
type flakySaveStore struct {
	*MemoryCheckpointStore
	failAt   int
	failures int
	saves    int
}

func (s *flakySaveStore) Save(ctx context.Context, cp *Checkpoint) error {
	n := s.saves
	s.saves++
	if n >= s.failAt && n < s.failAt+s.failures {
		return eris.New("checkpoint file: resource temporarily unavailable")
	}
	return s.MemoryCheckpointStore.Save(ctx, cp)
}

func TestImportBatch_RetriesCheckpointSaveAfterCommit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for range 2 {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "leads_import"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
		mock.ExpectCommit()
	}

	// save 0 marks the job running, save 1 follows chunk 0
	store := &flakySaveStore{MemoryCheckpointStore: NewMemoryCheckpointStore(), failAt: 1, failures: 2}
	res, err := New(mock, store, testConfig()).ImportBatch(context.Background(), makeRecords(4), 2, Options{JobID: "job-save", Target: testTarget()})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.ChunksCommitted)

	cp, err := store.Load(context.Background(), "job-save")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.LastCommittedChunk)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportBatch_CheckpointSaveExhaustionHalts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "leads_import"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	store := &flakySaveStore{MemoryCheckpointStore: NewMemoryCheckpointStore(), failAt: 1, failures: 3}
	res, err := New(mock, store, testConfig()).ImportBatch(context.Background(), makeRecords(4), 2, Options{JobID: "job-lost", Target: testTarget()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "importer: checkpoint chunk 0")
	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, resilience.ErrorTypePermanent, res.Errors[0].ErrorType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportBatch_TransientExhaustionHalts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for range 4 {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "leads_import"`).WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})
		mock.ExpectRollback()
	}

	store := NewMemoryCheckpointStore()
	res, err := New(mock, store, testConfig()).ImportBatch(context.Background(), makeRecords(4), 2, Options{JobID: "job-down", Target: testTarget()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 0 failed after 4 attempt(s)")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.Retries)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, resilience.ErrorTypeTransient, res.Errors[0].ErrorType)

	cp, err := store.Load(context.Background(), "job-down")
	require.NoError(t, err)
	assert.Equal(t, -1, cp.LastCommittedChunk)
	assert.Equal(t, map[int]int{0: 3}, cp.ChunkRetries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportBatch_DryRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	records := makeRecords(5)
	records[3]["name"] = ""

	store := NewMemoryCheckpointStore()
	cp := NewCheckpoint("job-dry", "leads_import", 5, 2)
	cp.LastCommittedChunk = 0
	cp.Imported = 2
	require.NoError(t, store.Save(context.Background(), cp))

	res, err := New(mock, store, testConfig()).ImportBatch(context.Background(), records, 2, Options{JobID: "job-dry", Target: testTarget(), DryRun: true})
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, 4, res.ValidRecords)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, 3, res.Invalid[0].Index)
	assert.Equal(t, "name", res.Invalid[0].Column)
	assert.Equal(t, []ChunkPlan{{0, 0, 2, 2}, {1, 2, 4, 2}}, res.Plan)
	assert.Equal(t, 1, res.ResumedFrom)
	assert.Equal(t, 2, res.WouldImport)
	assert.NoError(t, mock.ExpectationsWereMet(), "dry run never touches the database")

	after, err := store.Load(context.Background(), "job-dry")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, after.Status)
}

func TestImportBatch_InvalidRecordsRefused(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	records := makeRecords(3)
	records[1]["name"] = ""

	store := NewMemoryCheckpointStore()
	res, err := New(mock, store, testConfig()).ImportBatch(context.Background(), records, 10, Options{JobID: "job-bad", Target: testTarget()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRecords))
	assert.Equal(t, StatusFailed, res.Status)

	_, err = store.Load(context.Background(), "job-bad")
	assert.True(t, errors.Is(err, ErrNoCheckpoint))
}

func TestImportBatch_SkipInvalid(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	records := makeRecords(3)
	records[1]["name"] = ""

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "leads_import"`).WithArgs(0, "biz 0", 2, "biz 2").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	res, err := New(mock, NewMemoryCheckpointStore(), testConfig()).ImportBatch(context.Background(), records, 10,
		Options{JobID: "job-skip", Target: testTarget(), SkipInvalid: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Imported)
	assert.Len(t, res.Invalid, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportBatch_CheckpointMismatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewMemoryCheckpointStore()
	require.NoError(t, store.Save(context.Background(), NewCheckpoint("job-x", "leads_import", 5, 2)))

	_, err = New(mock, store, testConfig()).ImportBatch(context.Background(), makeRecords(5), 3, Options{JobID: "job-x", Target: testTarget()})
	assert.True(t, errors.Is(err, ErrCheckpointMismatch))
}

func TestImportBatch_CompletedJobIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewMemoryCheckpointStore()
	cp := NewCheckpoint("job-done", "leads_import", 4, 2)
	cp.LastCommittedChunk, cp.Imported, cp.Status = 1, 4, StatusCompleted
	require.NoError(t, store.Save(context.Background(), cp))

	res, err := New(mock, store, testConfig()).ImportBatch(context.Background(), makeRecords(4), 2, Options{JobID: "job-done", Target: testTarget()})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 0, res.ChunksCommitted)
	assert.Equal(t, int64(4), res.Imported)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportBatch_CheckpointInChunkTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT checkpoint FROM import_checkpoints`).WithArgs("job-pg").
		WillReturnRows(pgxmock.NewRows([]string{"checkpoint"}))
	mock.ExpectExec(`INSERT INTO import_checkpoints`).WithArgs("job-pg", pgxmock.AnyArg(), -1, int64(0), "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "leads_import"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`INSERT INTO import_checkpoints`).WithArgs("job-pg", pgxmock.AnyArg(), 0, int64(2), "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO import_checkpoints`).WithArgs("job-pg", pgxmock.AnyArg(), 0, int64(2), "completed").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	res, err := New(mock, NewPostgresCheckpointStore(mock), testConfig()).ImportBatch(context.Background(), makeRecords(2), 10,
		Options{JobID: "job-pg", Target: testTarget()})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportBatch_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	res, err := New(mock, NewMemoryCheckpointStore(), testConfig()).ImportBatch(context.Background(), nil, 0, Options{Target: testTarget()})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, DefaultChunkSize, res.ChunkSize)
	assert.NotEmpty(t, res.JobID)
	assert.Zero(t, res.Chunks)
}

func TestImportBatch_BadTarget(t *testing.T) {
	im := New(nil, NewMemoryCheckpointStore(), testConfig())
	_, err := im.ImportBatch(context.Background(), makeRecords(1), 1, Options{Target: Target{Table: "t"}})
	require.Error(t, err)

	_, err = im.ImportBatch(context.Background(), makeRecords(1), 1, Options{Target: Target{
		Table: "t", Columns: []string{"a"}, Rules: map[string]string{"b": "required"},
	}})
	assert.Error(t, err)
}

func TestPlanChunks(t *testing.T) {
	assert.Nil(t, PlanChunks(0, 10))
	assert.Equal(t, []ChunkPlan{{0, 0, 3, 3}}, PlanChunks(3, 10))
	plan := PlanChunks(25, 10)
	require.Len(t, plan, 3)
	assert.Equal(t, ChunkPlan{Index: 2, Start: 20, End: 25, Rows: 5}, plan[2])
}

func TestTarget_Mapping(t *testing.T) {
	target := Target{
		Table:   "raw_business_records",
		Columns: []string{"external_id", "name"},
		Mapping: map[string]string{"place_id": "external_id"},
	}
	rows := target.rows([]Record{{"place_id": "p1", "name": "Uñas Bella", "extra": 1}}, []int{0})
	assert.Equal(t, [][]any{{"p1", "Uñas Bella"}}, rows)
}

func TestRawRecordsTarget(t *testing.T) {
	target := RawRecordsTarget()
	require.NoError(t, target.Validate())

	valid, failures := target.check([]Record{
		{"source": "import", "external_id": "1", "name": "Joe's Plumbing"},
		{"source": "import", "external_id": "2", "name": "Bad Site", "website": "not a url"},
	})
	assert.Equal(t, []int{0}, valid)
	require.Len(t, failures, 1)
	assert.Equal(t, "website", failures[0].Column)
}

func TestRawRecordsTarget_MinimalRecordBindsNoNullIntoNotNullColumns(t *testing.T) {
	target := RawRecordsTarget()
	rows := target.rows([]Record{{"source": "import", "external_id": "1", "name": "Joe's Plumbing", "city": nil}}, []int{0})

	_, args, err := db.BuildInsert(target.insertConfig(), rows)
	require.NoError(t, err)
	require.Len(t, args, len(target.Columns))

	for i, col := range target.Columns {
		if col == "website" {
			assert.Nil(t, args[i], "website is nullable")
			continue
		}
		assert.NotNil(t, args[i], "column %s", col)
	}
	assert.Equal(t, "", args[4], "city")
}

func TestTarget_Defaults(t *testing.T) {
	target := Target{
		Table:    "leads_import",
		Columns:  []string{"id", "name", "tier"},
		Defaults: map[string]any{"tier": "unranked"},
	}
	require.NoError(t, target.Validate())

	rows := target.rows([]Record{{"id": 1, "name": "Acme"}, {"id": 2, "name": "Bolt", "tier": "gold"}}, []int{0, 1})
	assert.Equal(t, [][]any{{1, "Acme", "unranked"}, {2, "Bolt", "gold"}}, rows)

	target.Defaults = map[string]any{"missing": ""}
	assert.Error(t, target.Validate())
}
