package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/srujansrutha/amri/internal/circuitbreaker"
	"github.com/srujansrutha/amri/internal/state"
)

func pausedCheckpoint(id string) *Checkpoint {
	st := state.New(id, "quantum computing", true)
	st.Merge(state.Partial{
		Source:        state.Ptr(state.SourceLive),
		SearchResults: []string{"Content: Q1\nSource: https://example.com"},
		RAGData:       []string{"Content: R1\nSource: paper.pdf"},
	})
	st.Status = state.StatusPaused
	st.PendingSteps = []state.Step{state.StepHumanReview}
	return &Checkpoint{ThreadID: id, State: st, PendingSteps: st.PendingSteps}
}

func assertSameCheckpoint(t *testing.T, want, got *Checkpoint) {
	t.Helper()
	assert.Equal(t, want.ThreadID, got.ThreadID)
	assert.Equal(t, want.PendingSteps, got.PendingSteps)
	assert.Equal(t, want.State.Status, got.State.Status)
	assert.Equal(t, want.State.Source, got.State.Source)
	assert.Equal(t, want.State.SearchResults, got.State.SearchResults)
	assert.Equal(t, want.State.RAGData, got.State.RAGData)
	assert.Equal(t, want.State.EnableHITL, got.State.EnableHITL)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	cp := pausedCheckpoint("t1")
	require.NoError(t, store.Put(ctx, cp))
	assert.Equal(t, int64(1), cp.Version)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assertSameCheckpoint(t, cp, got)

	// the stored copy is detached from the caller's pointer
	cp.State.SearchResults[0] = "mutated"
	again, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.State.SearchResults[0])

	require.NoError(t, store.Put(ctx, cp))
	assert.Equal(t, int64(2), cp.Version)
}

func TestMemoryStorePutIfVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cp := pausedCheckpoint("t1")
	require.NoError(t, store.Put(ctx, cp))

	running := pausedCheckpoint("t1")
	running.State.Status = state.StatusRunning
	require.NoError(t, store.PutIfVersion(ctx, running, 1))
	assert.Equal(t, int64(2), running.Version)

	stale := pausedCheckpoint("t1")
	assert.ErrorIs(t, store.PutIfVersion(ctx, stale, 1), ErrVersionConflict)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, got.State.Status, "a rejected write leaves the checkpoint alone")
	assert.Equal(t, int64(2), got.Version)
}

func TestMemoryStorePutIfVersionSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, pausedCheckpoint("t1")))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.PutIfVersion(ctx, pausedCheckpoint("t1"), 1) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	cp := pausedCheckpoint("t1")
	cp.ThreadID = "other"
	assert.Error(t, store.Put(context.Background(), cp))

	cp = pausedCheckpoint("t2")
	cp.PendingSteps = []state.Step{"publish"}
	assert.Error(t, store.Put(context.Background(), cp))
}

func TestMemoryStoreConcurrentThreads(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i)
			for j := 0; j < 5; j++ {
				assert.NoError(t, store.Put(ctx, pausedCheckpoint(id)))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, store.Len())
	cp, err := store.Get(ctx, "t7")
	require.NoError(t, err)
	assert.Equal(t, int64(5), cp.Version)
	assert.Equal(t, "t7", cp.State.ThreadID)
}

func TestCodecFormats(t *testing.T) {
	cases := []struct {
		format      Format
		compression Compression
	}{
		{FormatJSON, CompressionNone},
		{FormatJSON, CompressionZstd},
		{FormatMsgpack, CompressionNone},
		{FormatMsgpack, CompressionZstd},
	}
	reader := DefaultCodec()

	for _, tc := range cases {
		t.Run(string(tc.format)+"/"+string(tc.compression), func(t *testing.T) {
			codec, err := NewCodec(tc.format, tc.compression)
			require.NoError(t, err)

			cp := pausedCheckpoint("t1")
			b, err := codec.Encode(cp)
			require.NoError(t, err)

			// any codec can read what another wrote
			var got Checkpoint
			require.NoError(t, reader.Decode(b, &got))
			assertSameCheckpoint(t, cp, &got)
		})
	}
}

func TestCodecRejectsUnknown(t *testing.T) {
	_, err := NewCodec("xml", CompressionNone)
	assert.Error(t, err)
	_, err = NewCodec(FormatJSON, "lz4")
	assert.Error(t, err)

	assert.Error(t, DefaultCodec().Decode(nil, &Checkpoint{}))
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	codec, err := NewCodec(FormatMsgpack, CompressionZstd)
	require.NoError(t, err)
	store := NewRedisStore(circuitbreaker.NewRedisWrapper(client, "checkpoint-test", zap.NewNop()), codec, zap.NewNop())
	ctx := context.Background()

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	cp := pausedCheckpoint("t1")
	require.NoError(t, store.Put(ctx, cp))
	require.NoError(t, store.Put(ctx, cp))
	assert.Equal(t, int64(2), cp.Version)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assertSameCheckpoint(t, cp, got)
	assert.Equal(t, int64(2), got.Version)

	assert.True(t, mr.Exists("checkpoint:t1"))
	assert.Equal(t, time.Duration(0), mr.TTL("checkpoint:t1"), "checkpoints never expire")
}

func TestRedisStorePutIfVersion(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStore(circuitbreaker.NewRedisWrapper(client, "checkpoint-cas", zap.NewNop()), nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, pausedCheckpoint("t1")))

	running := pausedCheckpoint("t1")
	running.State.Status = state.StatusRunning
	require.NoError(t, store.PutIfVersion(ctx, running, 1))
	assert.Equal(t, int64(2), running.Version)

	assert.ErrorIs(t, store.PutIfVersion(ctx, pausedCheckpoint("t1"), 1), ErrVersionConflict)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, got.State.Status)
	assert.Equal(t, int64(2), got.Version)

	// a plain Put keeps counting from the conditional write
	require.NoError(t, store.Put(ctx, got))
	assert.Equal(t, int64(3), got.Version)
	v, err := mr.Get("checkpoint:t1:version")
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisStore(circuitbreaker.NewRedisWrapper(client, "checkpoint-down", zap.NewNop()), nil, nil)
	mr.Close()

	err = store.Put(context.Background(), pausedCheckpoint("t1"))
	assert.Error(t, err)
	_, err = store.Get(context.Background(), "t1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func newMockSQLStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	wrapper := circuitbreaker.NewDatabaseWrapper(sqlx.NewDb(db, "postgres"), zap.NewNop())
	return NewSQLStore(wrapper, nil, zap.NewNop()), mock
}

func TestSQLStorePut(t *testing.T) {
	store, mock := newMockSQLStore(t)
	cp := pausedCheckpoint("t1")

	mock.ExpectQuery(`INSERT INTO research_checkpoints`).
		WithArgs("t1", "paused", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))

	require.NoError(t, store.Put(context.Background(), cp))
	assert.Equal(t, int64(3), cp.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorePutIfVersion(t *testing.T) {
	store, mock := newMockSQLStore(t)

	mock.ExpectExec(`UPDATE research_checkpoints\s+SET status = \$1, version = version \+ 1, payload = \$2, updated_at = \$3\s+WHERE thread_id = \$4 AND version = \$5`).
		WithArgs("running", sqlmock.AnyArg(), sqlmock.AnyArg(), "t1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE research_checkpoints`).
		WithArgs("running", sqlmock.AnyArg(), sqlmock.AnyArg(), "t1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cp := pausedCheckpoint("t1")
	cp.State.Status = state.StatusRunning
	require.NoError(t, store.PutIfVersion(context.Background(), cp, 3))
	assert.Equal(t, int64(4), cp.Version)

	assert.ErrorIs(t, store.PutIfVersion(context.Background(), cp, 3), ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGet(t *testing.T) {
	store, mock := newMockSQLStore(t)
	cp := pausedCheckpoint("t1")
	payload, err := DefaultCodec().Encode(cp)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT version, payload FROM research_checkpoints WHERE thread_id = \$1`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "payload"}).AddRow(4, payload))
	mock.ExpectQuery(`SELECT version, payload FROM research_checkpoints`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"version", "payload"}))

	got, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assertSameCheckpoint(t, cp, got)
	assert.Equal(t, int64(4), got.Version)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreEnsureSchemaAndTableName(t *testing.T) {
	store, mock := newMockSQLStore(t)
	store.WithTableName("bad-name; DROP TABLE x").WithTableName("amri_checkpoints")

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS amri_checkpoints`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
