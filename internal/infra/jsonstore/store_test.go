//go:build !integration

package jsonstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-referral-bot/internal/domain"
)

func openTest(t *testing.T, dir string, tables ...string) *Store {
	t.Helper()
	if len(tables) == 0 {
		tables = []string{"users", "pending"}
	}
	s, err := Open(dir, tables)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesEmptyTables(t *testing.T) {
	dir := t.TempDir()
	s := openTest(t, dir)

	for _, name := range []string{"users", "pending"} {
		data, err := os.ReadFile(filepath.Join(dir, name+".json"))
		require.NoError(t, err)
		rows, version, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, CurrentVersion, version)
		assert.Empty(t, rows)
	}
	assert.Equal(t, []string{"pending", "users"}, s.Tables())
}

func TestUpdate_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, []string{"users"})
	require.NoError(t, err)
	err = s.Update(ctx, []string{"users"}, func(tx *Tx) error {
		return tx.Put("users", "1", map[string]int{"id": 1})
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2 := openTest(t, dir, "users")
	v, ok, err := s2.Get(ctx, "users", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":1}`, string(v))
}

func TestUpdate_FnErrorDiscardsChanges(t *testing.T) {
	s := openTest(t, t.TempDir())
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, []string{"users"}, func(tx *Tx) error {
		require.NoError(t, tx.Put("users", "1", 1))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := s.Load(ctx, "users")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpdate_FailedRenameKeepsPriorTable(t *testing.T) {
	dir := t.TempDir()
	s := openTest(t, dir, "users")
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "users", Rows{"1": json.RawMessage(`"old"`)}))

	renameFile = func(string, string) error { return errors.New("disk full") }
	t.Cleanup(func() { renameFile = os.Rename })

	err := s.Save(ctx, "users", Rows{"1": json.RawMessage(`"new"`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
	var se *domain.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "users", se.Table)

	// Memory and disk both still hold the committed value.
	v, _, err := s.Get(ctx, "users", "1")
	require.NoError(t, err)
	assert.Equal(t, `"old"`, string(v))

	data, err := os.ReadFile(filepath.Join(dir, "users.json"))
	require.NoError(t, err)
	rows, _, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, `"old"`, string(rows["1"]))

	temps, _ := filepath.Glob(filepath.Join(dir, "*.tmp-*"))
	assert.Empty(t, temps)
}

func TestOpen_RemovesStaleTempAndKeepsTable(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, []string{"users"})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "users", Rows{"1": json.RawMessage(`true`)}))
	require.NoError(t, s.Close())

	// A write interrupted before rename leaves a half-written temp file.
	stale := filepath.Join(dir, "users.json.tmp-123")
	require.NoError(t, os.WriteFile(stale, []byte(`{"version":1,"rows":{"1":`), 0o644))

	s2 := openTest(t, dir, "users")
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))

	v, ok, err := s2.Get(ctx, "users", "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", string(v))
}

func TestOpen_LegacyAndFutureVersions(t *testing.T) {
	t.Run("legacy bare map is accepted", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte(`{"5":{"id":5}}`), 0o644))
		s := openTest(t, dir, "users")
		_, ok, err := s.Get(context.Background(), "users", "5")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("newer version is refused", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte(`{"version":99,"rows":{}}`), 0o644))
		_, err := Open(dir, []string{"users"})
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
		assert.ErrorIs(t, err, domain.ErrStorage)
	})

	t.Run("corrupt file is refused", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte(`{not json`), 0o644))
		_, err := Open(dir, []string{"users"})
		assert.ErrorIs(t, err, domain.ErrStorage)
	})
}

func TestUpdate_ConcurrentWritersLoseNothing(t *testing.T) {
	s := openTest(t, t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, []string{"users", "pending"}, func(tx *Tx) error {
				var n int
				if v, ok, _ := tx.Get("users", "counter"); ok {
					if err := json.Unmarshal(v, &n); err != nil {
						return err
					}
				}
				if err := tx.Put("users", "counter", n+1); err != nil {
					return err
				}
				return tx.Put("pending", "last", n+1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, _, err := s.Get(ctx, "users", "counter")
	require.NoError(t, err)
	assert.Equal(t, "50", string(v))
}

func TestTx_UnknownTableAndClosedStore(t *testing.T) {
	s, err := Open(t.TempDir(), []string{"users"})
	require.NoError(t, err)
	ctx := context.Background()

	err = s.Update(ctx, []string{"users"}, func(tx *Tx) error {
		return tx.Put("channels", "1", 1)
	})
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = s.Load(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownTable)

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
	_, err = s.Load(ctx, "users")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Ping(ctx), ErrClosed)
}

func TestSnapshot_EncodesEveryTable(t *testing.T) {
	s := openTest(t, t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "users", Rows{"1": json.RawMessage(`1`)}))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	rows, _, err := Decode(snap["users"])
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func readRowFromDisk(t *testing.T, dir, table, key string) (string, bool) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, table+".json"))
	require.NoError(t, err)
	rows, _, err := Decode(data)
	require.NoError(t, err)
	v, ok := rows[key]
	return string(v), ok
}

func TestUpdate_TimedOutWriteNeverLands(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(dir, []string{"users"}, WithWriteTimeout(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "users", Rows{"1": json.RawMessage(`"unclaimed"`)}))

	syncFile = func(f *os.File) error {
		time.Sleep(300 * time.Millisecond)
		return f.Sync()
	}
	t.Cleanup(func() { syncFile = (*os.File).Sync })

	err = s.Save(ctx, "users", Rows{"1": json.RawMessage(`"claimed"`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Close waits for the abandoned write to finish its cleanup.
	require.NoError(t, s.Close())
	syncFile = (*os.File).Sync

	v, ok := readRowFromDisk(t, dir, "users", "1")
	require.True(t, ok)
	assert.Equal(t, `"unclaimed"`, v)
	temps, _ := filepath.Glob(filepath.Join(dir, "*.tmp-*"))
	assert.Empty(t, temps)

	s2 := openTest(t, dir, "users")
	got, _, err := s2.Get(ctx, "users", "1")
	require.NoError(t, err)
	assert.Equal(t, `"unclaimed"`, string(got))
}

func TestUpdate_SlowRenameKeepsMemoryAndDiskInStep(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(dir, []string{"users"}, WithWriteTimeout(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Save(ctx, "users", Rows{"1": json.RawMessage(`"old"`)}))

	renameFile = func(from, to string) error {
		time.Sleep(200 * time.Millisecond)
		return os.Rename(from, to)
	}
	t.Cleanup(func() { renameFile = os.Rename })

	err = s.Save(ctx, "users", Rows{"1": json.RawMessage(`"new"`)})
	want := `"new"`
	if err != nil {
		// The deadline won before the rename started.
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		want = `"old"`
	}
	mem, _, err := s.Get(ctx, "users", "1")
	require.NoError(t, err)
	assert.Equal(t, want, string(mem))
	require.NoError(t, s.Close())

	onDisk, ok := readRowFromDisk(t, dir, "users", "1")
	require.True(t, ok)
	assert.Equal(t, want, onDisk)

	renameFile = os.Rename
	s2 := openTest(t, dir, "users")
	got, _, err := s2.Get(ctx, "users", "1")
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
}
