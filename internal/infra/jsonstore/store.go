// Package jsonstore persists tables of JSON rows, one file per table.
//
// Every save goes through a temp file in the same directory that is fsynced and
// renamed over the previous file, so an interrupted write leaves the prior
// table intact. Committed rows are cached in memory; reads never touch disk.
package jsonstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/domain"
)

// CurrentVersion is the envelope version written by this build.
const CurrentVersion = 1

var (
	ErrClosed             = errors.New("store is closed")
	ErrUnknownTable       = errors.New("unknown table")
	ErrUnsupportedVersion = errors.New("unsupported table version")
)

// Rows maps a row key to its encoded value.
type Rows map[string]json.RawMessage

type envelope struct {
	Version   int       `json:"version"`
	Table     string    `json:"table"`
	UpdatedAt time.Time `json:"updated_at"`
	Rows      Rows      `json:"rows"`
}

type table struct {
	name string
	path string

	mu   sync.RWMutex // guards rows; held for writing across a commit
	rows Rows

	fileMu sync.Mutex // serializes file replacement, including timed-out writes
}

type Store struct {
	dir          string
	tables       map[string]*table
	writeTimeout time.Duration
	log          *zerolog.Logger
	closed       atomic.Bool
}

type Option func(*Store)

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

func WithLogger(l *zerolog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			sl := l.With().Str("component", "jsonstore").Logger()
			s.log = &sl
		}
	}
}

// Open loads (or creates) every named table under dir.
func Open(dir string, names []string, opts ...Option) (*Store, error) {
	nop := zerolog.Nop()
	s := &Store{
		dir:          dir,
		tables:       make(map[string]*table, len(names)),
		writeTimeout: 5 * time.Second,
		log:          &nop,
	}
	for _, o := range opts {
		o(s)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("jsonstore: no tables: %w", domain.ErrInvalidArgument)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.NewStorageError("*", "open", err)
	}

	for _, name := range names {
		if _, dup := s.tables[name]; dup {
			return nil, fmt.Errorf("jsonstore: duplicate table %q: %w", name, domain.ErrInvalidArgument)
		}
		t := &table{name: name, path: filepath.Join(dir, name+".json")}
		removeStaleTemps(t.path, s.log)

		rows, version, err := readTable(t.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			rows = Rows{}
			if err := writeAtomic(t.path, mustEncode(name, rows), nil); err != nil {
				return nil, domain.NewStorageError(name, "init", err)
			}
			s.log.Info().Str("table", name).Msg("initialized table")
		case err != nil:
			return nil, domain.NewStorageError(name, "open", err)
		case version < CurrentVersion:
			s.log.Warn().Str("table", name).Int("version", version).Msg("legacy table format, will upgrade on next write")
		}
		t.rows = rows
		s.tables[name] = t
	}
	return s, nil
}

// Close waits for in-flight commits and rejects further operations.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	for _, t := range s.sorted(nil) {
		t.mu.Lock()
		t.fileMu.Lock()
		t.fileMu.Unlock()
		t.mu.Unlock()
	}
	return nil
}

func (s *Store) Dir() string { return s.dir }

// Ping reports whether the store is open and its directory is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return domain.NewStorageError("*", "ping", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.dir); err != nil {
		return domain.NewStorageError("*", "ping", err)
	}
	return nil
}

// Tables returns the table names in canonical order.
func (s *Store) Tables() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load returns a copy of the committed rows of a table.
func (s *Store) Load(ctx context.Context, name string) (Rows, error) {
	if err := s.check(ctx, name, "load"); err != nil {
		return nil, err
	}
	t := s.tables[name]
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.rows), nil
}

// Get returns one committed row.
func (s *Store) Get(ctx context.Context, name, key string) (json.RawMessage, bool, error) {
	if err := s.check(ctx, name, "load"); err != nil {
		return nil, false, err
	}
	t := s.tables[name]
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[key]
	return v, ok, nil
}

// Save replaces all rows of a table.
func (s *Store) Save(ctx context.Context, name string, rows Rows) error {
	return s.Update(ctx, []string{name}, func(tx *Tx) error {
		tx.staged[name] = maps.Clone(rows)
		tx.dirty[name] = true
		return nil
	})
}

// Update runs fn over staged copies of the named tables while holding their
// write locks. Dirty tables are committed in the order given by names, so a
// caller can order writes such that a partial commit is harmless.
func (s *Store) Update(ctx context.Context, names []string, fn func(tx *Tx) error) error {
	if len(names) == 0 {
		return fmt.Errorf("jsonstore: update without tables: %w", domain.ErrInvalidArgument)
	}
	for _, name := range names {
		if err := s.check(ctx, name, "update"); err != nil {
			return err
		}
	}

	locked := s.sorted(names)
	for _, t := range locked {
		t.mu.Lock()
	}
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}()
	if s.closed.Load() {
		return domain.NewStorageError(names[0], "update", ErrClosed)
	}

	tx := &Tx{staged: make(map[string]Rows, len(locked)), dirty: map[string]bool{}}
	for _, t := range locked {
		tx.staged[t.name] = maps.Clone(t.rows)
	}
	if err := fn(tx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	committed := map[string]bool{}
	for _, name := range names {
		if !tx.dirty[name] || committed[name] {
			continue
		}
		t := s.tables[name]
		data, err := encode(name, tx.staged[name])
		if err != nil {
			return domain.NewStorageError(name, "encode", err)
		}
		start := time.Now()
		if err := s.persist(ctx, t, data); err != nil {
			observeWrite(name, false, time.Since(start))
			s.log.Error().Err(err).Str("table", name).Msg("table write failed")
			return domain.NewStorageError(name, "save", err)
		}
		observeWrite(name, true, time.Since(start))
		t.rows = tx.staged[name]
		committed[name] = true
	}
	return nil
}

// Snapshot encodes the committed state of every table, keyed by table name.
func (s *Store) Snapshot(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte, len(s.tables))
	for _, name := range s.Tables() {
		rows, err := s.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		data, err := encode(name, rows)
		if err != nil {
			return nil, domain.NewStorageError(name, "encode", err)
		}
		out[name] = data
	}
	return out, nil
}

func (s *Store) check(ctx context.Context, name, op string) error {
	if s.closed.Load() {
		return domain.NewStorageError(name, op, ErrClosed)
	}
	if _, ok := s.tables[name]; !ok {
		return domain.NewStorageError(name, op, ErrUnknownTable)
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError(name, op, err)
	}
	return nil
}

// sorted returns the named tables (all when names is nil) in lock order.
func (s *Store) sorted(names []string) []*table {
	if names == nil {
		names = s.Tables()
	}
	seen := map[string]bool{}
	out := make([]*table, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, s.tables[n])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// pendingWrite decides whether a timed-out caller or the rename wins.
type pendingWrite struct {
	mu       sync.Mutex
	aborted  bool
	renaming bool
}

func (w *pendingWrite) begin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.aborted {
		return false
	}
	w.renaming = true
	return true
}

func (w *pendingWrite) abort() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.renaming {
		return false
	}
	w.aborted = true
	return true
}

// persist writes in a goroutine so the caller is bounded by ctx. A write whose
// deadline passes before the rename is discarded; a rename already under way
// is awaited and decides the result. Either way the file holds exactly the
// rows the caller was told were committed.
func (s *Store) persist(ctx context.Context, t *table, data []byte) error {
	w := &pendingWrite{}
	done := make(chan error, 1)
	go func() {
		t.fileMu.Lock()
		defer t.fileMu.Unlock()
		done <- writeAtomic(t.path, data, w.begin)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if w.abort() {
			return ctx.Err()
		}
		return <-done
	}
}

func encode(name string, rows Rows) ([]byte, error) {
	if rows == nil {
		rows = Rows{}
	}
	return json.MarshalIndent(envelope{
		Version:   CurrentVersion,
		Table:     name,
		UpdatedAt: time.Now().UTC(),
		Rows:      rows,
	}, "", "  ")
}

func mustEncode(name string, rows Rows) []byte {
	b, err := encode(name, rows)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses a table file. Files without a version field are bare row maps
// written before envelopes existed and report version 0.
func Decode(data []byte) (Rows, int, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Rows{}, CurrentVersion, nil
	}
	var probe struct {
		Version *int `json:"version"`
		Rows    Rows `json:"rows"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, 0, err
	}
	if probe.Version == nil {
		var legacy Rows
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, 0, err
		}
		if legacy == nil {
			legacy = Rows{}
		}
		return legacy, 0, nil
	}
	if *probe.Version > CurrentVersion {
		return nil, *probe.Version, fmt.Errorf("%w: %d", ErrUnsupportedVersion, *probe.Version)
	}
	if probe.Rows == nil {
		probe.Rows = Rows{}
	}
	return probe.Rows, *probe.Version, nil
}

func readTable(path string) (Rows, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return Decode(data)
}
