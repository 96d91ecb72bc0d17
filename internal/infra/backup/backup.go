// Package backup writes zstd-compressed snapshots of every store table and
// prunes old ones.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/infra/metrics"
)

const (
	filePrefix = "backup-"
	fileSuffix = ".json.zst"
)

// Snapshotter returns the encoded file contents of every table.
type Snapshotter interface {
	Snapshot(ctx context.Context) (map[string][]byte, error)
}

type archive struct {
	ID        string                     `json:"id"`
	CreatedAt time.Time                  `json:"created_at"`
	Tables    map[string]json.RawMessage `json:"tables"`
}

type Backuper struct {
	src     Snapshotter
	dir     string
	keep    int
	encoder *zstd.Encoder
	log     *zerolog.Logger
}

func New(src Snapshotter, dir string, keep int, logger *zerolog.Logger) (*Backuper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	l := logger.With().Str("component", "Backuper").Logger()
	return &Backuper{src: src, dir: dir, keep: keep, encoder: encoder, log: &l}, nil
}

// Backup writes one archive and prunes beyond keep. It returns the archive path.
func (b *Backuper) Backup(ctx context.Context) (string, error) {
	tables, err := b.src.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	a := archive{ID: ulid.Make().String(), CreatedAt: time.Now().UTC(), Tables: make(map[string]json.RawMessage, len(tables))}
	for name, data := range tables {
		a.Tables[name] = data
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode archive: %w", err)
	}
	compressed := b.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))

	path := filepath.Join(b.dir, filePrefix+a.ID+fileSuffix)
	if err := writeFile(path, compressed); err != nil {
		return "", err
	}
	metrics.IncBackup()
	b.log.Info().Str("path", path).Int("tables", len(tables)).Int("bytes", len(compressed)).Msg("backup written")

	if removed, err := b.prune(); err != nil {
		b.log.Warn().Err(err).Msg("backup prune failed")
	} else if removed > 0 {
		b.log.Debug().Int("removed", removed).Msg("old backups pruned")
	}
	return path, nil
}

func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close backup: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// List returns archive paths, oldest first. ULIDs sort by creation time.
func (b *Backuper) List() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		out = append(out, filepath.Join(b.dir, name))
	}
	sort.Strings(out)
	return out, nil
}

func (b *Backuper) prune() (int, error) {
	if b.keep <= 0 {
		return 0, nil
	}
	files, err := b.List()
	if err != nil {
		return 0, err
	}
	excess := len(files) - b.keep
	var errs []error
	removed := 0
	for i := 0; i < excess; i++ {
		if err := os.Remove(files[i]); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Read decodes an archive back into table name -> file contents.
func Read(path string) (map[string][]byte, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()
	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", filepath.Base(path), err)
	}
	var a archive
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	out := make(map[string][]byte, len(a.Tables))
	for name, data := range a.Tables {
		out[name] = data
	}
	return out, nil
}

// Restore writes the tables of an archive into dir as <table>.json files.
// The store must not be open on dir.
func Restore(path, dir string) error {
	tables, err := Read(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, data := range tables {
		if err := writeFile(filepath.Join(dir, name+".json"), data); err != nil {
			return err
		}
	}
	return nil
}
