package jsonstore

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Swapped by tests to simulate a crash before the rename or a slow disk.
var (
	renameFile = os.Rename
	syncFile   = (*os.File).Sync
)

var errWriteAborted = errors.New("write aborted before rename")

func tempPattern(path string) string { return filepath.Base(path) + ".tmp-*" }

// writeAtomic replaces path with data through a synced temp file. begin, when
// set, is called once the temp file is durable; returning false discards it
// and leaves path untouched.
func writeAtomic(path string, data []byte, begin func() bool) error {
	dir := filepath.Dir(path)
	file, err := os.CreateTemp(dir, tempPattern(path))
	if err != nil {
		return err
	}
	tmpFile := file.Name()

	if _, err = file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}
	if err = syncFile(file); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}
	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}
	if begin != nil && !begin() {
		os.Remove(tmpFile)
		return errWriteAborted
	}
	if err = renameFile(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir makes the rename durable where the platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// removeStaleTemps deletes temp files left behind by an interrupted write.
func removeStaleTemps(path string, log *zerolog.Logger) {
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), tempPattern(path)))
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			log.Warn().Str("file", m).Msg("removed stale temp file")
		}
	}
}
