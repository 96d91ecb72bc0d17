package jsonstore

import (
	json "github.com/goccy/go-json"

	"telegram-referral-bot/internal/domain"
)

// Tx exposes staged rows inside Store.Update. It must not be retained after
// the update function returns.
type Tx struct {
	staged map[string]Rows
	dirty  map[string]bool
}

func (tx *Tx) rows(name string) (Rows, error) {
	rows, ok := tx.staged[name]
	if !ok {
		return nil, domain.NewStorageError(name, "tx", ErrUnknownTable)
	}
	return rows, nil
}

func (tx *Tx) Get(name, key string) (json.RawMessage, bool, error) {
	rows, err := tx.rows(name)
	if err != nil {
		return nil, false, err
	}
	v, ok := rows[key]
	return v, ok, nil
}

// Put encodes v and stages it under key.
func (tx *Tx) Put(name, key string, v any) error {
	rows, err := tx.rows(name)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return domain.NewStorageError(name, "encode", err)
	}
	rows[key] = b
	tx.dirty[name] = true
	return nil
}

func (tx *Tx) Delete(name, key string) error {
	rows, err := tx.rows(name)
	if err != nil {
		return err
	}
	if _, ok := rows[key]; ok {
		delete(rows, key)
		tx.dirty[name] = true
	}
	return nil
}

// Each calls fn for every staged row until fn returns false.
func (tx *Tx) Each(name string, fn func(key string, v json.RawMessage) bool) error {
	rows, err := tx.rows(name)
	if err != nil {
		return err
	}
	for k, v := range rows {
		if !fn(k, v) {
			return nil
		}
	}
	return nil
}

func (tx *Tx) Len(name string) (int, error) {
	rows, err := tx.rows(name)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
