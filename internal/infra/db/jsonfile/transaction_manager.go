package jsonfile

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"telegram-referral-bot/internal/domain"
	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/infra/jsonstore"
)

// Ensure compile-time conformance
var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager implements repository.TransactionManager over a jsonstore.Store.
// The tx handle passed to fn is a *jsonstore.Tx; writes are committed when fn
// returns nil, in the order of opts.Tables.
type TxManager struct {
	store *jsonstore.Store
}

func NewTxManager(store *jsonstore.Store) *TxManager {
	return &TxManager{store: store}
}

func (m *TxManager) WithTx(ctx context.Context, opts repository.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	tables := opts.Tables
	if len(tables) == 0 {
		tables = m.store.Tables()
	}
	return m.store.Update(ctx, tables, func(tx *jsonstore.Tx) error {
		return fn(ctx, tx)
	})
}

// stagedTx returns the store transaction carried by tx, or nil for NoTX.
func stagedTx(tx repository.Tx) (*jsonstore.Tx, error) {
	switch v := tx.(type) {
	case nil:
		return nil, nil
	case *jsonstore.Tx:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported tx %T: %w", tx, domain.ErrInvalidArgument)
	}
}

func readRow(ctx context.Context, s *jsonstore.Store, tx repository.Tx, table, key string, dst any) (bool, error) {
	stx, err := stagedTx(tx)
	if err != nil {
		return false, err
	}
	var (
		raw json.RawMessage
		ok  bool
	)
	if stx != nil {
		raw, ok, err = stx.Get(table, key)
	} else {
		raw, ok, err = s.Get(ctx, table, key)
	}
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, domain.NewStorageError(table, "decode", err)
	}
	return true, nil
}

func writeRow(ctx context.Context, s *jsonstore.Store, tx repository.Tx, table, key string, v any) error {
	stx, err := stagedTx(tx)
	if err != nil {
		return err
	}
	if stx != nil {
		return stx.Put(table, key, v)
	}
	return s.Update(ctx, []string{table}, func(t *jsonstore.Tx) error {
		return t.Put(table, key, v)
	})
}

func deleteRow(ctx context.Context, s *jsonstore.Store, tx repository.Tx, table, key string) error {
	stx, err := stagedTx(tx)
	if err != nil {
		return err
	}
	if stx != nil {
		return stx.Delete(table, key)
	}
	return s.Update(ctx, []string{table}, func(t *jsonstore.Tx) error {
		return t.Delete(table, key)
	})
}

// eachRow decodes every row of table into a fresh T and hands it to fn.
func eachRow[T any](ctx context.Context, s *jsonstore.Store, tx repository.Tx, table string, fn func(*T) error) error {
	stx, err := stagedTx(tx)
	if err != nil {
		return err
	}
	var rows jsonstore.Rows
	if stx != nil {
		rows = jsonstore.Rows{}
		if err := stx.Each(table, func(k string, v json.RawMessage) bool {
			rows[k] = v
			return true
		}); err != nil {
			return err
		}
	} else if rows, err = s.Load(ctx, table); err != nil {
		return err
	}
	for _, raw := range rows {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return domain.NewStorageError(table, "decode", err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func countRows(ctx context.Context, s *jsonstore.Store, tx repository.Tx, table string) (int, error) {
	stx, err := stagedTx(tx)
	if err != nil {
		return 0, err
	}
	if stx != nil {
		return stx.Len(table)
	}
	rows, err := s.Load(ctx, table)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
