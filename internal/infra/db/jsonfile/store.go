package jsonfile

import (
	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/domain/ports/repository"
	"telegram-referral-bot/internal/infra/jsonstore"
)

// Tables lists every table the bot persists.
var Tables = []string{
	repository.TableUsers,
	repository.TableChannels,
	repository.TableCodes,
	repository.TablePending,
}

// Repos bundles the repositories sharing one store.
type Repos struct {
	Store    *jsonstore.Store
	Tx       *TxManager
	Users    *UserRepo
	Channels *ChannelRepo
	Codes    *ReferralCodeRepo
	Pending  *PendingJoinRepo
}

// Open opens the store in dir and wires the repositories over it.
func Open(dir string, log *zerolog.Logger, opts ...jsonstore.Option) (*Repos, error) {
	opts = append([]jsonstore.Option{jsonstore.WithLogger(log)}, opts...)
	store, err := jsonstore.Open(dir, Tables, opts...)
	if err != nil {
		return nil, err
	}
	return &Repos{
		Store:    store,
		Tx:       NewTxManager(store),
		Users:    NewUserRepo(store),
		Channels: NewChannelRepo(store),
		Codes:    NewReferralCodeRepo(store),
		Pending:  NewPendingJoinRepo(store),
	}, nil
}

func (r *Repos) Close() error { return r.Store.Close() }
