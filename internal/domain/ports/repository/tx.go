package repository

import "context"

type Tx interface{}

var NoTX interface{}

// Table names of the JSON store. TxOptions lists the tables a transaction
// writes so only their locks are taken.
const (
	TableUsers    = "users"
	TableChannels = "channels"
	TableCodes    = "referral_codes"
	TablePending  = "pending_joins"
)

type TxOptions struct {
	Tables []string
}

// TransactionManager executes fn atomically over the tables named in opts.
//
// The concrete type of tx is infra-defined. Repository methods receiving that
// tx read and write the staged rows; everything is committed once fn returns
// nil and discarded otherwise. Repositories MUST accept NoTX, in which case each
// write is its own single-table transaction. Inside fn, tables named in opts
// must be read through tx: a NoTX read waits on the lock fn is running under.
type TransactionManager interface {
	WithTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
