package database

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxFunc is executed inside a database transaction
type TxFunc func(ctx context.Context, tx *gorm.DB) error

type txKey struct{}

// Transaction runs fn in a transaction; any returned error rolls it back.
// The transaction handle is also placed in the ctx passed to fn.
func (db *DB) Transaction(ctx context.Context, fn TxFunc) error {
	return db.TransactionWithOptions(ctx, nil, fn)
}

// TransactionWithOptions runs fn in a transaction with custom isolation options
func (db *DB) TransactionWithOptions(ctx context.Context, opts *sql.TxOptions, fn TxFunc) error {
	log := db.logger.WithContext(ctx)
	log.Debug("starting database transaction")

	var txOpts []*sql.TxOptions
	if opts != nil {
		txOpts = append(txOpts, opts)
	}

	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ContextWithTransaction(ctx, tx), tx)
	}, txOpts...)
	if err != nil {
		log.Warn("transaction failed, rolled back", zap.Error(err))
		return err
	}

	log.Debug("transaction committed")
	return nil
}

// ContextWithTransaction stores tx in ctx
func ContextWithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TransactionFromContext returns the transaction stored in ctx, if any
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// Conn returns the transaction in ctx or the pool bound to ctx
func (db *DB) Conn(ctx context.Context) *gorm.DB {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx
	}
	return db.DB.WithContext(ctx)
}
