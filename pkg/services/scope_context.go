package services

import (
	"context"

	"github.com/planwatch/planwatch-engine/pkg/database"
)

// ScopeFunc acquires a pooled database connection for one unit of work.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type ScopeFunc func(ctx context.Context) (context.Context, func(), error)

// NewScopeFunc creates a ScopeFunc that uses the given database.
func NewScopeFunc(db *database.DB) ScopeFunc {
	return database.NewScopeProvider(db).WithScope
}

// TxFunc runs fn in one transaction on the scope carried by ctx.
// Repository calls made with the context passed to fn join the transaction.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// NewTxFunc returns the Postgres TxFunc.
func NewTxFunc() TxFunc {
	return database.WithTx
}
