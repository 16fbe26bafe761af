package repos

import (
	"context"

	"abonnement-backend/database"

	"gorm.io/gorm"
)

type txKey struct{}

// WithTx makes every repository call made with the returned context run on tx.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TxFrom(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// scope binds a repository to a database and tenant schema.
type scope struct {
	db     *gorm.DB
	schema string
}

// run executes fn on the transaction carried by ctx, or in a new transaction
// pinned to the tenant schema.
func (s scope) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if tx, ok := TxFrom(ctx); ok {
		return fn(tx.WithContext(ctx))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.PinSchema(tx, s.schema); err != nil {
			return err
		}
		return fn(tx)
	})
}
