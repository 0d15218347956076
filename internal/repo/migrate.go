package repo

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Migrate creates the orders and payment_attempts tables when missing.
func Migrate(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*orderRecord)(nil),
		(*paymentAttemptRecord)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("repo: create table: %w", err)
		}
	}

	_, err := db.NewCreateIndex().
		Model((*paymentAttemptRecord)(nil)).
		Index("payment_attempts_status_created_at_idx").
		Column("status", "created_at").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("repo: create index: %w", err)
	}
	return nil
}
