// Package postgres implements the core repositories on PostgreSQL through a
// pgx connection pool. The schema lives in migrations/001_init.sql.
package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stores bundles one of each repository over a shared pool.
type Stores struct {
	Stock      *StockStore
	Boms       *BomStore
	WorkOrders *WorkOrderStore
	Reorder    *ReorderStore
	Sequences  *SequenceStore
}

func NewStores(pool *pgxpool.Pool) *Stores {
	return &Stores{
		Stock:      NewStockStore(pool),
		Boms:       NewBomStore(pool),
		WorkOrders: NewWorkOrderStore(pool),
		Reorder:    NewReorderStore(pool),
		Sequences:  NewSequenceStore(pool),
	}
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// placeholders renders "$start, $start+1, ..." for n parameters.
func placeholders(n, start int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

// assignments renders "col = $start, ..." for an UPDATE ... SET clause.
func assignments(columns []string, start int) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("%s = $%d", c, start+i)
	}
	return strings.Join(parts, ", ")
}
