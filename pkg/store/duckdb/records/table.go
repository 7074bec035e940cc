package records

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/store/duckdb"
)

// Table is the embedded monitor table used for local and dry runs.
type Table struct {
	db *sql.DB
}

func NewTable(db *sql.DB) (*Table, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &Table{
		db: db,
	}, nil
}

func (t *Table) Scan(ctx context.Context, prefix string) ([]domain.Record, error) {
	query := `SELECT pk, obj FROM monitor_records WHERE starts_with(pk, ?) ORDER BY pk`

	var rows *sql.Rows
	var err error
	if tx := duckdb.GetTransaction(ctx); tx != nil {
		rows, err = tx.QueryContext(ctx, query, prefix)
	} else {
		rows, err = t.db.QueryContext(ctx, query, prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("query monitor records: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		var key, obj string
		if err := rows.Scan(&key, &obj); err != nil {
			return nil, fmt.Errorf("scan monitor record: %w", err)
		}
		records = append(records, domain.Record{Key: key, Value: []byte(obj)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitor records: %w", err)
	}
	return records, nil
}

// BatchWrite applies puts and deletes atomically. An ambient transaction from the
// context is joined instead of opening a new one.
func (t *Table) BatchWrite(ctx context.Context, puts []domain.Record, deletes []string) (err error) {
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}

	tx := duckdb.GetTransaction(ctx)
	if tx == nil {
		tx, err = t.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
				return
			}
			if cerr := tx.Commit(); cerr != nil {
				err = fmt.Errorf("commit transaction: %w", cerr)
			}
		}()
	}

	for _, record := range puts {
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO monitor_records (pk, obj, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
			record.Key, string(record.Value),
		)
		if err != nil {
			return fmt.Errorf("put %q: %w", record.Key, err)
		}
	}

	for _, key := range deletes {
		_, err = tx.ExecContext(ctx, `DELETE FROM monitor_records WHERE pk = ?`, key)
		if err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
	}

	return nil
}
