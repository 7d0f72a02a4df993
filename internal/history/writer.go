package history

import (
	"context"
	"database/sql"
	"time"
)

// Writer appends audit records inside the caller's transaction. Rows are
// never updated or deleted once written.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append inserts one history row. task_id carries no foreign key, so rows
// outlive the task they describe.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, taskID *string, action string, comments *string, performedBy string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO history(task_id,action,comments,performed_by,ts) VALUES (?,?,?,?,?)`,
		nullableStringPtr(taskID), action, nullableStringPtr(comments), performedBy, ts)
	return err
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
