package storage

import (
	"context"
	"fmt"
	"time"

	"bollette/internal/core"
)

func (r *Repository) attachmentColumns() string {
	if r.dialect == Postgres {
		return `id, bill_id, kind, file_name, path, mime_type, size_bytes, ` +
			`to_char(uploaded_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')`
	}
	return "id, bill_id, kind, file_name, path, mime_type, size_bytes, uploaded_at"
}

// ListAttachments returns the attachments of a bill, newest first.
func (r *Repository) ListAttachments(ctx context.Context, billID string) ([]core.Attachment, error) {
	query := fmt.Sprintf("SELECT %s FROM bill_attachments WHERE bill_id = %s ORDER BY uploaded_at DESC, id",
		r.attachmentColumns(), r.dialect.placeholder(1))
	rows, err := r.db.QueryContext(ctx, query, billID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", wrapErr(err))
	}
	defer rows.Close()

	var out []core.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", wrapErr(err))
	}
	return out, nil
}

func (r *Repository) GetAttachment(ctx context.Context, id string) (core.Attachment, error) {
	query := fmt.Sprintf("SELECT %s FROM bill_attachments WHERE id = %s", r.attachmentColumns(), r.dialect.placeholder(1))
	a, err := scanAttachment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return core.Attachment{}, fmt.Errorf("get attachment %s: %w", id, wrapErr(err))
	}
	return a, nil
}

// InsertAttachment stores the metadata row. ID and UploadedAt are assigned
// when empty.
func (r *Repository) InsertAttachment(ctx context.Context, a core.Attachment) (core.Attachment, error) {
	if a.ID == "" {
		a.ID = r.newID()
	}
	if a.UploadedAt.IsZero() {
		a.UploadedAt = r.now().UTC()
	}

	query := "INSERT INTO bill_attachments (id, bill_id, kind, file_name, path, mime_type, size_bytes, uploaded_at) VALUES ("
	for i := 1; i <= 8; i++ {
		if i > 1 {
			query += ", "
		}
		query += r.dialect.placeholder(i)
	}
	query += ")"

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.BillID, string(a.Kind), a.FileName, a.Path, a.MimeType, a.SizeBytes, r.timestampArg(a.UploadedAt))
	if err != nil {
		return core.Attachment{}, fmt.Errorf("insert attachment: %w", wrapErr(err))
	}
	return a, nil
}

func (r *Repository) DeleteAttachment(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM bill_attachments WHERE id = "+r.dialect.placeholder(1), id)
	if err != nil {
		return fmt.Errorf("delete attachment %s: %w", id, wrapErr(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete attachment %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func scanAttachment(s rowScanner) (core.Attachment, error) {
	var (
		a        core.Attachment
		kind     string
		uploaded string
	)
	if err := s.Scan(&a.ID, &a.BillID, &kind, &a.FileName, &a.Path, &a.MimeType, &a.SizeBytes, &uploaded); err != nil {
		return core.Attachment{}, err
	}
	a.Kind = core.AttachmentKind(kind)
	t, err := time.Parse(time.RFC3339Nano, uploaded)
	if err != nil {
		return core.Attachment{}, fmt.Errorf("attachment %s: parse uploaded_at: %w", a.ID, err)
	}
	a.UploadedAt = t
	return a, nil
}
