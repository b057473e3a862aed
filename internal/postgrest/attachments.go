package postgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"bollette/internal/core"
)

const attachmentsTable = "bill_attachments"

type attachmentRow struct {
	ID         string  `json:"id,omitempty"`
	BillID     string  `json:"bill_id"`
	FileType   string  `json:"file_type"`
	FileName   string  `json:"file_name"`
	FilePath   string  `json:"file_path"`
	MimeType   *string `json:"mime_type"`
	SizeBytes  *int64  `json:"size_bytes"`
	UploadedAt string  `json:"uploaded_at,omitempty"`
}

func (r attachmentRow) attachment() (core.Attachment, error) {
	a := core.Attachment{
		ID:       r.ID,
		BillID:   r.BillID,
		Kind:     core.AttachmentKind(r.FileType),
		FileName: r.FileName,
		Path:     r.FilePath,
	}
	if r.MimeType != nil {
		a.MimeType = *r.MimeType
	}
	if r.SizeBytes != nil {
		a.SizeBytes = *r.SizeBytes
	}
	if r.UploadedAt != "" {
		t, err := parseTimestamp(r.UploadedAt)
		if err != nil {
			return core.Attachment{}, fmt.Errorf("attachment %s: parse uploaded_at: %w", r.ID, err)
		}
		a.UploadedAt = t
	}
	return a, nil
}

// ListAttachments returns the attachments of a bill, newest first.
func (c *Client) ListAttachments(ctx context.Context, billID string) ([]core.Attachment, error) {
	params := url.Values{"select": {"*"}, "bill_id": {"eq." + billID}, "order": {"uploaded_at.desc"}}
	resp, err := c.do(ctx, http.MethodGet, attachmentsTable, params, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer resp.Body.Close()

	var rows []attachmentRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	out := make([]core.Attachment, 0, len(rows))
	for _, r := range rows {
		a, err := r.attachment()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) InsertAttachment(ctx context.Context, a core.Attachment) (core.Attachment, error) {
	row := attachmentRow{
		BillID:   a.BillID,
		FileType: string(a.Kind),
		FileName: a.FileName,
		FilePath: a.Path,
	}
	if a.MimeType != "" {
		row.MimeType = &a.MimeType
	}
	size := a.SizeBytes
	row.SizeBytes = &size

	header := http.Header{"Accept": {mediaObject}, "Prefer": {"return=representation"}}
	resp, err := c.do(ctx, http.MethodPost, attachmentsTable, url.Values{"select": {"*"}}, header, row)
	if err != nil {
		return core.Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	defer resp.Body.Close()

	var out attachmentRow
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return core.Attachment{}, fmt.Errorf("decode attachment: %w", err)
	}
	return out.attachment()
}

func (c *Client) DeleteAttachment(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, attachmentsTable, url.Values{"id": {"eq." + id}}, nil, nil)
	if err != nil {
		return fmt.Errorf("delete attachment %s: %w", id, err)
	}
	resp.Body.Close()
	return nil
}
