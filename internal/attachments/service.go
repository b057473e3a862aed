// Package attachments manages files attached to bills. File bodies live in
// a blob store, their metadata in the bill database.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"bollette/internal/core"
	"bollette/internal/log"
)

const DefaultURLTTL = 60 * time.Second

type Blobs interface {
	Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, path string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// Records is implemented by *storage.Repository.
type Records interface {
	ListAttachments(ctx context.Context, billID string) ([]core.Attachment, error)
	InsertAttachment(ctx context.Context, a core.Attachment) (core.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
}

type Guard interface {
	Run(ctx context.Context, op func(ctx context.Context) error) error
}

type SessionSource interface {
	Current(ctx context.Context) (*core.Session, error)
}

type Upload struct {
	BillID   string
	Kind     core.AttachmentKind
	FileName string
	MimeType string
	Size     int64
	Body     io.Reader
}

type Service struct {
	blobs    Blobs
	records  Records
	guard    Guard
	sessions SessionSource
	urlTTL   time.Duration
	logger   *log.Logger
	newPath  func(billID, fileName string) string
}

func NewService(blobs Blobs, records Records, guard Guard, sessions SessionSource, urlTTL time.Duration, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	if urlTTL <= 0 {
		urlTTL = DefaultURLTTL
	}
	return &Service{
		blobs:    blobs,
		records:  records,
		guard:    guard,
		sessions: sessions,
		urlTTL:   urlTTL,
		logger:   logger.WithComponent(log.ComponentAttachments),
		newPath:  BuildPath,
	}
}

// List returns the attachments of billID, newest first.
func (s *Service) List(ctx context.Context, billID string) ([]core.Attachment, error) {
	var out []core.Attachment
	err := s.run(ctx, false, func(ctx context.Context) error {
		var err error
		out, err = s.records.ListAttachments(ctx, billID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return out, nil
}

// Upload stores the file and then its metadata. When the metadata insert
// fails the stored file is removed again.
func (s *Service) Upload(ctx context.Context, in Upload) (core.Attachment, error) {
	if err := validateUpload(in); err != nil {
		return core.Attachment{}, err
	}
	if in.Kind == "" {
		in.Kind = core.AttachmentOther
	}

	path := s.newPath(in.BillID, in.FileName)
	var created core.Attachment
	err := s.run(ctx, true, func(ctx context.Context) error {
		if err := s.blobs.Put(ctx, path, in.Body, in.Size, in.MimeType); err != nil {
			return err
		}
		a, err := s.records.InsertAttachment(ctx, core.Attachment{
			BillID:    in.BillID,
			Kind:      in.Kind,
			FileName:  in.FileName,
			Path:      path,
			MimeType:  in.MimeType,
			SizeBytes: in.Size,
		})
		if err != nil {
			if rmErr := s.blobs.Remove(context.WithoutCancel(ctx), path); rmErr != nil {
				s.logger.WarnContext(ctx, "Failed to remove orphaned attachment file", "path", path, log.FieldError, rmErr)
			}
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return core.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}

	s.logger.InfoContext(ctx, "Attachment uploaded", log.FieldBillID, in.BillID, "path", path, "size_bytes", in.Size)
	return created, nil
}

// Delete removes the file and then its metadata row.
func (s *Service) Delete(ctx context.Context, a core.Attachment) error {
	err := s.run(ctx, true, func(ctx context.Context) error {
		if err := s.blobs.Remove(ctx, a.Path); err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		if err := s.records.DeleteAttachment(ctx, a.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	s.logger.InfoContext(ctx, "Attachment deleted", log.FieldBillID, a.BillID, "path", a.Path)
	return nil
}

// URL returns a short-lived download link for path.
func (s *Service) URL(ctx context.Context, path string) (string, error) {
	var out string
	err := s.run(ctx, false, func(ctx context.Context) error {
		var err error
		out, err = s.blobs.SignedURL(ctx, path, s.urlTTL)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("sign attachment url: %w", err)
	}
	return out, nil
}

func (s *Service) run(ctx context.Context, write bool, op func(ctx context.Context) error) error {
	wrapped := op
	if write && s.sessions != nil {
		wrapped = func(ctx context.Context) error {
			sess, err := s.sessions.Current(ctx)
			if err != nil {
				return core.NewSessionExpiredError(err)
			}
			if sess == nil {
				return core.NewSessionExpiredError(nil)
			}
			return op(ctx)
		}
	}
	if s.guard == nil {
		return wrapped(ctx)
	}
	return s.guard.Run(ctx, wrapped)
}

func validateUpload(in Upload) error {
	if in.BillID == "" || core.IsTemporaryID(in.BillID) {
		return &core.ValidationError{Field: "bill_id", Err: fmt.Errorf("not a persisted id: %q", in.BillID)}
	}
	if strings.TrimSpace(in.FileName) == "" {
		return &core.ValidationError{Field: "file_name", Err: errors.New("empty file name")}
	}
	if in.Kind != "" && !in.Kind.IsValid() {
		return &core.ValidationError{Field: "kind", Err: fmt.Errorf("unknown kind %q", in.Kind)}
	}
	if in.Size < 0 || in.Body == nil {
		return &core.ValidationError{Field: "body", Err: errors.New("missing file content")}
	}
	return nil
}
