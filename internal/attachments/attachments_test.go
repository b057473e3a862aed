package attachments

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bollette/internal/core"
	"bollette/internal/session"
	"bollette/internal/storage"
)

func TestSanitizeNamePart(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"bolletta luce", "bolletta_luce"},
		{"Fattura è pagata", "Fattura_e_pagata"},
		{"café", "cafe"},
		{"__report__", "report"},
		{"a/b\\c", "a_b_c"},
		{"ﬁle", "file"},
		{"???", "file"},
		{"", "file"},
		{"march-2024.v2", "march-2024.v2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeNamePart(tt.in); got != tt.want {
				t.Errorf("SanitizeNamePart(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildPath(t *testing.T) {
	id := func() string { return "u1" }
	tests := []struct {
		name, want string
	}{
		{"Bolletta Marzo.pdf", "b1/u1_Bolletta_Marzo.pdf"},
		{"scan", "b1/u1_scan"},
		{"archive.tar.gz", "b1/u1_archive.tar.gz"},
		{".env", "b1/u1_file.env"},
		{"ricevuta ü.PNG", "b1/u1_ricevuta_u.PNG"},
	}
	for _, tt := range tests {
		if got := buildPath("b1", tt.name, id); got != tt.want {
			t.Errorf("buildPath(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}

	p := BuildPath("b1", "x.pdf")
	if !strings.HasPrefix(p, "b1/") || !strings.HasSuffix(p, "_x.pdf") {
		t.Errorf("unexpected path %q", p)
	}
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string]string
	putErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string]string)}
}

func (f *fakeBlobs) Put(_ context.Context, path string, body io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.objects[path] = string(data)
	f.mu.Unlock()
	return nil
}

func (f *fakeBlobs) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	delete(f.objects, path)
	f.mu.Unlock()
	return nil
}

func (f *fakeBlobs) SignedURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	return "https://blobs.test/" + path + "?ttl=" + ttl.String(), nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type failingRecords struct {
	Records
}

func (failingRecords) InsertAttachment(context.Context, core.Attachment) (core.Attachment, error) {
	return core.Attachment{}, errors.New("constraint failed")
}

type provider struct {
	session  *core.Session
	signOuts int
}

func (p *provider) Current(context.Context) (*core.Session, error) { return p.session, nil }

func (p *provider) SignOut(context.Context) error {
	p.signOuts++
	p.session = nil
	return nil
}

func newRepo(t *testing.T) (*storage.Repository, core.Bill) {
	t.Helper()
	ctx := context.Background()
	repo, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "bollette.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	b, err := repo.Insert(ctx, core.BillInput{
		Category: "Water", BillingMonth: 3, BillingYear: 2024,
		PaymentDate: core.NewDate(2024, 3, 1), Amount: core.Money{Cents: 7500},
	})
	if err != nil {
		t.Fatalf("insert bill: %v", err)
	}
	return repo, b
}

func TestUploadListDelete(t *testing.T) {
	repo, b := newRepo(t)
	blobs := newFakeBlobs()
	p := &provider{session: &core.Session{UserID: "u1"}}
	svc := NewService(blobs, repo, session.NewInterceptor(p, nil), p, 0, nil)
	ctx := context.Background()

	a, err := svc.Upload(ctx, Upload{
		BillID:   b.ID,
		Kind:     core.AttachmentBill,
		FileName: "Bolletta Marzo.pdf",
		MimeType: "application/pdf",
		Size:     5,
		Body:     strings.NewReader("%PDF-"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(a.Path, b.ID+"/") || !strings.HasSuffix(a.Path, "_Bolletta_Marzo.pdf") {
		t.Fatalf("unexpected path %q", a.Path)
	}
	if blobs.objects[a.Path] != "%PDF-" {
		t.Fatal("file body not stored")
	}

	list, err := svc.List(ctx, b.ID)
	if err != nil || len(list) != 1 || list[0].ID != a.ID || list[0].Kind != core.AttachmentBill {
		t.Fatalf("list = %+v, %v", list, err)
	}

	url, err := svc.URL(ctx, a.Path)
	if err != nil || !strings.Contains(url, "ttl=1m0s") {
		t.Fatalf("url = %q, %v", url, err)
	}

	if err := svc.Delete(ctx, a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if blobs.count() != 0 {
		t.Fatal("file not removed")
	}
	if list, _ := svc.List(ctx, b.ID); len(list) != 0 {
		t.Fatalf("record not removed: %+v", list)
	}
}

func TestUploadRemovesFileWhenRecordFails(t *testing.T) {
	repo, b := newRepo(t)
	blobs := newFakeBlobs()
	svc := NewService(blobs, failingRecords{repo}, nil, nil, 0, nil)

	_, err := svc.Upload(context.Background(), Upload{BillID: b.ID, FileName: "a.txt", Size: 1, Body: strings.NewReader("a")})
	if err == nil {
		t.Fatal("expected failure")
	}
	if blobs.count() != 0 {
		t.Fatal("orphaned file left in the bucket")
	}
}

func TestUploadRequiresSession(t *testing.T) {
	repo, b := newRepo(t)
	blobs := newFakeBlobs()
	p := &provider{}
	svc := NewService(blobs, repo, session.NewInterceptor(p, nil), p, 0, nil)

	_, err := svc.Upload(context.Background(), Upload{BillID: b.ID, FileName: "a.txt", Size: 1, Body: strings.NewReader("a")})
	if !errors.Is(err, core.ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if blobs.count() != 0 || p.signOuts != 1 {
		t.Fatalf("unexpected side effects: %d objects, %d sign-outs", blobs.count(), p.signOuts)
	}
}

func TestUploadValidation(t *testing.T) {
	svc := NewService(newFakeBlobs(), nil, nil, nil, 0, nil)
	tests := []struct {
		name string
		in   Upload
	}{
		{"temporary bill", Upload{BillID: "tmp-1", FileName: "a", Body: strings.NewReader("")}},
		{"no name", Upload{BillID: "b1", FileName: " ", Body: strings.NewReader("")}},
		{"bad kind", Upload{BillID: "b1", FileName: "a", Kind: "invoice", Body: strings.NewReader("")}},
		{"no body", Upload{BillID: "b1", FileName: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Upload(context.Background(), tt.in); !errors.Is(err, core.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}
