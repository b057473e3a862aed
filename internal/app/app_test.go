package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bollette/internal/config"
	"bollette/internal/core"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataBackend:      "memory",
		PushBackend:      "memory",
		SummaryRPC:       "get_bills_summary",
		RequestTimeout:   5 * time.Second,
		LocalUser:        "local",
		PageSize:         10,
		RefreshWindow:    10 * time.Millisecond,
		SummaryCacheTTL:  time.Minute,
		SummaryCacheSize: 8,
		LogLevel:         "info",
	}
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, cfg, nil)
	if err != nil {
		cancel()
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer closeCancel()
		if err := a.Close(closeCtx); err != nil {
			t.Errorf("Close() error = %v", err)
		}
		cancel()
	})
	return a
}

func gasBill() core.BillInput {
	return core.BillInput{
		Category:     "Gas",
		BillingMonth: 3,
		BillingYear:  2024,
		PaymentDate:  core.NewDate(2024, 3, 15),
		Amount:       core.Money{Cents: 4200},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartSignsInLocalUser(t *testing.T) {
	a := startApp(t, testConfig(t))

	s, err := a.Sessions.Current(context.Background())
	if err != nil || s == nil {
		t.Fatalf("Current() = %v, %v; want a session", s, err)
	}
	if s.UserID != "local" {
		t.Errorf("UserID = %q, want local", s.UserID)
	}
	if got := a.Bridge.Scope(); got != "local" {
		t.Errorf("bridge scope = %q, want local", got)
	}
	if a.Attachments != nil {
		t.Error("attachments should be disabled without MINIO_ENDPOINT")
	}
	if err := a.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestRemoteChangeRefreshesStore(t *testing.T) {
	a := startApp(t, testConfig(t))
	ctx := context.Background()

	if err := a.Store.SetFilter(ctx, core.FilterSpec{}); err != nil {
		t.Fatalf("SetFilter() error = %v", err)
	}
	if n := len(a.Store.View().Bills); n != 0 {
		t.Fatalf("initial bills = %d, want 0", n)
	}

	// A write that bypasses the store, as another client would.
	created, err := a.Gateway.Insert(ctx, gasBill())
	if err != nil {
		t.Fatalf("Gateway.Insert() error = %v", err)
	}

	waitFor(t, "refresh after change event", func() bool {
		v := a.Store.View()
		return len(v.Bills) == 1 && v.Bills[0].ID == created.ID && v.Summary.TotalCount == 1
	})
	if got := a.Store.View().Summary.TotalAmount.String(); got != "42.00" {
		t.Errorf("summary total = %s, want 42.00", got)
	}
}

func TestSignOutDropsSubscription(t *testing.T) {
	a := startApp(t, testConfig(t))
	ctx := context.Background()

	if err := a.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if got := a.Bridge.Scope(); got != "" {
		t.Errorf("bridge scope after sign-out = %q, want empty", got)
	}

	_, err := a.Store.Insert(ctx, gasBill())
	if !errors.Is(err, core.ErrSessionExpired) {
		t.Fatalf("Insert() error = %v, want session expired", err)
	}
	if got := a.Store.View().LastError; got != core.SessionExpiredMessage {
		t.Errorf("LastError = %q, want %q", got, core.SessionExpiredMessage)
	}
}

func TestWithoutPushThereIsNoBridge(t *testing.T) {
	cfg := testConfig(t)
	cfg.PushBackend = "none"
	a := startApp(t, cfg)

	if a.Bridge != nil || a.Bus != nil {
		t.Fatal("bridge and bus should be nil with push backend none")
	}
	if _, err := a.Store.Insert(context.Background(), gasBill()); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
}

func TestAttachmentsNeedRecords(t *testing.T) {
	cfg := testConfig(t)
	cfg.MinioEndpoint = "localhost:9000"
	cfg.MinioAccessKey = "minio"
	cfg.MinioSecretKey = "minio123"
	cfg.MinioBucket = "bill-attachments"
	cfg.SignedURLTTL = time.Minute

	_, err := New(context.Background(), cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "not supported by the memory backend") {
		t.Fatalf("New() error = %v, want unsupported attachments", err)
	}
}

func TestInvalidConfigIsRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.PageSize = 0
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("New() should reject an invalid config")
	}
}
