package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTransportStampsRequestID(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get(HeaderRequestID))
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewTransport(nil, nil)
	client := &http.Client{Transport: tr}

	ctx := WithRequestID(context.Background(), "req_fixed")
	for _, path := range []string{"/bills", "/missing"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
		if err != nil {
			t.Fatal(err)
		}
		if req.Header.Get(HeaderRequestID) != "" {
			t.Fatal("request should start without an ID")
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do(%s) error = %v", path, err)
		}
		resp.Body.Close()
		if req.Header.Get(HeaderRequestID) != "" {
			t.Error("caller's request was modified")
		}
	}

	for i, id := range seen {
		if id != "req_fixed" {
			t.Errorf("request %d id = %q, want req_fixed", i, id)
		}
	}
	m := tr.Metrics()
	if m.TotalRequests != 2 || m.FailedRequests != 1 {
		t.Errorf("metrics = %+v, want 2 total and 1 failed", m)
	}
}

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	if !strings.HasPrefix(a, "req_") || len(a) != len("req_")+16 {
		t.Errorf("GenerateRequestID() = %q", a)
	}
	if a == b {
		t.Error("ids should differ")
	}
	if RequestID(context.Background()) != "" {
		t.Error("empty context should have no id")
	}
}
