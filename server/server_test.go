package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeScanner struct {
	calls int
	err   error
}

func (f *fakeScanner) Scan(_ context.Context) error {
	f.calls++
	return f.err
}

type fakeFanout struct {
	delivered []string
}

func (f *fakeFanout) Deliver(_ context.Context, noticeID string) {
	f.delivered = append(f.delivered, noticeID)
}

type fakeCounter struct {
	count int64
	err   error
}

func (f *fakeCounter) UnreadCount(_ context.Context, _ string) (int64, error) {
	return f.count, f.err
}

func newTestServer(scanner *fakeScanner, fan *fakeFanout, counter *fakeCounter) *Server {
	return New(&Config{
		Scanner: scanner,
		Fanout:  fan,
		Counter: counter,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&fakeScanner{}, &fakeFanout{}, &fakeCounter{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestHandleScan(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		scanErr    error
		wantStatus int
		wantCalls  int
	}{
		{"post triggers a scan", http.MethodPost, nil, http.StatusOK, 1},
		{"get is rejected", http.MethodGet, nil, http.StatusMethodNotAllowed, 0},
		{"scan failure surfaces", http.MethodPost, errors.New("store down"), http.StatusInternalServerError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := &fakeScanner{err: tt.scanErr}
			srv := newTestServer(scanner, &fakeFanout{}, &fakeCounter{})

			req := httptest.NewRequest(tt.method, "/scanz", nil)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if scanner.calls != tt.wantCalls {
				t.Errorf("scan calls = %d, want %d", scanner.calls, tt.wantCalls)
			}
		})
	}
}

func TestHandleNotice(t *testing.T) {
	tests := []struct {
		name          string
		method        string
		body          string
		wantStatus    int
		wantDelivered int
	}{
		{"valid event", http.MethodPost, `{"noticeId":"n1"}`, http.StatusOK, 1},
		{"missing notice id", http.MethodPost, `{}`, http.StatusBadRequest, 0},
		{"malformed body", http.MethodPost, `{`, http.StatusBadRequest, 0},
		{"get is rejected", http.MethodGet, "", http.StatusMethodNotAllowed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fan := &fakeFanout{}
			srv := newTestServer(&fakeScanner{}, fan, &fakeCounter{})

			req := httptest.NewRequest(tt.method, "/noticez", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if len(fan.delivered) != tt.wantDelivered {
				t.Errorf("delivered = %d, want %d", len(fan.delivered), tt.wantDelivered)
			}
			if tt.wantDelivered == 1 && fan.delivered[0] != "n1" {
				t.Errorf("delivered notice = %q, want n1", fan.delivered[0])
			}
		})
	}
}

func TestHandleUnread(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		count      int64
		countErr   error
		wantStatus int
		wantBody   string
	}{
		{"returns the count", "/unreadz?user=u1", 7, nil, http.StatusOK, `{"unread":7}`},
		{"missing user", "/unreadz", 0, nil, http.StatusBadRequest, ""},
		{"counter failure", "/unreadz?user=u1", 0, errors.New("store down"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeScanner{}, &fakeFanout{}, &fakeCounter{count: tt.count, err: tt.countErr})

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && strings.TrimSpace(w.Body.String()) != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}
