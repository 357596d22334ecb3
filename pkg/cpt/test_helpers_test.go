package cpt_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-cptgateway/pkg/failurelog"
)

// --- recordingSink ---

type recordingSink struct {
	mu      sync.Mutex
	records []failurelog.Record
	err     error
}

func (s *recordingSink) Record(_ context.Context, rec failurelog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) Records() []failurelog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]failurelog.Record, len(s.records))
	copy(out, s.records)
	return out
}

// --- staticTokenSource ---

type staticTokenSource struct {
	token       string
	err         error
	calls       atomic.Int32
	invalidated atomic.Int32
}

func (s *staticTokenSource) Token(_ context.Context) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

func (s *staticTokenSource) Invalidate(_ context.Context) {
	s.invalidated.Add(1)
}

// --- fakeRecordAPI ---

// fakeRecordAPI serves a session endpoint at /token and a record endpoint at /record.
type fakeRecordAPI struct {
	server *httptest.Server

	mu          sync.Mutex
	tokenStatus int
	tokenBody   string
	recordCode  int
	bodies      []string
	authHeaders []string
	tokenAuth   []string

	tokenCalls  atomic.Int32
	recordCalls atomic.Int32
}

func newFakeRecordAPI(t *testing.T) *fakeRecordAPI {
	t.Helper()
	api := &fakeRecordAPI{
		tokenStatus: http.StatusOK,
		tokenBody:   `{response={token=abc123}}`,
		recordCode:  http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		api.tokenCalls.Add(1)
		api.mu.Lock()
		api.tokenAuth = append(api.tokenAuth, r.Header.Get("Authorization"))
		status, body := api.tokenStatus, api.tokenBody
		api.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("/record", func(w http.ResponseWriter, r *http.Request) {
		api.recordCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		api.mu.Lock()
		api.bodies = append(api.bodies, string(body))
		api.authHeaders = append(api.authHeaders, r.Header.Get("Authorization"))
		code := api.recordCode
		api.mu.Unlock()
		w.WriteHeader(code)
		_, _ = io.WriteString(w, `{"messages":[{"code":"0"}]}`)
	})
	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeRecordAPI) TokenURL() string  { return a.server.URL + "/token" }
func (a *fakeRecordAPI) RecordURL() string { return a.server.URL + "/record" }

func (a *fakeRecordAPI) SetRecordStatus(code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordCode = code
}

func (a *fakeRecordAPI) SetTokenResponse(status int, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokenStatus = status
	a.tokenBody = body
}

func (a *fakeRecordAPI) Bodies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.bodies...)
}

func (a *fakeRecordAPI) AuthHeaders() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.authHeaders...)
}

func (a *fakeRecordAPI) TokenAuthHeaders() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.tokenAuth...)
}
