package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/apexsec/voice-dispatch/internal/compose"
	"github.com/apexsec/voice-dispatch/internal/dispatch"
	"github.com/apexsec/voice-dispatch/internal/domain"
	"github.com/apexsec/voice-dispatch/internal/escalate"
	"github.com/apexsec/voice-dispatch/internal/guard"
	"github.com/apexsec/voice-dispatch/internal/ports"
	"github.com/apexsec/voice-dispatch/internal/procedure"
	"github.com/apexsec/voice-dispatch/internal/storage/memory"
)

type testIncidents struct {
	mu   sync.Mutex
	next int
}

func (s *testIncidents) CreateIncident(_ context.Context, _ string, _ domain.ExtractedInfo, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("INC-%d", s.next), nil
}

type silentNotifier struct{}

func (silentNotifier) NotifyEscalation(context.Context, string, string) error { return nil }
func (silentNotifier) NotifyTakeover(context.Context, string, string) error   { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := memory.New()
	orc := dispatch.New(dispatch.Deps{
		Library:   procedure.NewLibrary(nil),
		Composer:  compose.New(compose.DefaultPolicy()),
		Scheduler: escalate.NewScheduler(time.Hour, slog.Default()),
		Incidents: &testIncidents{},
		Notifier:  silentNotifier{},
		Guards:    guard.NewRoster([]ports.Guard{{ID: "g-1", Available: true}}),
		Store:     store,
		Logger:    slog.Default(),
	})

	s := New(0, slog.Default())
	NewAPI(orc, store, slog.Default()).RegisterRoutes(s.Router)

	srv := httptest.NewServer(s.Router)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		orc.Shutdown(ctx)
	})
	return srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp, out
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, started := postJSON(t, srv.URL+"/telephony/call-started", map[string]any{
		"session_id":     "sess-1",
		"caller_address": "+15550100",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("call-started status = %d", resp.StatusCode)
	}
	callID, _ := started["call_id"].(string)
	if callID == "" || started["prompt"] == "" {
		t.Fatalf("call-started body = %v", started)
	}

	resp, prompt := postJSON(t, srv.URL+"/telephony/utterance", map[string]any{
		"session_id": "sess-1",
		"text":       "loud music coming from unit 12",
		"confidence": 0.9,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("utterance status = %d", resp.StatusCode)
	}
	if cont, _ := prompt["continue"].(bool); !cont {
		t.Fatalf("utterance body = %v", prompt)
	}

	resp, snap := getJSON(t, srv.URL+"/api/calls/"+callID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get call status = %d", resp.StatusCode)
	}
	if snap["state"] != string(domain.StateGathering) {
		t.Fatalf("call state = %v, want gathering", snap["state"])
	}

	resp, ended := postJSON(t, srv.URL+"/telephony/call-ended", map[string]any{
		"session_id": "sess-1",
		"reason":     "caller hung up",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("call-ended status = %d", resp.StatusCode)
	}
	if ended["call_id"] != callID {
		t.Fatalf("call-ended body = %v", ended)
	}

	// Transcript stays readable after the call ends, served from the store.
	resp, transcript := getJSON(t, srv.URL+"/api/calls/"+callID+"/transcript")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transcript status = %d", resp.StatusCode)
	}
	turns, _ := transcript["turns"].([]any)
	if len(turns) != 1 {
		t.Fatalf("transcript turns = %v", transcript)
	}
}

func TestDuplicateSessionConflicts(t *testing.T) {
	srv := newTestServer(t)

	body := map[string]any{"session_id": "sess-dup", "caller_address": "+15550100"}
	if resp, _ := postJSON(t, srv.URL+"/telephony/call-started", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("first start status = %d", resp.StatusCode)
	}
	resp, _ := postJSON(t, srv.URL+"/telephony/call-started", body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate start status = %d, want 409", resp.StatusCode)
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/telephony/utterance", map[string]any{
		"session_id": "ghost",
		"text":       "hello",
		"confidence": 0.9,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTakeoverEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, started := postJSON(t, srv.URL+"/telephony/call-started", map[string]any{
		"session_id": "sess-t", "caller_address": "+15550100",
	})
	callID := started["call_id"].(string)

	resp, result := postJSON(t, srv.URL+"/api/calls/"+callID+"/takeover", map[string]any{
		"operator_id": "op-7",
		"reason":      "caller distressed",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("takeover status = %d", resp.StatusCode)
	}
	if ok, _ := result["success"].(bool); !ok {
		t.Fatalf("takeover body = %v", result)
	}
	if result["current_state"] != string(domain.StateHumanControlled) {
		t.Fatalf("takeover state = %v", result["current_state"])
	}

	resp, _ = postJSON(t, srv.URL+"/api/calls/"+callID+"/takeover", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing operator status = %d, want 400", resp.StatusCode)
	}
}

func TestListAndStatsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/telephony/call-started", map[string]any{
		"session_id": "sess-a", "caller_address": "+15550001",
	})
	postJSON(t, srv.URL+"/telephony/call-started", map[string]any{
		"session_id": "sess-b", "caller_address": "+15550002",
	})

	resp, list := getJSON(t, srv.URL+"/api/calls")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	calls, _ := list["calls"].([]any)
	if len(calls) != 2 {
		t.Fatalf("active calls = %v", list)
	}

	resp, stats := getJSON(t, srv.URL+"/api/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	if total, _ := stats["total_calls"].(float64); total != 2 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestRequestIDHeaderPresent(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}
