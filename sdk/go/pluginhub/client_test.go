package pluginhub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"PluginHub/internal/api"
	"PluginHub/internal/auth"
	"PluginHub/internal/journal"
	"PluginHub/pkg/plugin"
)

func newHub(t *testing.T) (*Client, *plugin.Manager) {
	t.Helper()
	mem := journal.NewMemoryJournal(16)
	m, err := plugin.NewManager(plugin.ManagerConfig{Name: "hub"},
		plugin.WithObserver(journal.NewRecorder(mem, 0)),
		plugin.WithPlugin("core", plugin.NewBase("core")),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	srv := httptest.NewServer(api.NewServer(":0", m, api.WithEventReader(mem)).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, srv.Client()), m
}

func TestClientLifecycle(t *testing.T) {
	ctx := context.Background()
	client, m := newHub(t)

	ok, err := client.Init(ctx, "app.name=hub")
	if err != nil || !ok {
		t.Fatalf("init: ok=%v err=%v", ok, err)
	}

	if outcome, err := client.Execute(ctx, "core", "model"); err != nil || outcome != plugin.OutcomeFailed {
		t.Fatalf("execute while disabled: outcome=%s err=%v", outcome, err)
	}
	if outcome, err := client.Activate(ctx, "core"); err != nil || outcome != plugin.OutcomeSucceeded {
		t.Fatalf("activate: outcome=%s err=%v", outcome, err)
	}
	if outcome, err := client.Execute(ctx, "core"); err != nil || outcome != plugin.OutcomeSucceeded {
		t.Fatalf("execute: outcome=%s err=%v", outcome, err)
	}
	if outcome, err := client.Deactivate(ctx, "missing"); err != nil || outcome != plugin.OutcomeNotFound {
		t.Fatalf("deactivate missing: outcome=%s err=%v", outcome, err)
	}

	statuses, err := client.Plugins(ctx)
	if err != nil {
		t.Fatalf("plugins: %v", err)
	}
	if len(statuses) != 2 || statuses[1].State != plugin.StateEnabled {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
	if core, _ := m.Plugin("core"); core.State() != plugin.StateEnabled {
		t.Fatalf("server side state not updated")
	}

	events, err := client.Events(ctx, 2)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].Plugin != "missing" || events[0].Outcome != plugin.OutcomeNotFound {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestClientReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/events" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected request: %s", r.URL)
		}
		http.Error(w, "事件日志不可读", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client()).Events(context.Background(), 5)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Message != "事件日志不可读" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestClientEscapesPluginID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/v1/plugins/a%20b/activate" {
			t.Errorf("unexpected path: %s", r.URL.EscapedPath())
		}
		_ = json.NewEncoder(w).Encode(OperationResult{Plugin: "a b", Operation: "activate", Outcome: plugin.OutcomeSucceeded})
	}))
	defer srv.Close()

	outcome, err := NewClient(srv.URL, srv.Client()).Activate(context.Background(), "a b")
	if err != nil || outcome != plugin.OutcomeSucceeded {
		t.Fatalf("activate: outcome=%s err=%v", outcome, err)
	}
}

func TestClientAccessToken(t *testing.T) {
	m, err := plugin.NewManager(plugin.ManagerConfig{Name: "hub"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	guard := auth.NewGuard(auth.Config{Tokens: []string{"s3cret"}})
	srv := httptest.NewServer(api.NewServer(":0", m, api.WithAuth(guard)).Handler())
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, srv.Client())
	_, err = client.Plugins(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 api error, got %v", err)
	}

	client.SetAccessToken("s3cret")
	statuses, err := client.Plugins(context.Background())
	if err != nil {
		t.Fatalf("plugins with token: %v", err)
	}
	if len(statuses) != 1 || statuses[0].ID != "hub" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}
