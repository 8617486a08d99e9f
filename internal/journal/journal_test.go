package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	xerrors "PluginHub/internal/errors"
	"PluginHub/pkg/plugin"
)

func sampleEvent(i int) plugin.Event {
	return plugin.Event{
		ID:          fmt.Sprintf("evt-%d", i),
		RunID:       "run-1",
		Coordinator: "hub",
		Plugin:      "greeter",
		Kind:        plugin.EventActivate,
		Outcome:     plugin.OutcomeSucceeded,
		State:       plugin.StateEnabled,
		Duration:    time.Millisecond,
		OccurredAt:  time.Unix(1700000000+int64(i), 0).UTC(),
	}
}

func TestMemoryJournalKeepsNewestFirst(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal(3)
	for i := 0; i < 5; i++ {
		if err := j.Append(ctx, sampleEvent(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := j.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	want := []string{"evt-4", "evt-3", "evt-2"}
	if len(all) != len(want) {
		t.Fatalf("unexpected events: %+v", all)
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Fatalf("event %d: got %s want %s", i, all[i].ID, id)
		}
	}

	two, _ := j.Recent(ctx, 2)
	if len(two) != 2 || two[0].ID != "evt-4" {
		t.Fatalf("unexpected limited events: %+v", two)
	}
}

func TestMemoryJournalPartiallyFilled(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal(0)
	_ = j.Append(ctx, sampleEvent(1))
	got, _ := j.Recent(ctx, 10)
	if len(got) != 1 || got[0].ID != "evt-1" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

type failingSink struct {
	appends int
	closed  bool
}

func (f *failingSink) Name() string { return "failing" }
func (f *failingSink) Append(context.Context, plugin.Event) error {
	f.appends++
	return errors.New("broker down")
}
func (f *failingSink) Close() error {
	f.closed = true
	return errors.New("close failed")
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	bad := &failingSink{}
	mem := NewMemoryJournal(4)
	sink := Fanout(bad, nil, mem)

	err := sink.Append(ctx, sampleEvent(1))
	if err == nil || !strings.Contains(err.Error(), "sink failing") {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
	got, _ := mem.Recent(ctx, 0)
	if len(got) != 1 {
		t.Fatalf("memory sink missed the event: %+v", got)
	}
	if sink.Name() != "fanout(failing,memory)" {
		t.Fatalf("unexpected name %q", sink.Name())
	}
	if err := sink.Close(); err == nil || !bad.closed {
		t.Fatalf("expected close to reach every sink, err=%v", err)
	}
}

func TestRecorderSwallowsSinkErrors(t *testing.T) {
	bad := &failingSink{}
	rec := NewRecorder(bad, 0)
	rec.Observe(context.Background(), sampleEvent(1))
	if bad.appends != 1 {
		t.Fatalf("expected one append, got %d", bad.appends)
	}
}

func TestRecorderAsManagerObserver(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryJournal(16)
	m, err := plugin.NewManager(plugin.ManagerConfig{Name: "hub"},
		plugin.WithObserver(NewRecorder(mem, time.Second)),
		plugin.WithPlugin("core", plugin.NewBase("core")),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if got := m.ActivatePlugin(ctx, "core"); !got.OK() {
		t.Fatalf("activate: %s", got)
	}
	events, _ := mem.Recent(ctx, 1)
	if len(events) != 1 || events[0].Plugin != "core" || events[0].Kind != plugin.EventActivate {
		t.Fatalf("unexpected journal contents: %+v", events)
	}
	if events[0].Coordinator != "hub" || events[0].State != plugin.StateEnabled {
		t.Fatalf("unexpected envelope: %+v", events[0])
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to memory", func(t *testing.T) {
		sink, reader, err := Open(ctx, Config{})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer sink.Close()
		if sink.Name() != DriverMemory || reader == nil {
			t.Fatalf("unexpected sink %s reader=%v", sink.Name(), reader)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := Open(ctx, Config{Drivers: []string{"memory", "kafka"}})
		if xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("missing redis address", func(t *testing.T) {
		_, _, err := Open(ctx, Config{Drivers: []string{"redis"}})
		if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
