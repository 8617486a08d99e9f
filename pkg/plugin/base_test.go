package plugin

import (
	"context"
	"errors"
	"net/url"
	"testing"
)

func TestNewBaseStartsDisabled(t *testing.T) {
	b := NewBase("fresh")
	if got := b.State(); got != StateDisabled {
		t.Fatalf("unexpected state: got %s want %s", got, StateDisabled)
	}
	ok, err := b.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ok {
		t.Fatalf("expected execute to be skipped before activation")
	}
}

func TestZeroBaseIsUninitialized(t *testing.T) {
	var b Base
	if got := b.State(); got != StateUninitialized {
		t.Fatalf("unexpected state: got %s", got)
	}
	if ok, _ := b.Execute(context.Background(), "model"); ok {
		t.Fatalf("uninitialized plugin must not execute")
	}
	if b.Name() != "plugin" {
		t.Fatalf("unexpected default name %q", b.Name())
	}
}

func TestBaseActivateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewBase("twice")
	for i := 0; i < 2; i++ {
		ok, err := b.Activate(ctx)
		if err != nil || !ok {
			t.Fatalf("activate #%d: ok=%v err=%v", i+1, ok, err)
		}
		if b.State() != StateEnabled {
			t.Fatalf("activate #%d left state %s", i+1, b.State())
		}
	}
	if ok, _ := b.Execute(ctx); !ok {
		t.Fatalf("expected execute to run once enabled")
	}
}

func TestBaseInitRecordsInitialization(t *testing.T) {
	b := NewBase("init")
	ok, err := b.Init(context.Background(), nil, "a=b", Setting{Key: "c", Value: "d"})
	if err != nil || !ok {
		t.Fatalf("init: ok=%v err=%v", ok, err)
	}
	if !b.Initialized() {
		t.Fatalf("expected Initialized to report true")
	}
	if b.State() != StateDisabled {
		t.Fatalf("init must not change state, got %s", b.State())
	}
}

func TestBaseRunGate(t *testing.T) {
	ctx := context.Background()
	b := NewBase("gate")
	calls := 0
	work := func(context.Context, []Value) error {
		calls++
		return nil
	}

	if ok, _ := b.Run(ctx, nil, work); ok || calls != 0 {
		t.Fatalf("disabled run: ok=%v calls=%d", ok, calls)
	}

	_, _ = b.Activate(ctx)
	if ok, _ := b.Run(ctx, []Value{"m"}, work); !ok || calls != 1 {
		t.Fatalf("enabled run: ok=%v calls=%d", ok, calls)
	}

	boom := errors.New("boom")
	ok, err := b.Run(ctx, nil, func(context.Context, []Value) error { return boom })
	if ok || !errors.Is(err, boom) {
		t.Fatalf("expected work error to surface, ok=%v err=%v", ok, err)
	}

	_, _ = b.Deactivate(ctx)
	if ok, _ := b.Run(ctx, nil, work); ok || calls != 1 {
		t.Fatalf("deactivated run: ok=%v calls=%d", ok, calls)
	}
}

func TestSettings(t *testing.T) {
	got := Settings(
		nil,
		"service.name=cool plugin",
		"not-a-setting",
		Setting{Key: "region", Value: "eu"},
		&Setting{Key: "service.name", Value: "override"},
		42,
		"=missing-key",
		(*url.URL)(nil),
		(*Setting)(nil),
		map[string]string(nil),
	)
	if len(got) != 2 {
		t.Fatalf("unexpected settings: %v", got)
	}
	if got["service.name"] != "override" {
		t.Fatalf("later entries should win, got %q", got["service.name"])
	}
	if got["region"] != "eu" {
		t.Fatalf("unexpected region %q", got["region"])
	}
}

func TestAbsent(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"nil", nil, true},
		{"typed nil pointer", (*url.URL)(nil), true},
		{"nil slice", []string(nil), true},
		{"nil func", (func())(nil), true},
		{"empty string", "", false},
		{"zero int", 0, false},
		{"setting", Setting{Key: "k"}, false},
		{"pointer", &url.URL{Host: "example.com"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Absent(tc.v); got != tc.want {
				t.Fatalf("Absent(%#v) = %v, want %v", tc.v, got, tc.want)
			}
		})
	}
}

func TestBaseInitSkipsTypedNilConfigs(t *testing.T) {
	b := NewBase("typed-nil")
	ok, err := b.Init(context.Background(), (*url.URL)(nil), "a=b")
	if err != nil || !ok {
		t.Fatalf("init: ok=%v err=%v", ok, err)
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []State{StateUninitialized, StateEnabled, StateDisabled} {
		raw, err := s.MarshalText()
		if err != nil {
			t.Fatalf("marshal %s: %v", s, err)
		}
		var back State
		if err := back.UnmarshalText(raw); err != nil {
			t.Fatalf("unmarshal %q: %v", raw, err)
		}
		if back != s {
			t.Fatalf("round trip mismatch: got %s want %s", back, s)
		}
	}
	if _, err := ParseState("paused"); err == nil {
		t.Fatalf("expected unknown state to be rejected")
	}
}
