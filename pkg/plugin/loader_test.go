package plugin

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestGoPluginLoaderErrors(t *testing.T) {
	var loader GoPluginLoader
	if _, err := loader.Load(""); err == nil {
		t.Fatalf("expected empty path to be rejected")
	}
	if _, err := loader.Load(filepath.Join(t.TempDir(), "missing.so")); err == nil {
		t.Fatalf("expected missing shared object to fail")
	}
}

func TestResolveSymbol(t *testing.T) {
	direct := NewBase("direct")
	var exported Plugin = NewBase("exported")
	var nilExported Plugin

	cases := []struct {
		name    string
		symbol  any
		wantErr string
	}{
		{"pointer to interface", &exported, ""},
		{"constructor", func() Plugin { return direct }, ""},
		{"value", direct, ""},
		{"nil pointer target", &nilExported, "nil"},
		{"nil constructor result", func() Plugin { return nil }, "returned nil"},
		{"wrong type", 42, "must implement"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := resolveSymbol(tc.symbol)
			if tc.wantErr == "" {
				if err != nil || p == nil {
					t.Fatalf("resolve: p=%v err=%v", p, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
