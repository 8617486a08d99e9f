package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"PluginHub/internal/api"
	"PluginHub/internal/journal"
	"PluginHub/pkg/plugin"
	"PluginHub/sdk/go/pluginhub"
)

func main() {
	mem := journal.NewMemoryJournal(32)
	manager, err := plugin.NewManager(plugin.DefaultManagerConfig(),
		plugin.WithObserver(journal.NewRecorder(mem, time.Second)),
		plugin.WithPlugin("demo", plugin.NewBase("demo")),
	)
	if err != nil {
		panic(err)
	}

	srv := httptest.NewServer(api.NewServer(":0", manager, api.WithEventReader(mem)).Handler())
	defer srv.Close()

	client := pluginhub.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := client.Init(ctx, "app.name=demo")
	if err != nil {
		panic(err)
	}
	fmt.Printf("init fan-out ok=%v\n", ok)

	outcome, err := client.Activate(ctx, "demo")
	if err != nil {
		panic(err)
	}
	fmt.Printf("activate demo: %s\n", outcome)

	outcome, err = client.Execute(ctx, "demo", map[string]any{"id": 1})
	if err != nil {
		panic(err)
	}
	fmt.Printf("execute demo: %s\n", outcome)

	events, err := client.Events(ctx, 10)
	if err != nil {
		panic(err)
	}
	for _, ev := range events {
		fmt.Printf("%s %-10s %-6s %s\n", ev.OccurredAt.Format(time.RFC3339), ev.Kind, ev.Plugin, ev.Outcome)
	}
}
