package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eternallink/arlink/internal/cache"
	"github.com/eternallink/arlink/internal/config"
	"github.com/eternallink/arlink/internal/database"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the API and the local video cache",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	var mu sync.Mutex
	report := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format+"\n", args...)
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		if err := app.client.Healthcheck(ctx); err != nil {
			report("api:   FAIL %v", err)
			return err
		}
		report("api:   ok")
		return nil
	})
	g.Go(func() error {
		return checkCache(ctx, report)
	})
	return g.Wait()
}

func checkCache(ctx context.Context, report func(string, ...any)) error {
	cc := config.GetCacheConfig()
	if cc.Type == "memory" {
		report("cache: ok (memory)")
		return nil
	}

	m := database.NewManager(cc, app.zlog.With().Str("component", "cache").Logger())
	if err := m.Connect(); err != nil {
		report("cache: FAIL %v", err)
		return err
	}
	defer func() { _ = m.Close() }()

	store, err := cache.NewDBStore(m.DB, m.Logger)
	if err != nil {
		report("cache: FAIL %v", err)
		return err
	}
	count, size, err := store.Stats(ctx)
	if err != nil {
		report("cache: FAIL %v", err)
		return err
	}
	report("cache: ok (%s, %d videos, %d bytes)", m.Backend, count, size)
	return nil
}
