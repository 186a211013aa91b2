package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"dixis-gateway/config"
	"dixis-gateway/gateway"
	"dixis-gateway/middleware/ratelimit/domain"
	"dixis-gateway/middleware/ratelimit/infra"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newRateLimitCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect or reset rate limit windows in the shared store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <key>",
		Short: "Show the current window for a client key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWindowStore(cmd.Context(), root, func(ctx context.Context, cfg *config.Config, store domain.WindowStore) error {
				c, ok, err := store.Peek(ctx, domain.Key(args[0]))
				if err != nil {
					return err
				}
				renderWindow(cmd.OutOrStdout(), args[0], cfg.RateLimit.Limit, c, ok)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <key>",
		Short: "Delete the current window for a client key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWindowStore(cmd.Context(), root, func(ctx context.Context, _ *config.Config, store domain.WindowStore) error {
				if err := store.Reset(ctx, domain.Key(args[0])); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "window reset for %s\n", args[0])
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats [key]",
		Short: "Show recorded decision stats (total, per route, optionally per key)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			}
			return withRedis(cmd.Context(), root, func(ctx context.Context, cfg *config.Config, rdb *redis.Client) error {
				stats := infra.NewRedisStatsStore(rdb, infra.WithStatsPrefix(cfg.RateLimit.Stats.Prefix))
				snap, err := stats.Snapshot(ctx, domain.Key(key))
				if err != nil {
					return err
				}
				renderStats(cmd.OutOrStdout(), key, snap)
				return nil
			})
		},
	})
	return cmd
}

func withWindowStore(ctx context.Context, root *rootOptions, fn func(context.Context, *config.Config, domain.WindowStore) error) error {
	return withRedis(ctx, root, func(ctx context.Context, cfg *config.Config, rdb *redis.Client) error {
		return fn(ctx, cfg, infra.NewRedisWindowStore(rdb, infra.WithWindowPrefix(cfg.RateLimit.Prefix)))
	})
}

func withRedis(ctx context.Context, root *rootOptions, fn func(context.Context, *config.Config, *redis.Client) error) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if cfg.RateLimit.Store != config.StoreRedis {
		return errors.New("ratelimit commands need rate_limit.store=redis (memory windows live inside the server process)")
	}

	rdb, err := gateway.NewRedisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return fn(ctx, cfg, rdb)
}

func renderWindow(w io.Writer, key string, limit int, c domain.Counter, found bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Key", "Count", "Limit", "Remaining", "Resets At"})
	if !found {
		t.AppendRow(table.Row{key, 0, limit, limit, "-"})
	} else {
		t.AppendRow(table.Row{
			key,
			c.Count,
			limit,
			max(int64(limit)-c.Count, 0),
			c.ResetAt.UTC().Format(time.RFC3339),
		})
	}
	t.Render()
}

func renderStats(w io.Writer, key string, snap infra.StatsSnapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Scope", "Allowed", "Denied", "Degraded"})

	row := func(scope string, c infra.Counters) {
		t.AppendRow(table.Row{scope, c.Allowed, c.Denied, c.Degraded})
	}
	row("total", snap.Total)

	routes := make([]string, 0, len(snap.Routes))
	for r := range snap.Routes {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	for _, r := range routes {
		row(r, snap.Routes[r])
	}
	if snap.Key != nil {
		row("key "+key, *snap.Key)
	}
	t.Render()
}
