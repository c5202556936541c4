package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/pipeline"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/snapshot"
)

var (
	gcSchedule bool
	gcRelease  []string
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Expire or release stored snapshots",
	Long: `gc removes snapshots older than the configured retention. With --schedule it keeps
running and sweeps on the configured cron schedule. With --release it drops every
snapshot the given manifests reference, which retires their restoration for good.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		store, closeStore, err := pipeline.OpenStore(ctx, cfg.Snapshot)
		if err != nil {
			return err
		}
		defer closeStore()

		if len(gcRelease) > 0 {
			return releaseManifests(ctx, cmd, store, gcRelease)
		}

		sweeper, ok := store.(snapshot.Sweeper)
		if !ok {
			printf(cmd, "%s backend expires snapshots itself (ttl %s)\n", cfg.Snapshot.Backend, cfg.Snapshot.TTL)
			return nil
		}
		if err := serveMetrics(ctx, cfg.MetricsAddr); err != nil {
			return err
		}
		gc := snapshot.NewGC(sweeper, snapshot.GCOptions{
			TTL:     cfg.Snapshot.TTL,
			Backend: cfg.Snapshot.Backend,
			Logger:  logger,
			Metrics: metrics,
		})
		if !gcSchedule {
			n, err := gc.RunOnce(ctx)
			if err != nil {
				return err
			}
			printf(cmd, "removed %d snapshots\n", n)
			return nil
		}

		c, err := gc.Schedule(ctx, cfg.Snapshot.SweepSchedule)
		if err != nil {
			return err
		}
		logger.Info("sweeper scheduled", observability.String("schedule", cfg.Snapshot.SweepSchedule))
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	},
}

func releaseManifests(ctx context.Context, cmd *cobra.Command, store snapshot.Store, paths []string) error {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		m, err := redact.ReadManifest(f, pipeline.MaxManifestSize)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := snapshot.Release(ctx, store, m.Handles()); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		printf(cmd, "%s: released %d snapshots\n", path, len(m.Records))
	}
	return nil
}

func init() {
	gcCmd.Flags().BoolVar(&gcSchedule, "schedule", false, "keep running and sweep on snapshot.sweep_schedule")
	gcCmd.Flags().StringSliceVar(&gcRelease, "release", nil, "manifest whose snapshots are released")
	rootCmd.AddCommand(gcCmd)
}
