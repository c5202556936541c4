package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/pipeline"
)

var watchSettle time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Redact PDFs as they appear in a directory",
	Long: `watch redacts every PDF created or rewritten in dir once it has been quiet for
--settle. Outputs go to the configured output directory, or next to the input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		if err := serveMetrics(ctx, cfg.MetricsAddr); err != nil {
			return err
		}
		svc, closeStore, err := pipeline.FromConfig(ctx, cfg, logger, metrics)
		if err != nil {
			return err
		}
		defer closeStore()

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(args[0]); err != nil {
			return fmt.Errorf("watch %s: %w", args[0], err)
		}
		logger.Info("watching", observability.String("dir", args[0]))

		ready := make(chan string, 16)
		d := newDebouncer(watchSettle, ready)
		defer d.stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
					if wantsRedaction(ev.Name) {
						d.touch(ev.Name)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Error("watcher error", observability.Error("error", err))
			case path := <-ready:
				redactOne(ctx, cmd, svc, path)
			}
		}
	},
}

func redactOne(ctx context.Context, cmd *cobra.Command, svc *pipeline.Service, path string) {
	res, err := svc.RedactFile(ctx, path)
	if err != nil {
		logger.Error("redaction failed", observability.String("input", path), observability.Error("error", err))
		return
	}
	printf(cmd, "%s -> %s (%d regions)\n", path, res.Output, len(res.Manifest.Records))
}

func wantsRedaction(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.EqualFold(filepath.Ext(base), ".pdf") {
		return false
	}
	return !isOutput(path)
}

// debouncer emits a path once no event touched it for the settle delay.
type debouncer struct {
	mu     sync.Mutex
	delay  time.Duration
	timers map[string]*time.Timer
	out    chan<- string
	done   chan struct{}
}

func newDebouncer(delay time.Duration, out chan<- string) *debouncer {
	return &debouncer{delay: delay, timers: make(map[string]*time.Timer), out: out, done: make(chan struct{})}
}

func (d *debouncer) touch(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[path]; ok {
		t.Reset(d.delay)
		return
	}
	d.timers[path] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, path)
		d.mu.Unlock()
		select {
		case d.out <- path:
		case <-d.done:
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.timers {
		t.Stop()
	}
	close(d.done)
}

func init() {
	watchCmd.Flags().DurationVar(&watchSettle, "settle", time.Second, "quiet period before a file is processed")
	rootCmd.AddCommand(watchCmd)
}
