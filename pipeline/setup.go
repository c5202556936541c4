package pipeline

import (
	"context"
	"fmt"

	"github.com/wudi/pdfredact/classify"
	"github.com/wudi/pdfredact/config"
	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/ocr"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/snapshot"
	"github.com/wudi/pdfredact/writer"
)

// OpenStore builds the configured snapshot backend. close releases its
// connections.
func OpenStore(ctx context.Context, cfg config.SnapshotConfig) (snapshot.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "memory":
		return snapshot.NewMemoryStore(), noop, nil
	case "file", "":
		fs, err := snapshot.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fs, noop, nil
	case "redis":
		rc := snapshot.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.TTL,
		}
		client, err := snapshot.NewRedisClient(ctx, rc)
		if err != nil {
			return nil, nil, err
		}
		return snapshot.NewRedisStore(client, rc), client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
}

// BuildClassifier combines the enabled classifiers. A single one is returned
// unwrapped.
func BuildClassifier(cfg config.ClassifierConfig, log observability.Logger) (classify.Classifier, error) {
	var all classify.Composite
	if cfg.Rules {
		rc, err := classify.NewRuleClassifier(classify.DefaultRules(), 0)
		if err != nil {
			return nil, err
		}
		all = append(all, rc)
	}
	if cfg.NERURL != "" {
		opts := []classify.NEROption{}
		if cfg.NERTimeout > 0 {
			opts = append(opts, classify.WithNERTimeout(cfg.NERTimeout))
		}
		if cfg.NERFailOpen {
			opts = append(opts, classify.WithFailOpen(log))
		}
		all = append(all, classify.NewNERClient(cfg.NERURL, opts...))
	}
	if cfg.Script != "" {
		sc, err := classify.LoadScript(cfg.Script)
		if err != nil {
			return nil, err
		}
		all = append(all, sc)
	}
	switch len(all) {
	case 0:
		return nil, fmt.Errorf("no classifier enabled")
	case 1:
		return all[0], nil
	}
	return all, nil
}

// FromConfig assembles a Service from loaded settings. The OCR fallback uses
// ocr.DefaultEngine, so binaries link an engine package to enable it.
func FromConfig(ctx context.Context, cfg *config.Config, log observability.Logger, metrics observability.Metrics) (*Service, func() error, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	fill, err := cfg.FillColor()
	if err != nil {
		return nil, nil, err
	}
	var sealer *redact.Sealer
	if cfg.Audit.Mode == string(redact.AuditSealed) {
		if sealer, err = redact.NewSealer([]byte(cfg.Audit.Secret)); err != nil {
			return nil, nil, err
		}
	}
	classifier, err := BuildClassifier(cfg.Classifier, log)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := OpenStore(ctx, cfg.Snapshot)
	if err != nil {
		return nil, nil, err
	}
	var engine ocr.Engine
	if cfg.OCR.Enabled {
		engine = ocr.DefaultEngine()
	}
	ext := extractor.New(extractor.Options{
		Engine:        engine,
		OCRDPI:        cfg.OCR.DPI,
		Languages:     cfg.OCR.Languages,
		MinConfidence: cfg.OCR.MinConfidence,
		PageSegMode:   ocr.PageSegMode(cfg.OCR.PageSegMode),
		CharWhitelist: cfg.OCR.CharWhitelist,
		Logger:        log,
		Metrics:       metrics,
	})
	write := writer.Config{Compression: 6}
	svc, err := New(Options{
		Classifier: classifier,
		Extractor:  ext,
		Store:      store,
		Threshold:  cfg.Threshold,
		OutputDir:  cfg.OutputDir,
		Redact: redact.Options{
			Fill:        fill,
			DPI:         cfg.DPI,
			Concurrency: cfg.Concurrency,
			Audit:       redact.AuditMode(cfg.Audit.Mode),
			Sealer:      sealer,
			Write:       write,
		},
		Restore: redact.RestoreOptions{Write: write},
		Logger:  log,
		Metrics: metrics,
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return svc, closeStore, nil
}
