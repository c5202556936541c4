package redact

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/ir/semantic"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/render"
	"github.com/wudi/pdfredact/snapshot"
	"github.com/wudi/pdfredact/writer"
)

// Options configure a Redactor.
type Options struct {
	// Fill is the overlay colour; the zero value means DefaultFill.
	Fill color.NRGBA
	// DPI is the snapshot resolution; zero means render.DefaultDPI.
	DPI float64
	// Concurrency bounds simultaneous snapshot renders.
	Concurrency int
	Audit       AuditMode
	Sealer      *Sealer
	// Finalizer overrides capability detection.
	Finalizer Finalizer
	// Writer replaces the default writer, which refuses to publish a cover of
	// the job that was not flattened.
	Writer  writer.Writer
	Write   writer.Config
	Logger  observability.Logger
	Metrics observability.Metrics
	Tracer  observability.Tracer
}

// Job is one document to redact.
type Job struct {
	// Document identifies the job in errors and logs.
	Document string
	Source   *semantic.Document
	// SourcePath, when set, must differ from Output.
	SourcePath string
	Records    []Record
	Output     string
}

type Result struct {
	Records   []Record
	Output    string
	Finalizer string
}

type Redactor struct {
	store    snapshot.Store
	renderer *render.Renderer
	opts     Options
}

func NewRedactor(store snapshot.Store, opts Options) (*Redactor, error) {
	if store == nil {
		return nil, errors.New("redactor needs a snapshot store")
	}
	if opts.Fill.A == 0 {
		opts.Fill = DefaultFill
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Audit == "" {
		opts.Audit = AuditOmit
	}
	if opts.Audit != AuditOmit && opts.Audit != AuditSealed {
		return nil, fmt.Errorf("unknown audit mode %q", opts.Audit)
	}
	if opts.Audit == AuditSealed && opts.Sealer == nil {
		return nil, ErrAuditKey
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NopMetrics{}
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NopTracer()
	}
	return &Redactor{
		store:    store,
		renderer: render.New(render.Options{DPI: opts.DPI}),
		opts:     opts,
	}, nil
}

// Redact snapshots every record, covers it on a working copy, flattens the covers
// and publishes the copy at job.Output. Nothing is published and every snapshot
// written is released again when any step fails.
func (r *Redactor) Redact(ctx context.Context, job Job) (*Result, error) {
	ctx, span := r.opts.Tracer.StartSpan(ctx, "redact")
	defer span.Finish()
	start := time.Now()
	log := r.opts.Logger.With(observability.String("document", job.Document))

	res, err := r.redact(ctx, job, log)
	if err != nil {
		span.SetError(err)
		log.Error("redaction failed", observability.Error("error", err))
		return nil, Wrap(ErrRedaction, "redact", job.Document, "", err)
	}
	r.opts.Metrics.ObserveDuration(observability.MetricStageDuration, time.Since(start), observability.StageRedact)
	for _, rec := range res.Records {
		r.opts.Metrics.IncCounter(observability.MetricRegionsRedacted, 1, rec.Label)
	}
	log.Info("document redacted",
		observability.Int("regions", len(res.Records)),
		observability.String("finalizer", res.Finalizer),
		observability.Duration("took", time.Since(start)))
	return res, nil
}

func (r *Redactor) redact(ctx context.Context, job Job, log observability.Logger) (*Result, error) {
	if job.Source == nil {
		return nil, errors.New("no source document")
	}
	if job.Output == "" {
		return nil, errors.New("no output path")
	}
	if job.SourcePath != "" && samePath(job.SourcePath, job.Output) {
		return nil, fmt.Errorf("output %s would overwrite the source", job.Output)
	}
	seen := make(map[string]bool, len(job.Records))
	for _, rec := range job.Records {
		if !snapshot.ValidID(rec.ID) || seen[rec.ID] {
			return nil, &Error{Kind: ErrRedaction, Op: "validate", Region: rec.ID, Err: snapshot.ErrInvalidID}
		}
		seen[rec.ID] = true
		if _, err := job.Source.Page(rec.Page); err != nil {
			return nil, &Error{Kind: ErrRedaction, Op: "page", Region: rec.ID, Err: err}
		}
	}

	work, err := job.Source.Clone()
	if err != nil {
		return nil, fmt.Errorf("working copy: %w", err)
	}
	fin := r.opts.Finalizer
	if fin == nil {
		if fin, err = SelectFinalizer(work); err != nil {
			return nil, err
		}
	}
	log.Debug("finalizer selected", observability.String("finalizer", fin.Name()))

	records := append([]Record(nil), job.Records...)
	var (
		putMu sync.Mutex
		put   []snapshot.Handle
	)
	rollback := func(cause error) error {
		putMu.Lock()
		handles := append([]snapshot.Handle(nil), put...)
		putMu.Unlock()
		if len(handles) == 0 {
			return cause
		}
		if err := snapshot.Release(context.WithoutCancel(ctx), r.store, handles); err != nil {
			log.Error("snapshot rollback incomplete", observability.Error("error", err))
			return multierror.Append(cause, err)
		}
		log.Info("snapshots rolled back", observability.Int("count", len(handles)))
		return cause
	}

	if err := r.coverAll(ctx, job.Source, work, records, func(h snapshot.Handle) {
		putMu.Lock()
		put = append(put, h)
		putMu.Unlock()
	}); err != nil {
		return nil, rollback(err)
	}

	finStart := time.Now()
	for _, n := range pagesOf(records) {
		if err := ctx.Err(); err != nil {
			return nil, rollback(err)
		}
		page, _ := work.Page(n)
		count, err := fin.Finalize(ctx, page)
		if err != nil {
			return nil, rollback(&Error{Kind: ErrRedaction, Op: "finalize " + fin.Name(), Err: fmt.Errorf("page %d: %w", n, err)})
		}
		log.Debug("page finalized", observability.Int("page", n), observability.Int("overlays", count))
	}
	r.opts.Metrics.ObserveDuration(observability.MetricStageDuration, time.Since(finStart), observability.StageFinalize)

	w := r.opts.Writer
	if w == nil {
		w = (&writer.WriterBuilder{}).WithInterceptor(flattenGuard{ids: seen}).Build()
	}
	writeStart := time.Now()
	if err := writer.WriteFile(ctx, w, work.Raw, job.Output, r.opts.Write); err != nil {
		return nil, rollback(fmt.Errorf("publish: %w", err))
	}
	r.opts.Metrics.ObserveDuration(observability.MetricStageDuration, time.Since(writeStart), observability.StageWrite)
	return &Result{Records: records, Output: job.Output, Finalizer: fin.Name()}, nil
}

// coverAll renders and stores every snapshot concurrently, then adds the overlay
// annotations to work in record order so that later records paint on top.
func (r *Redactor) coverAll(ctx context.Context, src, work *semantic.Document, records []Record, stored func(snapshot.Handle)) error {
	annots := make([]*raw.DictObj, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i := range records {
		rec := &records[i]
		g.Go(func() error {
			page, _ := src.Page(rec.Page)
			img, err := r.renderer.RenderRegion(gctx, page, rec.BBox)
			if err != nil {
				return &Error{Kind: ErrRedaction, Op: "render", Region: rec.ID, Err: err}
			}
			h, err := r.store.Put(gctx, rec.ID, img)
			if err != nil {
				return &Error{Kind: ErrRedaction, Op: "snapshot", Region: rec.ID, Err: err}
			}
			stored(h)
			rec.Snapshot = h
			r.opts.Metrics.IncCounter(observability.MetricSnapshotsPut, 1, "")

			wp, _ := work.Page(rec.Page)
			annots[i], err = r.overlayAnnotation(*rec, wp)
			if err != nil {
				return &Error{Kind: ErrRedaction, Op: "overlay", Region: rec.ID, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, rec := range records {
		wp, _ := work.Page(rec.Page)
		wp.AddAnnotation(annots[i])
	}
	return nil
}

func (r *Redactor) overlayAnnotation(rec Record, page *semantic.Page) (*raw.DictObj, error) {
	ext := Extension{ID: rec.ID, BBox: rec.BBox}
	if r.opts.Audit == AuditSealed && rec.Text != "" {
		sealed, err := r.opts.Sealer.Seal(rec.ID, rec.Text)
		if err != nil {
			return nil, err
		}
		ext.Audit = sealed
	}
	user := page.ToUser(rec.BBox)
	return raw.Dict().
		Put("Type", raw.NameLiteral("Annot")).
		Put("Subtype", raw.NameLiteral("Redact")).
		Put("Rect", raw.Rect(user.X0, user.Y0, user.X1, user.Y1)).
		Put("IC", raw.NewArray(fillOperands(r.opts.Fill)...)).
		Put("F", raw.NumberInt(4)).
		Put(ExtensionKey, ext.Dict()), nil
}

func pagesOf(records []Record) []int {
	seen := make(map[int]bool)
	var out []int
	for _, rec := range records {
		if !seen[rec.Page] {
			seen[rec.Page] = true
			out = append(out, rec.Page)
		}
	}
	sort.Ints(out)
	return out
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return filepath.Clean(aa) == filepath.Clean(bb)
}
