package redact

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/wudi/pdfredact/builder"
	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/ir/semantic"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/snapshot"
	"github.com/wudi/pdfredact/writer"
)

type RestoreOptions struct {
	Writer  writer.Writer
	Write   writer.Config
	Logger  observability.Logger
	Metrics observability.Metrics
	Tracer  observability.Tracer
}

type RestoreJob struct {
	Document   string
	Source     *semantic.Document
	SourcePath string
	Manifest   *Manifest
	Output     string
}

// RestoreResult lists overlay ids by outcome.
type RestoreResult struct {
	Output    string
	Restored  []string
	Untouched []string
}

type Restorer struct {
	store snapshot.Store
	opts  RestoreOptions
}

func NewRestorer(store snapshot.Store, opts RestoreOptions) (*Restorer, error) {
	if store == nil {
		return nil, errors.New("restorer needs a snapshot store")
	}
	if opts.Writer == nil {
		opts.Writer = writer.New()
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
	return &Restorer{store: store, opts: opts}, nil
}

// Restore replaces every overlay whose id the manifest lists, and whose snapshot
// resolves, by that snapshot stretched over the overlay's box. All other overlays
// stay as they are. The source document is never modified.
func (r *Restorer) Restore(ctx context.Context, job RestoreJob) (*RestoreResult, error) {
	ctx, span := r.opts.Tracer.StartSpan(ctx, "restore")
	defer span.Finish()
	start := time.Now()
	log := r.opts.Logger.With(observability.String("document", job.Document))

	fail := func(op string, err error) (*RestoreResult, error) {
		span.SetError(err)
		log.Error("restore failed", observability.String("op", op), observability.Error("error", err))
		return nil, Wrap(ErrRestore, op, job.Document, "", err)
	}
	if job.Manifest == nil {
		return fail("manifest", fmt.Errorf("%w: no manifest", ErrInvalidManifest))
	}
	if err := job.Manifest.Validate(); err != nil {
		return fail("manifest", err)
	}
	if job.Source == nil || job.Output == "" {
		return fail("validate", errors.New("source document and output path are required"))
	}
	if job.SourcePath != "" && samePath(job.SourcePath, job.Output) {
		return fail("validate", fmt.Errorf("output %s would overwrite the source", job.Output))
	}

	work, err := job.Source.Clone()
	if err != nil {
		return fail("clone", err)
	}
	res := &RestoreResult{Output: job.Output}
	for _, page := range work.Pages {
		if err := ctx.Err(); err != nil {
			return fail("restore", err)
		}
		if err := r.restorePage(ctx, page, job.Manifest, res, log); err != nil {
			return fail("restore", err)
		}
	}
	if err := writer.WriteFile(ctx, r.opts.Writer, work.Raw, job.Output, r.opts.Write); err != nil {
		return fail("publish", err)
	}

	r.opts.Metrics.IncCounter(observability.MetricRegionsRestored, float64(len(res.Restored)))
	r.opts.Metrics.IncCounter(observability.MetricRegionsUntouched, float64(len(res.Untouched)))
	r.opts.Metrics.ObserveDuration(observability.MetricStageDuration, time.Since(start), observability.StageRestore)
	log.Info("document restored",
		observability.Int("restored", len(res.Restored)),
		observability.Int("untouched", len(res.Untouched)),
		observability.Duration("took", time.Since(start)))
	return res, nil
}

// snapshotFor resolves the image for an overlay, or returns nil to leave it untouched.
// Only a cancelled context is an error.
func (r *Restorer) snapshotFor(ctx context.Context, site overlaySite, m *Manifest, log observability.Logger) (image.Image, error) {
	if site.Err != nil {
		log.Warn("overlay metadata invalid", observability.Int("page", site.Page), observability.Error("error", site.Err))
		return nil, nil
	}
	rec, ok := m.Lookup(site.Ext.ID)
	if !ok {
		return nil, nil
	}
	if rec.Page != site.Page {
		log.Warn("manifest page mismatch", observability.String("region", rec.ID), observability.Int("page", site.Page))
		return nil, nil
	}
	img, err := r.store.Get(ctx, rec.Snapshot)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn("snapshot unavailable", observability.String("region", rec.ID), observability.Error("error", err))
		return nil, nil
	}
	return img, nil
}

func (r *Restorer) restorePage(ctx context.Context, page *semantic.Page, m *Manifest, res *RestoreResult, log observability.Logger) error {
	sites, ops, scanErr := scanPage(ctx, page)
	if scanErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("page content unreadable; content overlays left in place", observability.Int("page", page.Number), observability.Error("error", scanErr))
	}
	if len(sites) == 0 {
		return nil
	}

	replace := make(map[int]overlaySite)
	held := make(map[int]overlaySite)
	var appended []contentstream.Operation
	for _, site := range sites {
		img, err := r.snapshotFor(ctx, site, m, log)
		if err != nil {
			return err
		}
		if img == nil {
			res.Untouched = append(res.Untouched, site.Ext.ID)
			if site.Kind != OverlayPending {
				held[site.start] = site
			}
			continue
		}
		draw := drawSnapshot(page, site.Ext, img)
		if site.Kind == OverlayPending {
			page.RemoveAnnotation(*site.annot.Ref)
			appended = append(appended, draw...)
		} else {
			site.drawOps = draw
			replace[site.start] = site
		}
		res.Restored = append(res.Restored, site.Ext.ID)
	}
	if len(replace) == 0 && len(appended) == 0 {
		return nil
	}
	if ops == nil {
		page.AppendContents(contentstream.Serialize(appended))
		return nil
	}

	// Covers left in place move behind every restored snapshot: a snapshot
	// overlapping a withheld region must never paint over its cover.
	out := make([]contentstream.Operation, 0, len(ops)+len(appended))
	var covers []contentstream.Operation
	for i := 0; i < len(ops); i++ {
		if site, ok := replace[i]; ok {
			out = append(out, site.drawOps...)
			i = site.end
			continue
		}
		if site, ok := held[i]; ok {
			covers = append(covers, contentstream.Op("q"))
			covers = append(covers, ops[site.start:site.end+1]...)
			covers = append(covers, contentstream.Op("Q"))
			i = site.end
			continue
		}
		out = append(out, ops[i])
	}
	out = append(out, appended...)
	page.SetContents(contentstream.Serialize(append(out, covers...)))
	return nil
}

// drawSnapshot registers img on page and returns operations painting it over the
// overlay box, stretched to fill it.
func drawSnapshot(page *semantic.Page, ext Extension, img image.Image) []contentstream.Operation {
	name := page.AddXObject("RdImg", builder.ImageXObject(img))
	user := page.ToUser(ext.BBox)
	return []contentstream.Operation{
		contentstream.Op("q"),
		contentstream.Op("cm", contentstream.Nums(user.Width(), 0, 0, user.Height(), user.X0, user.Y0)...),
		contentstream.Op("Do", raw.NameLiteral(name)),
		contentstream.Op("Q"),
	}
}
