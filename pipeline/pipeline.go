// Package pipeline ties extraction, classification and the redaction engine
// together for whole files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/wudi/pdfredact/classify"
	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/ir/semantic"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/parser"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/snapshot"
	"github.com/wudi/pdfredact/writer"
)

const (
	RedactedSuffix = "_redacted"
	RestoredSuffix = "_restored"
	// DefaultMaxFileSize bounds inputs read by the service.
	DefaultMaxFileSize = 256 << 20
	// MaxManifestSize bounds manifests read by RestoreFile.
	MaxManifestSize = 16 << 20
)

// ErrNotPDF marks inputs that are neither named *.pdf nor start with a PDF header.
var ErrNotPDF = errors.New("only PDF files are accepted")

type Options struct {
	Classifier classify.Classifier
	// Extractor defaults to one without OCR.
	Extractor *extractor.Extractor
	Store     snapshot.Store
	Threshold float64
	// OutputDir holds outputs; empty means next to the input.
	OutputDir   string
	MaxFileSize int64
	Redact      redact.Options
	Restore     redact.RestoreOptions
	Parser      parser.Config
	Logger      observability.Logger
	Metrics     observability.Metrics
	// NewFileID names each processed file; defaults to a random uuid in hex.
	NewFileID func() string
}

// Service redacts and restores files on disk.
type Service struct {
	opts       Options
	redactor   *redact.Redactor
	restorer   *redact.Restorer
	correlator redact.Correlator
}

func New(opts Options) (*Service, error) {
	if opts.Classifier == nil {
		return nil, errors.New("pipeline needs a classifier")
	}
	if opts.Store == nil {
		return nil, errors.New("pipeline needs a snapshot store")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NopMetrics{}
	}
	if opts.Extractor == nil {
		opts.Extractor = extractor.New(extractor.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	if opts.Threshold <= 0 {
		opts.Threshold = redact.DefaultThreshold
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Parser.MaxFileSize <= 0 {
		opts.Parser.MaxFileSize = opts.MaxFileSize
	}
	if opts.NewFileID == nil {
		opts.NewFileID = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
	if opts.Redact.Logger == nil {
		opts.Redact.Logger = opts.Logger
	}
	if opts.Redact.Metrics == nil {
		opts.Redact.Metrics = opts.Metrics
	}
	if opts.Restore.Logger == nil {
		opts.Restore.Logger = opts.Logger
	}
	if opts.Restore.Metrics == nil {
		opts.Restore.Metrics = opts.Metrics
	}
	redactor, err := redact.NewRedactor(opts.Store, opts.Redact)
	if err != nil {
		return nil, err
	}
	restorer, err := redact.NewRestorer(opts.Store, opts.Restore)
	if err != nil {
		return nil, err
	}
	corr := redact.Correlator{Logger: opts.Logger, Metrics: opts.Metrics}
	if h, ok := opts.Store.(interface{ Has(string) bool }); ok {
		corr.Taken = h.Has
	}
	return &Service{opts: opts, redactor: redactor, restorer: restorer, correlator: corr}, nil
}

// RedactResult describes one redacted file.
type RedactResult struct {
	FileID       string
	Input        string
	Output       string
	ManifestPath string
	Manifest     *redact.Manifest
	Spans        int
	Rejected     []redact.Rejection
	Finalizer    string
}

// RedactFile extracts spans from the PDF at path, classifies them, redacts
// every region at or above the threshold into <name>_redacted.pdf and writes
// the manifest to <name>_redacted.json. On failure neither file exists and no
// snapshot stays behind.
func (s *Service) RedactFile(ctx context.Context, path string) (*RedactResult, error) {
	fileID := s.opts.NewFileID()
	log := s.opts.Logger.With(observability.String("file_id", fileID), observability.String("input", filepath.Base(path)))

	doc, err := s.open(ctx, path, fileID)
	if err != nil {
		return nil, err
	}

	spans, err := s.opts.Extractor.Extract(ctx, doc)
	if err != nil {
		return nil, redact.Wrap(redact.ErrExtraction, "extract", fileID, "", err)
	}
	detectStart := time.Now()
	regions, err := classify.Detect(ctx, s.opts.Classifier, spans, classify.DetectOptions{
		Threshold:   s.opts.Threshold,
		Concurrency: s.opts.Redact.Concurrency,
		Logger:      log,
	})
	if err != nil {
		return nil, redact.Wrap(redact.ErrExtraction, "classify", fileID, "", err)
	}
	s.opts.Metrics.ObserveDuration(observability.MetricStageDuration, time.Since(detectStart), observability.StageDetect)

	records, rejected, err := s.correlator.Correlate(regions, redact.DocumentBounds(doc))
	if err != nil {
		return nil, redact.Wrap(redact.ErrRedaction, "correlate", fileID, "", err)
	}

	out := s.outputPath(path, RedactedSuffix, ".pdf")
	manifestPath := strings.TrimSuffix(out, ".pdf") + ".json"
	// The document is staged next to out and renamed into place only after
	// its manifest is published, so a redacted PDF never appears without one.
	staged := filepath.Join(filepath.Dir(out), "."+filepath.Base(out)+"."+fileID+".staged")
	res, err := s.redactor.Redact(ctx, redact.Job{
		Document:   fileID,
		Source:     doc,
		SourcePath: path,
		Records:    records,
		Output:     staged,
	})
	if err != nil {
		return nil, err
	}

	manifest := redact.NewManifest(res.Records)
	if err := writer.Publish(ctx, manifestPath, manifest.Encode); err != nil {
		return nil, s.undoRedaction(ctx, fileID, manifest, fmt.Errorf("write manifest: %w", err), staged)
	}
	if err := os.Rename(staged, out); err != nil {
		return nil, s.undoRedaction(ctx, fileID, manifest, fmt.Errorf("publish %s: %w", out, err), staged, manifestPath)
	}
	log.Info("file redacted",
		observability.Int("spans", len(spans)),
		observability.Int("regions", len(res.Records)),
		observability.Int("rejected", len(rejected)),
		observability.String("output", filepath.Base(out)))
	return &RedactResult{
		FileID:       fileID,
		Input:        path,
		Output:       out,
		ManifestPath: manifestPath,
		Manifest:     manifest,
		Spans:        len(spans),
		Rejected:     rejected,
		Finalizer:    res.Finalizer,
	}, nil
}

// undoRedaction removes the files a failed redaction left behind, together
// with its snapshots.
func (s *Service) undoRedaction(ctx context.Context, fileID string, m *redact.Manifest, cause error, paths ...string) error {
	var result *multierror.Error
	result = multierror.Append(result, cause)
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}
	if err := snapshot.Release(context.WithoutCancel(ctx), s.opts.Store, m.Handles()); err != nil {
		result = multierror.Append(result, err)
	}
	return redact.Wrap(redact.ErrRedaction, "publish", fileID, "", result.ErrorOrNil())
}

// RestoreFile restores the overlays of the redacted PDF at path that the
// manifest at manifestPath lists, writing <name>_restored.pdf.
func (s *Service) RestoreFile(ctx context.Context, path, manifestPath string) (*redact.RestoreResult, error) {
	fileID := s.opts.NewFileID()
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, redact.Wrap(redact.ErrRestore, "manifest", fileID, "", err)
	}
	manifest, err := redact.ReadManifest(f, MaxManifestSize)
	f.Close()
	if err != nil {
		return nil, redact.Wrap(redact.ErrRestore, "manifest", fileID, "", err)
	}
	return s.Restore(ctx, path, manifest, fileID)
}

// Restore is RestoreFile with an in-memory manifest.
func (s *Service) Restore(ctx context.Context, path string, manifest *redact.Manifest, fileID string) (*redact.RestoreResult, error) {
	if fileID == "" {
		fileID = s.opts.NewFileID()
	}
	doc, err := s.open(ctx, path, fileID)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), RedactedSuffix)
	out := s.outputPath(filepath.Join(filepath.Dir(path), base+".pdf"), RestoredSuffix, ".pdf")
	return s.restorer.Restore(ctx, redact.RestoreJob{
		Document:   fileID,
		Source:     doc,
		SourcePath: path,
		Manifest:   manifest,
		Output:     out,
	})
}

// open validates and parses an input file.
func (s *Service) open(ctx context.Context, path, fileID string) (*semantic.Document, error) {
	data, err := readLimited(path, s.opts.MaxFileSize)
	if err != nil {
		return nil, redact.Wrap(redact.ErrValidation, "read", fileID, "", err)
	}
	if !LooksLikePDF(path, data) {
		return nil, redact.Wrap(redact.ErrValidation, "validate", fileID, "", ErrNotPDF)
	}
	rawDoc, err := parser.NewDocumentParser(s.opts.Parser).ParseBytes(ctx, data)
	if err != nil {
		return nil, redact.Wrap(redact.ErrValidation, "parse", fileID, "", err)
	}
	doc, err := semantic.NewDocument(rawDoc)
	if err != nil {
		return nil, redact.Wrap(redact.ErrValidation, "parse", fileID, "", err)
	}
	return doc, nil
}

// LooksLikePDF accepts a file named *.pdf or one carrying a PDF header in its
// first kilobyte.
func LooksLikePDF(name string, data []byte) bool {
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return true
	}
	return parser.IsPDF(data)
}

func (s *Service) outputPath(input, suffix, ext string) string {
	dir := s.opts.OutputDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, name+suffix+ext)
}

func readLimited(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, parser.ErrTooLarge
	}
	return data, nil
}
