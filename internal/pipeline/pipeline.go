// Package pipeline wires capture, fetching, matching and rendering into the
// two end-to-end operations: fetching a venue directory and analysing map
// screenshots against it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"tenant-locator/internal/capture"
	"tenant-locator/internal/config"
	"tenant-locator/internal/directory"
	screenshot "tenant-locator/internal/image"
	"tenant-locator/internal/mapapi"
	"tenant-locator/internal/match"
	"tenant-locator/internal/overlay"
	"tenant-locator/internal/publish"
	"tenant-locator/internal/transform"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tenant-locator/pipeline"

// VenueFetcher loads venue resources; *mapapi.Client implements it.
type VenueFetcher interface {
	FetchVenue(ctx context.Context, token, venue string) (*mapapi.Venue, error)
}

// Deps are the collaborators of a Pipeline. OCR and Model are only needed
// for analysis, API only for fetching. Publisher is optional.
type Deps struct {
	API       VenueFetcher
	OCR       match.OCREngine
	Model     match.EmbeddingModel
	Publisher *publish.Publisher
	Logger    *slog.Logger
}

// Pipeline runs fetches and analyses.
type Pipeline struct {
	cfg      *config.Config
	deps     Deps
	logger   *slog.Logger
	tracer   trace.Tracer
	builder  *directory.Builder
	renderer *overlay.Renderer
}

// New creates a Pipeline. A nil cfg uses config.Default().
func New(cfg *config.Config, deps Deps) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		builder: directory.NewBuilder(logger),
		renderer: overlay.NewRenderer(overlay.Options{
			Margin:  cfg.Overlay.Margin,
			Gap:     cfg.Overlay.Gap,
			Padding: cfg.Overlay.Padding,
		}, logger),
	}
}

// FetchResult is the outcome of a directory fetch. Extent is nil when no
// tenant could be located.
type FetchResult struct {
	RunID   string
	Venue   string
	Tenants []directory.Tenant
	Path    string
	Extent  *orb.Bound
}

// Capture observes session until the mapping credentials are seen.
func (p *Pipeline) Capture(ctx context.Context, session capture.Session, prep capture.PagePreparer) (capture.Credentials, error) {
	ctx, span := p.tracer.Start(ctx, "capture")
	defer span.End()

	obs := capture.NewObserver(session, capture.Options{
		MaxIterations: p.cfg.Capture.MaxIterations,
		Interval:      p.cfg.Capture.Interval,
		NudgeEvery:    p.cfg.Capture.NudgeEvery,
		Domain:        p.cfg.Capture.Domain,
		Preparer:      prep,
		Logger:        p.logger,
	})
	creds, err := obs.Capture(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		return creds, err
	}
	span.SetAttributes(attribute.String("venue", creds.Venue))
	return creds, nil
}

// Fetch downloads the venue behind creds, builds its directory and writes it
// to the output directory.
func (p *Pipeline) Fetch(ctx context.Context, creds capture.Credentials) (*FetchResult, error) {
	if p.deps.API == nil {
		return nil, errors.New("pipeline: no mapping api client")
	}
	runID := uuid.NewString()
	ctx, span := p.tracer.Start(ctx, "fetch", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("venue", creds.Venue),
	))
	defer span.End()

	venue, err := p.deps.API.FetchVenue(ctx, creds.Token, creds.Venue)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	tenants := p.builder.Build(venue.Maps, venue.Locations, venue.Nodes)
	path := filepath.Join(p.cfg.OutputDir, safeName(venue.ID)+"_directory.json")
	if err := directory.Save(path, tenants); err != nil {
		return nil, fmt.Errorf("pipeline: save directory: %w", err)
	}
	res := &FetchResult{RunID: runID, Venue: venue.ID, Tenants: tenants, Path: path}
	if b, ok := directory.Bounds(tenants); ok {
		res.Extent = &b
		span.SetAttributes(
			attribute.Float64Slice("extent.min", []float64{b.Min.Lon(), b.Min.Lat()}),
			attribute.Float64Slice("extent.max", []float64{b.Max.Lon(), b.Max.Lat()}),
		)
	} else {
		p.logger.Warn("no tenant could be located", "venue", venue.ID)
	}
	p.logger.Info("directory saved", "run_id", runID, "venue", venue.ID, "tenants", len(tenants), "path", path)

	if p.deps.Publisher != nil {
		if err := p.deps.Publisher.Directory(ctx, runID, venue.ID, tenants); err != nil {
			p.logger.Warn("directory not published", "err", err)
		}
	}
	return res, nil
}

// ImageReport summarises the analysis of one screenshot. Err is set when the
// image could not be processed; the batch continues regardless.
type ImageReport struct {
	Image         string         `json:"image"`
	Floor         string         `json:"floor"`
	Found         int            `json:"found"`
	Missing       int            `json:"missing"`
	TablePath     string         `json:"table_path,omitempty"`
	AnnotatedPath string         `json:"annotated_path,omitempty"`
	Overlay       overlay.Report `json:"overlay"`
	Err           error          `json:"-"`
}

// Analyze matches every screenshot against tenants. Tenant embeddings are
// computed once for the whole batch.
func (p *Pipeline) Analyze(ctx context.Context, venue string, tenants []directory.Tenant, images []string) ([]ImageReport, error) {
	if p.deps.OCR == nil || p.deps.Model == nil {
		return nil, errors.New("pipeline: analysis needs an OCR engine and an embedding model")
	}
	runID := uuid.NewString()
	ctx, span := p.tracer.Start(ctx, "analyze", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("images", len(images)),
	))
	defer span.End()

	idx, err := match.NewIndex(ctx, p.deps.Model, tenants)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	matcher := match.NewMatcher(p.deps.OCR, p.deps.Model, p.logger)

	reports := make([]ImageReport, 0, len(images))
	for _, path := range images {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep := p.analyzeImage(ctx, runID, venue, matcher, idx, path)
		if rep.Err != nil {
			p.logger.Error("image failed", "image", path, "err", rep.Err)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func (p *Pipeline) analyzeImage(ctx context.Context, runID, venue string, matcher *match.Matcher, idx *match.Index, path string) ImageReport {
	ctx, span := p.tracer.Start(ctx, "analyze.image", trace.WithAttributes(attribute.String("image", path)))
	defer span.End()

	rep := ImageReport{Image: path}
	fail := func(err error) ImageReport {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rep.Err = err
		return rep
	}

	shot, err := screenshot.Load(path)
	if err != nil {
		return fail(err)
	}

	results, err := matcher.Match(ctx, idx, shot.Image, p.cfg.Match.Threshold)
	rep.Found, rep.Missing = match.Counts(results)
	if err != nil {
		return fail(err)
	}

	floor, ok := overlay.DetectFloor(results, p.cfg.Match.FloorScore)
	rep.Floor = floor
	span.SetAttributes(attribute.String("floor", floor), attribute.Int("found", rep.Found))

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	rep.TablePath = filepath.Join(p.cfg.OutputDir, base+"_matches.json")
	rows := match.Table(results)
	if err := match.SaveTable(rep.TablePath, rows); err != nil {
		return fail(fmt.Errorf("save table: %w", err))
	}
	if p.deps.Publisher != nil {
		if err := p.deps.Publisher.Matches(ctx, runID, venue, filepath.Base(path), floor, rows); err != nil {
			p.logger.Warn("matches not published", "image", path, "err", err)
		}
	}

	if !ok {
		p.logger.Info("floor not detected, no overlay", "image", path)
		return rep
	}
	t, err := transform.Solve(overlay.ControlPoints(results, floor))
	if err != nil {
		p.logger.Info("screenshot not georeferenced, no overlay", "image", path, "floor", floor, "err", err)
		return rep
	}

	annotated, report := p.renderer.Render(shot.Image, results, t, floor)
	rep.Overlay = report
	out, err := screenshot.Save(screenshot.AnnotatedPath(p.cfg.OutputDir, path, "_annotated"), annotated)
	if err != nil {
		return fail(err)
	}
	rep.AnnotatedPath = out
	p.logger.Info("image analysed", "image", path, "floor", floor, "found", rep.Found,
		"missing", rep.Missing, "markers", len(report.Markers), "transform", t.Kind)
	return rep
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == ' ' {
			return '_'
		}
		return r
	}, s)
}
