// Package enrichment implements the Enrichment Pipeline (spec §4.G): a
// per-Stream state machine (lightParsed → fullyParsed → variantsProbed →
// previewed) dispatched by kind, driven by the Rate Limiter and Helper
// Client.
package enrichment

import (
	"context"
	"log/slog"

	"github.com/streamcore/streamcore/internal/helperclient"
	"github.com/streamcore/streamcore/internal/models"
	"github.com/streamcore/streamcore/internal/observability"
	"github.com/streamcore/streamcore/internal/ratelimit"
	"github.com/streamcore/streamcore/internal/registry"
)

// Stage names used as keys for the Stream in-flight processing gate.
const (
	stageLightParse = "lightParse"
	stageFullParse  = "fullParse"
	stageProbe      = "probe"
)

// HelperCaller is the narrow view of the Helper Client the pipeline needs;
// satisfied by *helperclient.Client, and fakeable in tests.
type HelperCaller interface {
	Call(ctx context.Context, command string, payload map[string]any) (helperclient.Message, error)
}

// PrefixLearner is the narrow view of the Detection Context the pipeline
// needs to feed back learned DASH segment prefixes (spec §4.E
// addSegmentPrefixes), satisfied by *detection.Context.
type PrefixLearner interface {
	AddSegmentPrefixes(tabID int64, prefixes []string)
}

// Pipeline dispatches enrichment work for newly upserted Streams.
type Pipeline struct {
	registry *registry.Registry
	helper   HelperCaller
	limiter  *ratelimit.Limiter
	detector PrefixLearner
	logger   *slog.Logger
}

// New creates an Enrichment Pipeline.
func New(reg *registry.Registry, helper HelperCaller, limiter *ratelimit.Limiter, detector PrefixLearner, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		registry: reg,
		helper:   helper,
		limiter:  limiter,
		detector: detector,
		logger:   observability.WithComponent(logger, "enrichment"),
	}
}

// Dispatch is called for every newly upserted Stream; it starts the
// appropriate stage chain for its kind, asynchronously for every kind that
// calls the helper (blob streams need no helper call and are marked inline).
// It is safe to call more than once for the same Stream; in-flight stages
// are not re-entered.
func (p *Pipeline) Dispatch(tabID int64, canonical string) {
	s, ok := p.registry.Get(tabID, canonical)
	if !ok {
		return
	}

	switch s.Kind {
	case models.KindBlob:
		p.runBlob(tabID, canonical)
	case models.KindHLS, models.KindDASH:
		go p.runManifest(tabID, canonical)
	case models.KindDirect:
		go p.runDirectOrUnknown(tabID, canonical)
	case models.KindUnknown:
		go p.runDirectOrUnknown(tabID, canonical)
	}
}

// runBlob implements spec §4.G's blob row: mark fullyParsed, attach
// synthetic metadata, notify. No helper call is needed.
func (p *Pipeline) runBlob(tabID int64, canonical string) {
	p.registry.Mutate(tabID, canonical, func(s *models.Stream) {
		s.FullyParsed = true
		s.Subtype = models.SubtypeStandalone
	})
}

// runManifest implements spec §4.G's hls/dash row: light parse, then full
// parse if master, then sequential per-variant probe with a preview
// attached to variant index 0.
func (p *Pipeline) runManifest(tabID int64, canonical string) {
	if !p.registry.TryBeginProcessing(tabID, canonical, stageLightParse) {
		return
	}
	defer p.registry.EndProcessing(tabID, canonical, stageLightParse)

	s, ok := p.registry.Get(tabID, canonical)
	if !ok {
		return
	}

	result, err := ratelimit.Enqueue(p.limiter, tabID, func(ctx context.Context) (helperclient.Message, error) {
		return p.helper.Call(ctx, "lightParse", map[string]any{"url": s.URL, "kind": string(s.Kind)})
	}).Wait(context.Background())

	if err != nil {
		p.logger.Warn("light parse failed", slog.String("url", s.URL), slog.Any("error", err))
		p.registry.Mutate(tabID, canonical, func(s *models.Stream) {
			s.LightParsed = true
			s.Subtype = models.SubtypeFetchFailed
		})
		return
	}

	subtype := models.Subtype(stringField(result, "subtype"))
	p.registry.Mutate(tabID, canonical, func(s *models.Stream) {
		s.LightParsed = true
		s.Subtype = subtype
		if subtype == models.SubtypeMaster {
			s.IsMaster = true
		}
	})

	if subtype == models.SubtypeNotMedia || subtype == models.SubtypeFetchFailed {
		return
	}

	if subtype != models.SubtypeMaster {
		// standalone/variant: probe directly, no full parse stage.
		p.probeAndPreview(tabID, canonical, s.URL, 0)
		return
	}

	p.runFullParse(tabID, canonical)
}

// runFullParse extracts variants from a master manifest and registers
// variant→master links, then probes each variant sequentially.
func (p *Pipeline) runFullParse(tabID int64, canonical string) {
	if !p.registry.TryBeginProcessing(tabID, canonical, stageFullParse) {
		return
	}
	defer p.registry.EndProcessing(tabID, canonical, stageFullParse)

	s, ok := p.registry.Get(tabID, canonical)
	if !ok {
		return
	}

	result, err := ratelimit.Enqueue(p.limiter, tabID, func(ctx context.Context) (helperclient.Message, error) {
		return p.helper.Call(ctx, "fullParse", map[string]any{"url": s.URL})
	}).Wait(context.Background())
	if err != nil {
		p.logger.Warn("full parse failed", slog.String("url", s.URL), slog.Any("error", err))
		return
	}

	if s.Kind == models.KindDASH {
		if prefixes := parseSegmentPrefixes(result); len(prefixes) > 0 {
			p.detector.AddSegmentPrefixes(tabID, prefixes)
		}
	}

	variants := parseVariants(result)
	if len(variants) == 0 {
		return
	}

	p.registry.Mutate(tabID, canonical, func(s *models.Stream) {
		s.Variants = variants
		s.FullyParsed = true
	})
	p.registry.AttachVariantsOfMaster(tabID, canonical, variants)

	for i, v := range variants {
		p.probeAndPreview(tabID, canonical, v.URL, i)
	}
}

// probeAndPreview runs the probe stage and, for variantIndex 0, also
// requests a preview — attached to the first variant for masters, or to
// the Stream itself for standalone/direct/unknown kinds (spec §4.G: "for
// masters, the preview is attached to the first variant, not the master").
func (p *Pipeline) probeAndPreview(tabID int64, streamCanonical, url string, variantIndex int) {
	if !p.registry.TryBeginProcessing(tabID, streamCanonical, probeStageKey(variantIndex)) {
		return
	}
	defer p.registry.EndProcessing(tabID, streamCanonical, probeStageKey(variantIndex))

	probeResult, err := ratelimit.Enqueue(p.limiter, tabID, func(ctx context.Context) (helperclient.Message, error) {
		return p.helper.Call(ctx, "probe", map[string]any{"url": url})
	}).Wait(context.Background())
	if err != nil {
		p.logger.Warn("probe failed", slog.String("url", url), slog.Any("error", err))
		return
	}
	meta := parseProbeMeta(probeResult)

	p.registry.Mutate(tabID, streamCanonical, func(s *models.Stream) {
		if len(s.Variants) > variantIndex {
			s.Variants[variantIndex].ProbeMeta = meta
		} else {
			s.ProbeMeta = meta
		}
	})

	if variantIndex != 0 {
		return
	}

	previewResult, err := ratelimit.Enqueue(p.limiter, tabID, func(ctx context.Context) (helperclient.Message, error) {
		return p.helper.Call(ctx, "generatePreview", map[string]any{"url": url})
	}).Wait(context.Background())
	if err != nil {
		p.logger.Warn("preview generation failed", slog.String("url", url), slog.Any("error", err))
		return
	}
	previewURL := stringField(previewResult, "previewUrl")

	p.registry.Mutate(tabID, streamCanonical, func(s *models.Stream) {
		if len(s.Variants) > 0 {
			s.Variants[0].PreviewURL = previewURL
		} else {
			s.PreviewURL = previewURL
		}
	})
}

// runDirectOrUnknown implements spec §4.G's direct/unknown rows: probe
// then preview, both against the Stream itself (no variants involved).
func (p *Pipeline) runDirectOrUnknown(tabID int64, canonical string) {
	s, ok := p.registry.Get(tabID, canonical)
	if !ok {
		return
	}
	p.probeAndPreview(tabID, canonical, s.URL, 0)
}

func probeStageKey(variantIndex int) string {
	if variantIndex == 0 {
		return stageProbe
	}
	return stageProbe + ":variant"
}

func stringField(m helperclient.Message, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func float64Field(m helperclient.Message, key string) float64 {
	if m == nil {
		return 0
	}
	f, _ := m[key].(float64)
	return f
}

func boolField(m helperclient.Message, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

func parseProbeMeta(m helperclient.Message) *models.ProbeMeta {
	if m == nil {
		return nil
	}
	return &models.ProbeMeta{
		Codecs:         stringField(m, "codecs"),
		Width:          int(float64Field(m, "width")),
		Height:         int(float64Field(m, "height")),
		FPS:            float64Field(m, "fps"),
		Bitrate:        int64(float64Field(m, "bitrate")),
		DurationSec:    float64Field(m, "duration"),
		SizeBytes:      int64(float64Field(m, "sizeBytes")),
		HasVideo:       boolField(m, "hasVideo"),
		HasAudio:       boolField(m, "hasAudio"),
		SubtitleTracks: int(float64Field(m, "subtitleTracks")),
	}
}

// parseSegmentPrefixes reads the DASH full-parse result's learned segment
// path prefixes (spec §4.E's "Helper parser reports segment prefix"
// scenario), e.g. "/dash/v1/segments/".
func parseSegmentPrefixes(m helperclient.Message) []string {
	if m == nil {
		return nil
	}
	raw, ok := m["segmentPrefixes"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseVariants(m helperclient.Message) []models.Variant {
	if m == nil {
		return nil
	}
	raw, ok := m["variants"].([]any)
	if !ok {
		return nil
	}
	out := make([]models.Variant, 0, len(raw))
	for _, item := range raw {
		vm, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, models.Variant{
			URL:       stringField(vm, "url"),
			Canonical: stringField(vm, "canonical"),
			Bandwidth: int(float64Field(vm, "bandwidth")),
			Width:     int(float64Field(vm, "width")),
			Height:    int(float64Field(vm, "height")),
			FPS:       float64Field(vm, "fps"),
			Codecs:    stringField(vm, "codecs"),
		})
	}
	return out
}
