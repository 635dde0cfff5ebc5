// Package ingest is the entry point for Event Source observations (spec
// §2: "Event Source → (A,B,E) → F"), converting a raw observed URL (plus
// optional response metadata) into a classified, normalized, registered
// Stream and triggering enrichment. The Event Source itself (the
// browser's webRequest/DOM APIs) is out of scope (spec §1/§11); this
// package is the wire boundary a real collaborator submits observations
// through, grounded on the teacher's internal/ingestor package naming
// (the same structural role: adapt external raw input into the core's
// entity model).
package ingest

import (
	"log/slog"
	"time"

	"github.com/streamcore/streamcore/internal/classifier"
	"github.com/streamcore/streamcore/internal/detection"
	"github.com/streamcore/streamcore/internal/enrichment"
	"github.com/streamcore/streamcore/internal/models"
	"github.com/streamcore/streamcore/internal/observability"
	"github.com/streamcore/streamcore/internal/registry"
	"github.com/streamcore/streamcore/internal/urlnorm"
)

// Observation is one Event Source report: a URL observed in tabID, with
// whatever response metadata was available (spec §4.A inputs).
type Observation struct {
	TabID              int64
	URL                string
	Source             models.Source
	ContentType        string
	ContentLength      int64
	HasContentLength   bool
	AcceptRanges       string
	ContentDisposition string
	Filename           string
}

// Processor wires the URL Classifier (A), URL Normalizer (B), Detection
// Context (E), and Video Registry (F) together, and triggers the
// Enrichment Pipeline (G) for newly discovered streams.
type Processor struct {
	detection *detection.Context
	registry  *registry.Registry
	pipeline  *enrichment.Pipeline
	minSize   int64
	logger    *slog.Logger
}

// New builds a Processor. minFileSize implements spec §6's
// minFileSizeFilter: direct files below this size are dropped.
func New(det *detection.Context, reg *registry.Registry, pipeline *enrichment.Pipeline, minFileSize int64, logger *slog.Logger) *Processor {
	return &Processor{
		detection: det,
		registry:  reg,
		pipeline:  pipeline,
		minSize:   minFileSize,
		logger:    observability.WithComponent(logger, "ingest"),
	}
}

// Observe runs obs through classify → normalize → upsert, and, for newly
// discovered non-ignored streams, dispatches enrichment.
func (p *Processor) Observe(obs Observation) {
	meta := &classifier.ResponseMeta{
		ContentType:        obs.ContentType,
		ContentLength:      obs.ContentLength,
		HasContentLength:   obs.HasContentLength,
		AcceptRanges:       obs.AcceptRanges,
		ContentDisposition: obs.ContentDisposition,
		Filename:           obs.Filename,
	}

	decision := classifier.Classify(obs.URL, meta, obs.TabID, p.detection)

	switch decision.Kind {
	case classifier.KindIgnored, classifier.KindSegment:
		return
	case classifier.KindDASH:
		p.detection.MarkMPD(obs.TabID)
	}

	if decision.Kind == classifier.KindDirect && classifier.MinFileSizeDrop(meta, p.minSize) {
		return
	}

	canonical := urlnorm.Canonicalize(decision.CandidateURL)

	stream := &models.Stream{
		URL:                 decision.CandidateURL,
		Canonical:           canonical,
		TabID:               obs.TabID,
		Kind:                models.Kind(decision.Kind),
		Container:           decision.Container,
		MediaKind:           models.MediaKind(decision.MediaKind),
		DetectedAt:          time.Now(),
		Source:              obs.Source,
		OriginalURL:         decision.OriginalURL,
		FoundFromQueryParam: decision.FoundFromQuery,
	}

	result := p.registry.Upsert(obs.TabID, stream)
	if result.New && p.pipeline != nil {
		p.pipeline.Dispatch(obs.TabID, result.Stream.Canonical)
	}
}
