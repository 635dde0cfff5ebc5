// Package models holds the in-memory Stream/Variant data model (spec §3)
// shared by the Video Registry and Enrichment Pipeline, plus the
// GORM-persisted Download/HistoryEntry models used by the Download
// Orchestrator.
package models

import "time"

// Kind is the detection kind of a Stream.
type Kind string

const (
	KindHLS     Kind = "hls"
	KindDASH    Kind = "dash"
	KindDirect  Kind = "direct"
	KindBlob    Kind = "blob"
	KindUnknown Kind = "unknown"
)

// MediaKind distinguishes a direct file's media track type.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// Subtype is the result of a light parse of an HLS/DASH manifest.
type Subtype string

const (
	SubtypeMaster     Subtype = "master"
	SubtypeVariant    Subtype = "variant"
	SubtypeStandalone Subtype = "standalone"
	SubtypeNotMedia   Subtype = "not-a-media"
	SubtypeFetchFailed Subtype = "fetch-failed"
)

// Source identifies how a URL was observed (spec §3).
type Source string

const (
	SourceWebRequestMime    Source = "webRequest-mime"
	SourceWebRequestURL     Source = "webRequest-url"
	SourceDOMScan           Source = "dom-scan"
	SourceDOMNetworkXHR     Source = "dom-network-xhr"
	SourceDOMNetworkFetch   Source = "dom-network-fetch"
	SourceDOMMutation       Source = "dom-mutation"
)

// ProbeMeta is technical metadata obtained from the helper's probe command.
type ProbeMeta struct {
	Codecs         string  `json:"codecs,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	FPS            float64 `json:"fps,omitempty"`
	Bitrate        int64   `json:"bitrate,omitempty"`
	DurationSec    float64 `json:"duration,omitempty"`
	SizeBytes      int64   `json:"sizeBytes,omitempty"`
	HasVideo       bool    `json:"hasVideo"`
	HasAudio       bool    `json:"hasAudio"`
	SubtitleTracks int     `json:"subtitleTracks,omitempty"`
}

// ParserMeta is metadata extracted by light/full manifest parsing.
type ParserMeta struct {
	Bandwidth int    `json:"bandwidth,omitempty"`
	Codecs    string `json:"codecs,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// ExpiryInfo describes a signed-URL expiry observed on a manifest or segment.
type ExpiryInfo struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

// Variant is a single rendition nested under a master Stream (spec §3).
type Variant struct {
	URL        string      `json:"url"`
	Canonical  string      `json:"canonical"`
	Bandwidth  int         `json:"bandwidth,omitempty"`
	Width      int         `json:"width,omitempty"`
	Height     int         `json:"height,omitempty"`
	FPS        float64     `json:"fps,omitempty"`
	Codecs     string      `json:"codecs,omitempty"`
	ParserMeta *ParserMeta `json:"parserMeta,omitempty"`
	ProbeMeta  *ProbeMeta  `json:"probeMeta,omitempty"`
	PreviewURL string      `json:"previewUrl,omitempty"`
}

// Stream is the central detection record (spec §3).
type Stream struct {
	URL        string `json:"url"`
	Canonical  string `json:"canonical"`
	TabID      int64  `json:"tabId"`
	Kind       Kind   `json:"kind"`
	Container  string `json:"container,omitempty"`
	MediaKind  MediaKind `json:"mediaKind,omitempty"`
	DetectedAt time.Time `json:"detectedAt"`
	Source     Source    `json:"source"`

	// Parse state.
	LightParsed bool    `json:"lightParsed,omitempty"`
	Subtype     Subtype `json:"subtype,omitempty"`
	FullyParsed bool    `json:"fullyParsed,omitempty"`

	// Relationship.
	IsMaster        bool      `json:"isMaster,omitempty"`
	IsVariant       bool      `json:"isVariant,omitempty"`
	HasKnownMaster  bool      `json:"hasKnownMaster,omitempty"`
	MasterCanonical string    `json:"masterCanonical,omitempty"`
	Variants        []Variant `json:"variants,omitempty"` // master only; index 0 = highest quality

	// Technical.
	ProbeMeta  *ProbeMeta  `json:"probeMeta,omitempty"`
	ParserMeta *ParserMeta `json:"parserMeta,omitempty"`
	PreviewURL string      `json:"previewUrl,omitempty"`
	Poster     string      `json:"poster,omitempty"`
	Title      string      `json:"title,omitempty"`
	ExpiryInfo *ExpiryInfo `json:"expiryInfo,omitempty"`

	// Provenance.
	OriginalURL         string `json:"originalUrl,omitempty"`
	FoundFromQueryParam bool   `json:"foundFromQueryParam,omitempty"`

	// Processing gate (spec §4.G): in-flight stage names for this Stream,
	// keyed by stage so a second dispatch for the same stage is a no-op.
	processing map[string]bool
}

// Clone returns a deep-enough copy of s suitable for emitting as a fan-out
// delta without aliasing the registry's internal slices/maps.
func (s *Stream) Clone() *Stream {
	clone := *s
	clone.processing = nil
	if s.Variants != nil {
		clone.Variants = make([]Variant, len(s.Variants))
		copy(clone.Variants, s.Variants)
	}
	return &clone
}

// IsProcessing reports whether stage is currently in flight for s.
func (s *Stream) IsProcessing(stage string) bool {
	return s.processing != nil && s.processing[stage]
}

// SetProcessing marks stage as in flight (or clears it) for s. Callers must
// hold the registry's lock; Stream itself is not independently
// synchronized.
func (s *Stream) SetProcessing(stage string, active bool) {
	if active {
		if s.processing == nil {
			s.processing = make(map[string]bool)
		}
		s.processing[stage] = true
		return
	}
	delete(s.processing, stage)
}
