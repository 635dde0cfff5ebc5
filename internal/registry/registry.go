// Package registry implements the Video Registry (spec §4.F): a per-tab
// deduplicating store of discovered Streams with master/variant linkage
// and change notification for the UI Fan-out.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/streamcore/streamcore/internal/models"
)

// ChangeKind is the delta type emitted to subscribers (spec §4.I).
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeUpdate ChangeKind = "update"
	ChangeRemove ChangeKind = "remove"
)

// Change is a single notification of a Stream mutation, consumed by the
// UI Fan-out (component I).
type Change struct {
	Kind   ChangeKind
	TabID  int64
	Stream *models.Stream // nil for ChangeRemove, where Canonical identifies the removed entry
	Canonical string
}

// Listener receives registry changes. Implementations must not block for
// long; the registry calls listeners synchronously, under its lock from
// Upsert and AttachVariantsOfMaster and just after releasing it from Mutate.
type Listener func(Change)

type tabBucket struct {
	streams     map[string]*models.Stream // canonical -> Stream
	variantMap  map[string]string         // variantCanonical -> masterCanonical
}

// Registry is the process-wide Video Registry, keyed by tab.
type Registry struct {
	mu        sync.Mutex
	tabs      map[int64]*tabBucket
	listeners []Listener
	now       func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tabs: make(map[int64]*tabBucket),
		now:  time.Now,
	}
}

// Subscribe registers l to receive all future Change notifications.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(c Change) {
	for _, l := range r.listeners {
		l(c)
	}
}

func (r *Registry) bucket(tabID int64) *tabBucket {
	b, ok := r.tabs[tabID]
	if !ok {
		b = &tabBucket{
			streams:    make(map[string]*models.Stream),
			variantMap: make(map[string]string),
		}
		r.tabs[tabID] = b
	}
	return b
}

// UpsertResult distinguishes a freshly created Stream from a merge into an
// existing one.
type UpsertResult struct {
	Stream *models.Stream
	New    bool
}

// Upsert implements spec §4.F's upsert(tabId, stream). If a Stream with the
// same (tabId, canonical) already exists, incoming is merged into it under
// the precedence rules of §4.F; otherwise incoming is inserted as-is.
func (r *Registry) Upsert(tabID int64, incoming *models.Stream) UpsertResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bucket(tabID)
	existing, found := b.streams[incoming.Canonical]
	if !found {
		if incoming.DetectedAt.IsZero() {
			incoming.DetectedAt = r.now()
		}
		if master, ok := b.variantMap[incoming.Canonical]; ok {
			incoming.HasKnownMaster = true
			incoming.IsVariant = true
			incoming.MasterCanonical = master
		}
		b.streams[incoming.Canonical] = incoming
		r.notify(Change{Kind: ChangeAdd, TabID: tabID, Stream: incoming.Clone(), Canonical: incoming.Canonical})
		return UpsertResult{Stream: incoming, New: true}
	}

	r.mergeLocked(existing, incoming)
	r.notify(Change{Kind: ChangeUpdate, TabID: tabID, Stream: existing.Clone(), Canonical: existing.Canonical})
	return UpsertResult{Stream: existing, New: false}
}

// mergeLocked applies spec §4.F's merge precedence: preserve detectedAt,
// accumulated parse state, existing probeMeta, and relationship fields
// unless the incoming value is strictly newer or the existing is unset.
// Update poster/title/expiryInfo/metadata unconditionally when provided.
func (r *Registry) mergeLocked(existing, incoming *models.Stream) {
	if incoming.Poster != "" {
		existing.Poster = incoming.Poster
	}
	if incoming.Title != "" {
		existing.Title = incoming.Title
	}
	if incoming.ExpiryInfo != nil {
		existing.ExpiryInfo = incoming.ExpiryInfo
	}

	if !existing.LightParsed && incoming.LightParsed {
		existing.LightParsed = true
		existing.Subtype = incoming.Subtype
	}
	if !existing.FullyParsed && incoming.FullyParsed {
		existing.FullyParsed = true
	}
	if existing.ProbeMeta == nil && incoming.ProbeMeta != nil {
		existing.ProbeMeta = incoming.ProbeMeta
	}
	if existing.ParserMeta == nil && incoming.ParserMeta != nil {
		existing.ParserMeta = incoming.ParserMeta
	}
	if existing.PreviewURL == "" && incoming.PreviewURL != "" {
		existing.PreviewURL = incoming.PreviewURL
	}
	if len(incoming.Variants) > 0 {
		existing.Variants = incoming.Variants
		existing.IsMaster = true
	}

	if !existing.HasKnownMaster && incoming.HasKnownMaster {
		existing.HasKnownMaster = true
		existing.IsVariant = true
		existing.MasterCanonical = incoming.MasterCanonical
	}
}

// AttachVariantsOfMaster implements spec §4.F's attachVariantsOfMaster:
// records variantCanonical -> masterCanonical for each variant, and marks
// any existing standalone Stream for that variant as linked, emitting an
// update delta.
func (r *Registry) AttachVariantsOfMaster(tabID int64, masterCanonical string, variants []models.Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bucket(tabID)
	for _, v := range variants {
		b.variantMap[v.Canonical] = masterCanonical
		if standalone, ok := b.streams[v.Canonical]; ok {
			standalone.IsVariant = true
			standalone.HasKnownMaster = true
			standalone.MasterCanonical = masterCanonical
			r.notify(Change{Kind: ChangeUpdate, TabID: tabID, Stream: standalone.Clone(), Canonical: standalone.Canonical})
		}
	}
}

// VisibleStreams implements spec §4.F's visibleStreams(tabId): all Streams
// for the tab except those that are variants with a known master, sorted
// by detectedAt descending.
func (r *Registry) VisibleStreams(tabID int64) []*models.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.tabs[tabID]
	if !ok {
		return nil
	}
	out := make([]*models.Stream, 0, len(b.streams))
	for _, s := range b.streams {
		if s.IsVariant && s.HasKnownMaster {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out
}

// Get returns a snapshot clone of the Stream for (tabID, canonical), if
// present. Callers needing to mutate a Stream must use Mutate instead.
func (r *Registry) Get(tabID int64, canonical string) (*models.Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.tabs[tabID]
	if !ok {
		return nil, false
	}
	s, ok := b.streams[canonical]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Mutate applies fn to the live Stream for (tabID, canonical) under the
// registry lock and emits an update delta afterward. This is the only
// sanctioned way for the Enrichment Pipeline (component G) to change a
// Stream's fields in place, per spec §3's "mutated only by G and F" rule.
// Returns false if no such Stream exists.
func (r *Registry) Mutate(tabID int64, canonical string, fn func(*models.Stream)) bool {
	r.mu.Lock()
	b, ok := r.tabs[tabID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	s, ok := b.streams[canonical]
	if !ok {
		r.mu.Unlock()
		return false
	}
	fn(s)
	snapshot := s.Clone()
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeUpdate, TabID: tabID, Stream: snapshot, Canonical: canonical})
	return true
}

// TryBeginProcessing atomically checks and sets the in-flight gate for
// stage on (tabID, canonical), returning false if it was already set
// (spec §4.G: "no Stream has two concurrent probes for the same URL").
func (r *Registry) TryBeginProcessing(tabID int64, canonical, stage string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.tabs[tabID]
	if !ok {
		return false
	}
	s, ok := b.streams[canonical]
	if !ok {
		return false
	}
	if s.IsProcessing(stage) {
		return false
	}
	s.SetProcessing(stage, true)
	return true
}

// EndProcessing clears the in-flight gate for stage on (tabID, canonical).
func (r *Registry) EndProcessing(tabID int64, canonical, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.tabs[tabID]
	if !ok {
		return
	}
	if s, ok := b.streams[canonical]; ok {
		s.SetProcessing(stage, false)
	}
}

// Destroy implements spec §4.F's destroy(tabId): drops all per-tab state.
func (r *Registry) Destroy(tabID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, tabID)
}
