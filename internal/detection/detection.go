// Package detection implements the per-tab Detection Context (spec §4.E):
// MPD sighting timestamps and learned DASH segment path prefixes, used by
// the URL Classifier's segment test.
package detection

import (
	"strings"
	"sync"
	"time"
)

// recentMPDWindow bounds the "find tab for MPD URL" heuristic (spec §9):
// a segment-prefix report with no matching tab is associated with the most
// recently MPD-seen tab only if that sighting happened within this window.
// This is explicitly best-effort and may misattribute under rapid tab
// churn; that behavior is preserved verbatim rather than hardened.
const recentMPDWindow = 60 * time.Second

type tabState struct {
	mpdSeenAt time.Time
	prefixes  []string
}

// Context tracks per-tab DASH detection state. Safe for concurrent use.
type Context struct {
	mu   sync.Mutex
	tabs map[int64]*tabState
	now  func() time.Time
}

// New creates an empty Detection Context.
func New() *Context {
	return &Context{
		tabs: make(map[int64]*tabState),
		now:  time.Now,
	}
}

// MarkMPD records that an MPD manifest was observed for tabID.
func (c *Context) MarkMPD(tabID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stateLocked(tabID)
	st.mpdSeenAt = c.now()
}

// AddSegmentPrefixes unions prefixes into tabID's segment-prefix set. If
// tabID has no existing state but a tab with a recent (< 60s) MPD sighting
// exists, the prefixes are associated with that tab instead (spec §4.E
// heuristic, documented above).
func (c *Context) AddSegmentPrefixes(tabID int64, prefixes []string) {
	if len(prefixes) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	target := tabID
	if _, ok := c.tabs[tabID]; !ok {
		if recent, ok := c.mostRecentMPDTabLocked(); ok {
			target = recent
		}
	}

	st := c.stateLocked(target)
	for _, p := range prefixes {
		if !containsString(st.prefixes, p) {
			st.prefixes = append(st.prefixes, p)
		}
	}
}

// HasMPDContext reports whether tabID has an MPD-seen timestamp recorded.
// It satisfies classifier.SegmentDetector.
func (c *Context) HasMPDContext(tabID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tabs[tabID]
	return ok && !st.mpdSeenAt.IsZero()
}

// MatchesSegmentPrefix reports whether url matches a learned DASH segment
// prefix for tabID. It satisfies classifier.SegmentDetector.
func (c *Context) MatchesSegmentPrefix(tabID int64, url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tabs[tabID]
	if !ok {
		return false
	}
	for _, p := range st.prefixes {
		if strings.Contains(url, p) {
			return true
		}
	}
	return false
}

// IsSegmentFor is an alias of MatchesSegmentPrefix kept for naming parity
// with spec §4.E's isSegmentFor operation; it is consulted alongside
// HasMPDContext by the classifier's segment test steps (b) and (c).
func (c *Context) IsSegmentFor(tabID int64, url string) bool {
	return c.MatchesSegmentPrefix(tabID, url)
}

// Cleanup drops all state for tabID.
func (c *Context) Cleanup(tabID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tabs, tabID)
}

func (c *Context) stateLocked(tabID int64) *tabState {
	st, ok := c.tabs[tabID]
	if !ok {
		st = &tabState{}
		c.tabs[tabID] = st
	}
	return st
}

// mostRecentMPDTabLocked returns the tab with the most recent mpdSeenAt
// timestamp within recentMPDWindow, if any. Caller must hold c.mu.
func (c *Context) mostRecentMPDTabLocked() (int64, bool) {
	var (
		best    int64
		bestAt  time.Time
		found   bool
		cutoff  = c.now().Add(-recentMPDWindow)
	)
	for tabID, st := range c.tabs {
		if st.mpdSeenAt.IsZero() || st.mpdSeenAt.Before(cutoff) {
			continue
		}
		if !found || st.mpdSeenAt.After(bestAt) {
			best, bestAt, found = tabID, st.mpdSeenAt, true
		}
	}
	return best, found
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
