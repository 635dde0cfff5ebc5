package fanout

import (
	"github.com/streamcore/streamcore/internal/registry"
)

// videosStateUpdate is the outbound payload shape for spec §4.I's
// "videos-state-update" event (actions add/update/remove/full-refresh).
type videosStateUpdate struct {
	Action    string `json:"action"`
	TabID     int64  `json:"tabId"`
	Stream    any    `json:"stream,omitempty"`
	Canonical string `json:"canonical,omitempty"`
	Streams   []any  `json:"streams,omitempty"`
}

// SubscribeRegistry wires reg's Change notifications into tab-scoped
// "videos-state-update" broadcasts, translating registry.ChangeKind into
// the add/update/remove actions the UI expects (spec §4.I).
func (r *Registry) SubscribeRegistry(reg *registry.Registry) {
	reg.Subscribe(func(c registry.Change) {
		switch c.Kind {
		case registry.ChangeAdd:
			r.BroadcastTab(c.TabID, "videos-state-update", videosStateUpdate{
				Action: "add", TabID: c.TabID, Stream: c.Stream,
			})
		case registry.ChangeUpdate:
			r.BroadcastTab(c.TabID, "videos-state-update", videosStateUpdate{
				Action: "update", TabID: c.TabID, Stream: c.Stream,
			})
		case registry.ChangeRemove:
			r.BroadcastTab(c.TabID, "videos-state-update", videosStateUpdate{
				Action: "remove", TabID: c.TabID, Canonical: c.Canonical,
			})
		}
	})
}

// FullRefresh implements spec §4.I's tab-scoped full-refresh: used when an
// Observer first registers for a tab, so it receives the complete current
// set of visible Streams rather than waiting for the next delta.
func (r *Registry) FullRefresh(tabID int64, reg *registry.Registry) {
	streams := reg.VisibleStreams(tabID)
	boxed := make([]any, len(streams))
	for i, s := range streams {
		boxed[i] = s
	}
	r.BroadcastTab(tabID, "videos-state-update", videosStateUpdate{
		Action: "full-refresh", TabID: tabID, Streams: boxed,
	})
}
