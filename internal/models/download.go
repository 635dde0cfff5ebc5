package models

import (
	"gorm.io/gorm"
)

// DownloadType mirrors the detection Kind for the asset being downloaded
// (spec §3's Download.type: direct|hls|dash).
type DownloadType string

const (
	DownloadTypeDirect DownloadType = "direct"
	DownloadTypeHLS    DownloadType = "hls"
	DownloadTypeDASH   DownloadType = "dash"
)

// DownloadStatus is the lifecycle status of a Download (spec §3).
type DownloadStatus string

const (
	DownloadStatusQueued      DownloadStatus = "queued"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusStopping    DownloadStatus = "stopping"
	DownloadStatusCompleted   DownloadStatus = "completed"
	DownloadStatusError       DownloadStatus = "error"
	DownloadStatusCanceled    DownloadStatus = "canceled"
)

// IsTerminal reports whether s is a terminal status (spec §8.7: success or
// error appends exactly one HistoryEntry; canceled appends none, but is
// still terminal for the active-map removal rule).
func (s DownloadStatus) IsTerminal() bool {
	switch s {
	case DownloadStatusCompleted, DownloadStatusError, DownloadStatusCanceled:
		return true
	default:
		return false
	}
}

// Download is the persisted record of an in-progress or recently-finished
// download (spec §3). It is keyed by downloadUrl for dedup purposes at the
// repository layer, with ULID as its storage primary key.
type Download struct {
	BaseModel

	DownloadURL string       `gorm:"not null;uniqueIndex:idx_downloads_active_url,where:deleted_at IS NULL AND status <> 'completed' AND status <> 'error' AND status <> 'canceled';size:2048" json:"download_url"`
	MasterURL   string       `gorm:"size:2048" json:"master_url,omitempty"`
	TabID       int64        `gorm:"index" json:"tab_id"`
	Filename    string       `gorm:"size:512" json:"filename"`
	Type        DownloadType `gorm:"size:16;not null" json:"type"`

	Status   DownloadStatus `gorm:"size:16;not null;index" json:"status"`
	Progress float64        `json:"progress"`

	Speed          string `json:"speed,omitempty"`
	ETA            string `json:"eta,omitempty"`
	CurrentSegment int    `json:"current_segment,omitempty"`
	TotalSegments  int    `json:"total_segments,omitempty"`
	DownloadedBytes int64 `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64 `json:"total_bytes,omitempty"`

	StartedAt Time `json:"started_at"`

	SelectedOptionOrigText string `gorm:"size:255" json:"selected_option_orig_text,omitempty"`
	NotificationID         string `gorm:"size:64" json:"notification_id,omitempty"`
	VideoDataSnapshot      string `gorm:"type:text" json:"video_data_snapshot,omitempty"`

	ErrorMessage string `gorm:"size:2048" json:"error_message,omitempty"`

	// CodecFallbackAttempted gates spec §4.H's "exactly once" webm retry.
	CodecFallbackAttempted bool `json:"codec_fallback_attempted,omitempty"`
}

// TableName returns the table name for Download.
func (Download) TableName() string {
	return "downloads"
}

// BeforeCreate generates a ULID and defaults StartedAt.
func (d *Download) BeforeCreate(tx *gorm.DB) error {
	if err := d.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = Now()
	}
	return nil
}

// HistoryEntry is a completed/errored/canceled Download retained for
// display after it leaves the active map (spec §3).
type HistoryEntry struct {
	BaseModel

	DownloadID  ULID           `gorm:"type:varchar(26);index" json:"download_id"`
	DownloadURL string         `gorm:"size:2048" json:"download_url"`
	MasterURL   string         `gorm:"size:2048" json:"master_url,omitempty"`
	Filename    string         `gorm:"size:512" json:"filename"`
	Type        DownloadType   `gorm:"size:16" json:"type"`
	Status      DownloadStatus `gorm:"size:16;index" json:"status"`

	CompletedAt Time `gorm:"index" json:"completed_at"`

	PageURL      string `gorm:"size:2048" json:"page_url,omitempty"`
	PageFavicon  string `gorm:"size:2048" json:"page_favicon,omitempty"`

	VideoSizeBytes int64   `json:"video_size_bytes,omitempty"`
	AudioSizeBytes int64   `json:"audio_size_bytes,omitempty"`
	TotalSizeBytes int64   `json:"total_size_bytes,omitempty"`
	DurationSec    float64 `json:"duration_sec,omitempty"`

	ErrorMessage string `gorm:"size:2048" json:"error_message,omitempty"`
}

// TableName returns the table name for HistoryEntry.
func (HistoryEntry) TableName() string {
	return "history_entries"
}

// NewHistoryEntryFromDownload builds the HistoryEntry recorded when d
// reaches a success or error terminal status (spec §4.H: "canceled is
// not" written to history).
func NewHistoryEntryFromDownload(d *Download, completedAt Time) *HistoryEntry {
	return &HistoryEntry{
		DownloadID:     d.ID,
		DownloadURL:    d.DownloadURL,
		MasterURL:      d.MasterURL,
		Filename:       d.Filename,
		Type:           d.Type,
		Status:         d.Status,
		CompletedAt:    completedAt,
		TotalSizeBytes: d.TotalBytes,
		ErrorMessage:   d.ErrorMessage,
	}
}
