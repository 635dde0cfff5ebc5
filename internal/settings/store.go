// Package settings implements the Settings Store (spec §4.K / §6): the
// recognized-option set of config.Settings, backed by file/env defaults
// and overridable at runtime through the `updateSettings` UI command,
// persisted via repository.SettingsRepository so overrides survive
// restart (spec §3 invariant 5).
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/observability"
	"github.com/streamcore/streamcore/internal/repository"
)

// Broadcaster is the narrow seam onto fanout.Registry.BroadcastAll
// needed here (spec §4.I's "settingsState" outbound event).
type Broadcaster interface {
	BroadcastAll(event string, payload any)
}

// overrideKey is the persisted-override column name for each recognized
// option (spec §6), matching config.Settings' mapstructure tags.
const (
	keyMaxConcurrentDownloads    = "max_concurrent_downloads"
	keyDefaultSavePath           = "default_save_path"
	keyShowDownloadNotifications = "show_download_notifications"
	keyMinFileSizeFilter         = "min_file_size_filter"
	keyAutoGeneratePreviews      = "auto_generate_previews"
	keyMaxHistorySize            = "max_history_size"
	keyHistoryAutoRemoveInterval = "history_auto_remove_interval"
)

// Store holds the live, merged Settings value (config defaults overlaid
// with any persisted overrides) and serializes updates to it.
type Store struct {
	mu          sync.RWMutex
	current     config.Settings
	repo        repository.SettingsRepository
	broadcaster Broadcaster
	logger      *slog.Logger
}

// New creates a Store seeded with defaults (the values config.Load
// produced from file/env). Callers must call Load before serving
// traffic to apply any persisted overrides.
func New(defaults config.Settings, repo repository.SettingsRepository, broadcaster Broadcaster, logger *slog.Logger) *Store {
	return &Store{
		current:     defaults,
		repo:        repo,
		broadcaster: broadcaster,
		logger:      observability.WithComponent(logger, "settings"),
	}
}

// Load overlays any persisted overrides onto the seeded defaults.
func (s *Store) Load(ctx context.Context) error {
	overrides, err := s.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("loading settings overrides: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	applyOverrides(&s.current, overrides)
	return nil
}

// Get returns the current merged Settings snapshot.
func (s *Store) Get() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update implements spec §6's `updateSettings`: partial contains only
// the keys the caller wishes to change, addressed by the camelCase
// names spec §6's table uses. The merged result is validated as a
// whole (config.Settings.Validate) before anything is persisted or
// applied — a single invalid field rejects the entire update.
func (s *Store) Update(ctx context.Context, partial map[string]any) (config.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.current
	changed := make(map[string]string)

	for field, value := range partial {
		key, stored, err := applyField(&candidate, field, value)
		if err != nil {
			return config.Settings{}, err
		}
		changed[key] = stored
	}

	if err := candidate.Validate(); err != nil {
		return config.Settings{}, err
	}

	for key, value := range changed {
		if err := s.repo.Set(ctx, key, value); err != nil {
			return config.Settings{}, fmt.Errorf("persisting setting %q: %w", key, err)
		}
	}

	s.current = candidate
	s.logger.Info("settings updated", slog.Int("fieldsChanged", len(changed)))
	if s.broadcaster != nil {
		s.broadcaster.BroadcastAll("settingsState", s.current)
	}
	return s.current, nil
}

// applyField mutates the relevant field of candidate for the given
// camelCase UI field name, returning its persisted-override key and
// string representation. Unrecognized fields are rejected per spec
// §6's closed set of recognized options.
func applyField(candidate *config.Settings, field string, value any) (key string, stored string, err error) {
	switch field {
	case "maxConcurrentDownloads":
		n, err := asInt(value)
		if err != nil {
			return "", "", fmt.Errorf("maxConcurrentDownloads: %w", err)
		}
		candidate.MaxConcurrentDownloads = n
		return keyMaxConcurrentDownloads, strconv.Itoa(n), nil
	case "defaultSavePath":
		str, ok := value.(string)
		if !ok {
			return "", "", fmt.Errorf("defaultSavePath must be a string")
		}
		candidate.DefaultSavePath = str
		return keyDefaultSavePath, str, nil
	case "showDownloadNotifications":
		b, err := asBool(value)
		if err != nil {
			return "", "", fmt.Errorf("showDownloadNotifications: %w", err)
		}
		candidate.ShowDownloadNotifications = b
		return keyShowDownloadNotifications, strconv.FormatBool(b), nil
	case "minFileSizeFilter":
		n, err := asInt64(value)
		if err != nil {
			return "", "", fmt.Errorf("minFileSizeFilter: %w", err)
		}
		candidate.MinFileSizeFilter = n
		return keyMinFileSizeFilter, strconv.FormatInt(n, 10), nil
	case "autoGeneratePreviews":
		b, err := asBool(value)
		if err != nil {
			return "", "", fmt.Errorf("autoGeneratePreviews: %w", err)
		}
		candidate.AutoGeneratePreviews = b
		return keyAutoGeneratePreviews, strconv.FormatBool(b), nil
	case "maxHistorySize":
		n, err := asInt(value)
		if err != nil {
			return "", "", fmt.Errorf("maxHistorySize: %w", err)
		}
		candidate.MaxHistorySize = n
		return keyMaxHistorySize, strconv.Itoa(n), nil
	case "historyAutoRemoveInterval":
		n, err := asInt(value)
		if err != nil {
			return "", "", fmt.Errorf("historyAutoRemoveInterval: %w", err)
		}
		candidate.HistoryAutoRemoveInterval = n
		return keyHistoryAutoRemoveInterval, strconv.Itoa(n), nil
	default:
		return "", "", fmt.Errorf("unrecognized setting %q", field)
	}
}

// applyOverrides parses persisted string values back onto target,
// silently skipping anything malformed (a corrupt override must not
// block the rest from loading).
func applyOverrides(target *config.Settings, overrides map[string]string) {
	if v, ok := overrides[keyMaxConcurrentDownloads]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			target.MaxConcurrentDownloads = n
		}
	}
	if v, ok := overrides[keyDefaultSavePath]; ok {
		target.DefaultSavePath = v
	}
	if v, ok := overrides[keyShowDownloadNotifications]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			target.ShowDownloadNotifications = b
		}
	}
	if v, ok := overrides[keyMinFileSizeFilter]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			target.MinFileSizeFilter = n
		}
	}
	if v, ok := overrides[keyAutoGeneratePreviews]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			target.AutoGeneratePreviews = b
		}
	}
	if v, ok := overrides[keyMaxHistorySize]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			target.MaxHistorySize = n
		}
	}
	if v, ok := overrides[keyHistoryAutoRemoveInterval]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			target.HistoryAutoRemoveInterval = n
		}
	}
}

func asInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", value)
	}
}

func asInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", value)
	}
}

func asBool(value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("expected a boolean, got %T", value)
	}
	return b, nil
}
