package repost

import (
	"context"
	"strconv"
	"time"

	"tgvk-repost-bot/internal/config"
	"tgvk-repost-bot/internal/database"
	"tgvk-repost-bot/internal/logger"
	"tgvk-repost-bot/internal/packer"
)

// Setting keys for runtime overrides. Admin commands write these; every task
// invocation reads them fresh so changes take effect without a restart.
const (
	SettingAutoposting   = "autoposting_enabled"
	SettingMode          = "mode"
	SettingLimitStrategy = "limit_strategy"
	SettingVKGroupID     = "vk_group_id"
	SettingSourceIDs     = "source_channel_ids"
	SettingAlbumDelaySec = "album_finalize_delay_sec"
	SettingMaxMediaMB    = "max_file_size_mb"
)

// Modes of operation. In any non-auto mode posts are recorded but only
// published through the explicit /repost command. "manual" is accepted as a
// synonym for "moderation".
const (
	ModeAuto       = "auto"
	ModeModeration = "moderation"
	ModeManual     = "manual"
)

// Runtime is the effective configuration for one task invocation: env
// defaults overlaid with persisted settings.
type Runtime struct {
	AutopostingEnabled bool
	Mode               string
	LimitStrategy      packer.Strategy
	VKGroupID          int64
	SourceChannelIDs   []int64
	DebounceWindow     time.Duration
	MaxMediaBytes      int64
}

// Autopost reports whether ingestion should schedule publish tasks.
func (r Runtime) Autopost() bool {
	return r.AutopostingEnabled && r.Mode == ModeAuto
}

// LoadRuntime reads the runtime settings, falling back to env config values
// for keys that were never overridden.
func LoadRuntime(ctx context.Context, settings database.SettingsRepository, cfg *config.Config) (Runtime, error) {
	rt := Runtime{
		AutopostingEnabled: cfg.AutopostingEnabled,
		Mode:               cfg.Mode,
		LimitStrategy:      packer.Strategy(cfg.LimitStrategy),
		VKGroupID:          cfg.VKGroupID,
		SourceChannelIDs:   cfg.SourceChannelIDs,
		DebounceWindow:     cfg.AlbumFinalizeDelay,
		MaxMediaBytes:      cfg.MaxFileSizeBytes,
	}

	enabled, err := settings.GetDefault(ctx, SettingAutoposting, strconv.FormatBool(rt.AutopostingEnabled))
	if err != nil {
		return rt, err
	}
	if parsed, parseErr := strconv.ParseBool(enabled); parseErr == nil {
		rt.AutopostingEnabled = parsed
	}

	mode, err := settings.GetDefault(ctx, SettingMode, rt.Mode)
	if err != nil {
		return rt, err
	}
	rt.Mode = mode

	strategy, err := settings.GetDefault(ctx, SettingLimitStrategy, string(rt.LimitStrategy))
	if err != nil {
		return rt, err
	}
	rt.LimitStrategy = packer.Strategy(strategy)
	if !rt.LimitStrategy.Known() {
		logger.WithField("strategy", strategy).Warn("Unknown limit strategy, posts will be truncated")
	}

	groupRaw, err := settings.GetDefault(ctx, SettingVKGroupID, "")
	if err != nil {
		return rt, err
	}
	if groupRaw != "" {
		if parsed, parseErr := strconv.ParseInt(groupRaw, 10, 64); parseErr == nil && parsed != 0 {
			rt.VKGroupID = parsed
		} else {
			logger.WithField("value", groupRaw).Warn("Ignoring malformed vk_group_id setting")
		}
	}

	sourcesRaw, err := settings.GetDefault(ctx, SettingSourceIDs, "")
	if err != nil {
		return rt, err
	}
	if sourcesRaw != "" {
		if parsed, parseErr := config.ParseInt64List(sourcesRaw); parseErr == nil {
			rt.SourceChannelIDs = parsed
		} else {
			logger.WithField("value", sourcesRaw).Warn("Ignoring malformed source_channel_ids setting")
		}
	}

	delayRaw, err := settings.GetDefault(ctx, SettingAlbumDelaySec, "")
	if err != nil {
		return rt, err
	}
	if delayRaw != "" {
		if parsed, parseErr := strconv.Atoi(delayRaw); parseErr == nil && parsed > 0 {
			rt.DebounceWindow = time.Duration(parsed) * time.Second
		}
	}

	sizeRaw, err := settings.GetDefault(ctx, SettingMaxMediaMB, "")
	if err != nil {
		return rt, err
	}
	if sizeRaw != "" {
		if parsed, parseErr := strconv.Atoi(sizeRaw); parseErr == nil && parsed > 0 {
			rt.MaxMediaBytes = int64(parsed) * 1024 * 1024
		}
	}

	return rt, nil
}
