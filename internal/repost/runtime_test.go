package repost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgvk-repost-bot/internal/config"
	"tgvk-repost-bot/internal/packer"
)

func runtimeConfig() *config.Config {
	return &config.Config{
		VKGroupID:          123,
		SourceChannelIDs:   []int64{-100111},
		Mode:               ModeAuto,
		LimitStrategy:      string(packer.StrategyTruncate),
		AlbumFinalizeDelay: 3 * time.Second,
		MaxFileSizeBytes:   200 * 1024 * 1024,
		AutopostingEnabled: true,
	}
}

func TestLoadRuntimeDefaults(t *testing.T) {
	settings := &fakeSettings{values: map[string]string{}}

	rt, err := LoadRuntime(context.Background(), settings, runtimeConfig())
	require.NoError(t, err)
	assert.True(t, rt.AutopostingEnabled)
	assert.Equal(t, ModeAuto, rt.Mode)
	assert.Equal(t, packer.StrategyTruncate, rt.LimitStrategy)
	assert.Equal(t, int64(123), rt.VKGroupID)
	assert.Equal(t, []int64{-100111}, rt.SourceChannelIDs)
	assert.Equal(t, 3*time.Second, rt.DebounceWindow)
	assert.True(t, rt.Autopost())
}

func TestLoadRuntimeSettingsOverride(t *testing.T) {
	settings := &fakeSettings{values: map[string]string{
		SettingAutoposting:   "false",
		SettingMode:          ModeManual,
		SettingLimitStrategy: string(packer.StrategySplitPosts),
		SettingVKGroupID:     "456",
		SettingSourceIDs:     "-100222, -100333",
		SettingAlbumDelaySec: "10",
		SettingMaxMediaMB:    "50",
	}}

	rt, err := LoadRuntime(context.Background(), settings, runtimeConfig())
	require.NoError(t, err)
	assert.False(t, rt.AutopostingEnabled)
	assert.Equal(t, ModeManual, rt.Mode)
	assert.Equal(t, packer.StrategySplitPosts, rt.LimitStrategy)
	assert.Equal(t, int64(456), rt.VKGroupID)
	assert.Equal(t, []int64{-100222, -100333}, rt.SourceChannelIDs)
	assert.Equal(t, 10*time.Second, rt.DebounceWindow)
	assert.Equal(t, int64(50*1024*1024), rt.MaxMediaBytes)
	assert.False(t, rt.Autopost())
}

func TestLoadRuntimeIgnoresMalformedOverrides(t *testing.T) {
	settings := &fakeSettings{values: map[string]string{
		SettingVKGroupID: "not-a-number",
		SettingSourceIDs: "abc",
	}}

	rt, err := LoadRuntime(context.Background(), settings, runtimeConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(123), rt.VKGroupID)
	assert.Equal(t, []int64{-100111}, rt.SourceChannelIDs)
}
