package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewPolicyHolderDefaultsWithoutFile(t *testing.T) {
	holder, err := NewPolicyHolder(Config{Environment: "production", PolicyPaths: []string{t.TempDir()}}, zap.NewNop())
	require.NoError(t, err)

	p := holder.Current()
	assert.Equal(t, "_trk", p.RecordName)
	assert.Equal(t, 15*time.Minute, p.SessionWindow)
	assert.Equal(t, 60*time.Second, p.DedupWindow)
	assert.Equal(t, "direct", p.Placeholder)
	assert.False(t, p.StrictInvariants)
}

func TestNewPolicyHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`tracking:
  sessionWindow: 20m
  dedupWindow: 90s
  blockedReferrers:
    - " Checkout.Example.com "
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracking.yml"), body, 0o600))

	holder, err := NewPolicyHolder(Config{Environment: "development", PolicyPaths: []string{dir}}, zap.NewNop())
	require.NoError(t, err)

	p := holder.Current()
	assert.Equal(t, 20*time.Minute, p.SessionWindow)
	assert.Equal(t, 90*time.Second, p.DedupWindow)
	assert.Equal(t, []string{"checkout.example.com"}, p.BlockedReferrers)
	assert.Equal(t, 30*24*time.Hour, p.RecordTTL)
	assert.True(t, p.StrictInvariants)
}

func TestValidateTrackingPolicyRejectsSharedNames(t *testing.T) {
	p := DefaultTrackingPolicy()
	p.ExperimentsName = p.RecordName
	assert.Error(t, ValidateTrackingPolicy(p))
}

func TestValidateTrackingPolicyRejectsZeroWindows(t *testing.T) {
	p := DefaultTrackingPolicy()
	assert.Equal(t, 5*time.Second, p.PageViewWindow)
	require.NoError(t, ValidateTrackingPolicy(p))

	p.PageViewWindow = 0
	assert.Error(t, ValidateTrackingPolicy(p))
}

func TestConfigDebug(t *testing.T) {
	assert.True(t, Config{Environment: "development"}.Debug())
	assert.True(t, Config{Environment: "production", Telemetry: TelemetryConfig{LogLevel: "debug"}}.Debug())
	assert.False(t, Config{Environment: "production"}.Debug())
}

func TestReloadKeepsNamesUntilRestart(t *testing.T) {
	holder := NewStaticPolicyHolder(DefaultTrackingPolicy())

	tuned := DefaultTrackingPolicy()
	tuned.SessionWindow = 45 * time.Minute
	require.NoError(t, holder.reload(tuned))
	assert.Equal(t, 45*time.Minute, holder.Current().SessionWindow)

	for name, edit := range map[string]func(*TrackingPolicy){
		"record name":      func(p *TrackingPolicy) { p.RecordName = "_trk2" },
		"experiments name": func(p *TrackingPolicy) { p.ExperimentsName = "_exp2" },
		"placeholder":      func(p *TrackingPolicy) { p.Placeholder = "(none)" },
	} {
		t.Run(name, func(t *testing.T) {
			renamed := tuned
			renamed.DedupWindow = time.Minute
			edit(&renamed)
			assert.ErrorIs(t, holder.reload(renamed), errRestartOnly)
			assert.Equal(t, tuned, holder.Current())
		})
	}
}
