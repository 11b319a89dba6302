package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TrackingPolicy holds the tunable constants of the attribution store.
type TrackingPolicy struct {
	RecordName        string        `mapstructure:"recordName"`
	ExperimentsName   string        `mapstructure:"experimentsName"`
	Placeholder       string        `mapstructure:"placeholder"`
	RecordTTL         time.Duration `mapstructure:"recordTTL"`
	AdIdentityTTL     time.Duration `mapstructure:"adIdentityTTL"`
	SessionWindow     time.Duration `mapstructure:"sessionWindow"`
	DedupWindow       time.Duration `mapstructure:"dedupWindow"`
	PageViewWindow    time.Duration `mapstructure:"pageViewWindow"`
	TabIdleTimeout    time.Duration `mapstructure:"tabIdleTimeout"`
	BlockedReferrers  []string      `mapstructure:"blockedReferrers"`
	DefaultConsent    bool          `mapstructure:"defaultConsent"`
	StrictInvariants  bool          `mapstructure:"strictInvariants"`
	MaxUserAgentBytes int           `mapstructure:"maxUserAgentBytes"`
}

func DefaultTrackingPolicy() TrackingPolicy {
	return TrackingPolicy{
		RecordName:      "_trk",
		ExperimentsName: "_exp",
		Placeholder:     "direct",
		RecordTTL:       30 * 24 * time.Hour,
		AdIdentityTTL:   90 * 24 * time.Hour,
		SessionWindow:   15 * time.Minute,
		DedupWindow:     60 * time.Second,
		PageViewWindow:  5 * time.Second,
		TabIdleTimeout:  30 * time.Minute,
		BlockedReferrers: []string{
			"checkout.stripe.com",
			"js.stripe.com",
			"hooks.stripe.com",
			"stripe.com",
			"paypal.com",
			"www.paypal.com",
		},
		DefaultConsent:    true,
		StrictInvariants:  true,
		MaxUserAgentBytes: 256,
	}
}

// PolicyHolder serves the current TrackingPolicy and swaps it on file change.
type PolicyHolder struct {
	current atomic.Value // holds TrackingPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p TrackingPolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

// NewPolicyHolder loads tracking.yml from cfg.PolicyPaths. Without a file the
// defaults apply and nothing is watched.
func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("tracking.policy")
	v := viper.New()

	v.SetConfigName("tracking")
	v.SetConfigType("yml")
	for _, path := range cfg.PolicyPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("TRACKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTrackingPolicy()
	defaults.StrictInvariants = !cfg.IsProduction()
	setPolicyDefaults(v, defaults)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		log.Info("no policy file found, using defaults", zap.Strings("paths", cfg.PolicyPaths))
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("invalid policy ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := holder.reload(updated); err != nil {
			log.Warn("policy reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// errRestartOnly rejects reloads that rename stored state. Records written
// under the old names would be orphaned mid-flight, so those keys only change
// on restart.
var errRestartOnly = errors.New("tracking names and placeholder change only on restart")

func (h *PolicyHolder) reload(updated TrackingPolicy) error {
	current := h.Current()
	if updated.RecordName != current.RecordName ||
		updated.ExperimentsName != current.ExperimentsName ||
		updated.Placeholder != current.Placeholder {
		return errRestartOnly
	}
	h.current.Store(updated)
	return nil
}

func (h *PolicyHolder) Current() TrackingPolicy {
	if h == nil {
		return DefaultTrackingPolicy()
	}
	if p, ok := h.current.Load().(TrackingPolicy); ok {
		return p
	}
	return DefaultTrackingPolicy()
}

func setPolicyDefaults(v *viper.Viper, p TrackingPolicy) {
	v.SetDefault("tracking.recordName", p.RecordName)
	v.SetDefault("tracking.experimentsName", p.ExperimentsName)
	v.SetDefault("tracking.placeholder", p.Placeholder)
	v.SetDefault("tracking.recordTTL", p.RecordTTL)
	v.SetDefault("tracking.adIdentityTTL", p.AdIdentityTTL)
	v.SetDefault("tracking.sessionWindow", p.SessionWindow)
	v.SetDefault("tracking.dedupWindow", p.DedupWindow)
	v.SetDefault("tracking.pageViewWindow", p.PageViewWindow)
	v.SetDefault("tracking.tabIdleTimeout", p.TabIdleTimeout)
	v.SetDefault("tracking.blockedReferrers", p.BlockedReferrers)
	v.SetDefault("tracking.defaultConsent", p.DefaultConsent)
	v.SetDefault("tracking.strictInvariants", p.StrictInvariants)
	v.SetDefault("tracking.maxUserAgentBytes", p.MaxUserAgentBytes)
}

func decodePolicy(v *viper.Viper) (TrackingPolicy, error) {
	var p TrackingPolicy
	if err := v.UnmarshalKey("tracking", &p); err != nil {
		return TrackingPolicy{}, err
	}
	p.BlockedReferrers = normalizeHosts(p.BlockedReferrers)
	if err := ValidateTrackingPolicy(p); err != nil {
		return TrackingPolicy{}, err
	}
	return p, nil
}

func ValidateTrackingPolicy(p TrackingPolicy) error {
	if strings.TrimSpace(p.RecordName) == "" || strings.TrimSpace(p.ExperimentsName) == "" {
		return errors.New("tracking record names are required")
	}
	if p.RecordName == p.ExperimentsName {
		return errors.New("tracking record and experiments names must differ")
	}
	if strings.TrimSpace(p.Placeholder) == "" {
		return errors.New("tracking placeholder is required")
	}
	if p.RecordTTL <= 0 || p.AdIdentityTTL <= 0 {
		return errors.New("tracking ttls must be positive")
	}
	if p.SessionWindow <= 0 || p.DedupWindow <= 0 || p.PageViewWindow <= 0 {
		return errors.New("tracking windows must be positive")
	}
	if p.TabIdleTimeout <= 0 {
		return errors.New("tracking tab idle timeout must be positive")
	}
	if p.MaxUserAgentBytes <= 0 {
		return errors.New("tracking max user agent bytes must be positive")
	}
	return nil
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}
