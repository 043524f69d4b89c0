package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FeePolicy splits a captured amount between the platform and the helper.
// PercentBps is the platform share in basis points; FixedMinor is an
// additional flat fee in minor currency units. The helper receives
// amount - fee, never less than zero.
type FeePolicy struct {
	PercentBps int   `mapstructure:"percentBps"`
	FixedMinor int64 `mapstructure:"fixedMinor"`
	MinFee     int64 `mapstructure:"minFee"`
}

func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		PercentBps: 1000, // 10%
		FixedMinor: 0,
		MinFee:     0,
	}
}

// Split returns (platformFee, helperAmount) for a captured amount in minor units.
func (p FeePolicy) Split(amount int64) (int64, int64) {
	if amount <= 0 {
		return 0, 0
	}
	fee := amount*int64(p.PercentBps)/10_000 + p.FixedMinor
	if fee < p.MinFee {
		fee = p.MinFee
	}
	if fee > amount {
		fee = amount
	}
	return fee, amount - fee
}

type FeePolicyHolder struct {
	current atomic.Value // holds FeePolicy
}

func NewFeePolicyHolder() (*FeePolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("fees")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/sahayak/config") // Volume-mounted config
	v.AddConfigPath("/etc/sahayak")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("SAHAYAK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultFeePolicy()
		v.SetDefault("fees.percentBps", defaults.PercentBps)
		v.SetDefault("fees.fixedMinor", defaults.FixedMinor)
		v.SetDefault("fees.minFee", defaults.MinFee)
	}

	var policy FeePolicy
	if err := v.UnmarshalKey("fees", &policy); err != nil {
		return nil, err
	}
	if err := validateFeePolicy(policy); err != nil {
		return nil, err
	}

	holder := &FeePolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated FeePolicy
		if err := v.UnmarshalKey("fees", &updated); err != nil {
			log.Printf("[fee-config] reload failed: %v", err)
			return
		}
		if err := validateFeePolicy(updated); err != nil {
			log.Printf("[fee-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[fee-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticFeePolicyHolder is for tests and tools that need a fixed policy.
func NewStaticFeePolicyHolder(policy FeePolicy) *FeePolicyHolder {
	holder := &FeePolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *FeePolicyHolder) Get() FeePolicy {
	return h.current.Load().(FeePolicy)
}

func validateFeePolicy(policy FeePolicy) error {
	if policy.PercentBps < 0 || policy.PercentBps > 10_000 {
		return errors.New("fees.percentBps must be within [0, 10000]")
	}
	if policy.FixedMinor < 0 {
		return errors.New("fees.fixedMinor cannot be negative")
	}
	if policy.MinFee < 0 {
		return errors.New("fees.minFee cannot be negative")
	}
	return nil
}
