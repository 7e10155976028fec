package config

import (
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/internal/role"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type pricingFile struct {
	Prices      map[string]int64 `mapstructure:"prices"`
	Commissions map[string]int64 `mapstructure:"commissions"`
}

// PricingHolder serves the pricing table and swaps it atomically when the
// backing file changes.
type PricingHolder struct {
	current atomic.Value // holds pricing.Table
}

// NewPricingHolder loads pricing.yml, falling back to the stock table when
// no file exists.
func NewPricingHolder(cfg Config, log *zap.Logger) (*PricingHolder, error) {
	v := viper.New()

	if cfg.PricingConfigPath != "" {
		v.SetConfigFile(cfg.PricingConfigPath)
	} else {
		v.SetConfigName("pricing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/vervex")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("VERVEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := pricing.DefaultTable()
	v.SetDefault("pricing.prices", toFileMap(defaults.Prices))
	v.SetDefault("pricing.commissions", toFileMap(defaults.Commissions))

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	table, err := decodePricing(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPricingHolder(table)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePricing(v)
		if err != nil {
			log.Warn("pricing reload rejected", zap.String("file", filepath.Base(e.Name)), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing reloaded", zap.String("file", filepath.Base(e.Name)))
	})

	return holder, nil
}

// NewStaticPricingHolder wraps a fixed table.
func NewStaticPricingHolder(table pricing.Table) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(table)
	return holder
}

// Current implements pricing.Source.
func (h *PricingHolder) Current() pricing.Table {
	return h.current.Load().(pricing.Table)
}

func decodePricing(v *viper.Viper) (pricing.Table, error) {
	var raw pricingFile
	if err := v.UnmarshalKey("pricing", &raw); err != nil {
		return pricing.Table{}, err
	}

	table := pricing.Table{
		Prices:      fromFileMap(raw.Prices),
		Commissions: fromFileMap(raw.Commissions),
	}
	if err := table.Validate(); err != nil {
		return pricing.Table{}, err
	}
	return table, nil
}

func toFileMap(in map[role.Role]pricing.Money) map[string]int64 {
	out := make(map[string]int64, len(in))
	for r, amount := range in {
		out[string(r)] = int64(amount)
	}
	return out
}

func fromFileMap(in map[string]int64) map[role.Role]pricing.Money {
	out := make(map[role.Role]pricing.Money, len(in))
	for key, amount := range in {
		out[role.Role(strings.ToLower(strings.TrimSpace(key)))] = pricing.Money(amount)
	}
	return out
}
