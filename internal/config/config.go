// Package config loads the startup feature flags. Flags are read once
// when the process starts; they select the capture path and are not
// meant to change at runtime.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Flags are the capture-path feature flags.
type Flags struct {
	// ForcePIDOnlyTaps forces the per-process tap family even when the
	// host supports per-bundle taps.
	ForcePIDOnlyTaps bool `mapstructure:"force_pid_only_taps"`
	// DisableBundleIDTaps disables the per-bundle family; functionally
	// equivalent to ForcePIDOnlyTaps, kept as a separate switch for
	// compatibility debugging.
	DisableBundleIDTaps bool `mapstructure:"disable_bundle_id_taps"`
}

// UseBundleTaps reports whether the per-bundle capture family may be
// used.
func (f Flags) UseBundleTaps() bool {
	return !f.ForcePIDOnlyTaps && !f.DisableBundleIDTaps
}

// Load reads flags from the environment (FINETUNE_FORCE_PID_ONLY_TAPS,
// FINETUNE_DISABLE_BUNDLE_ID_TAPS) and an optional finetune.yaml in
// configDir. Missing sources are fine; defaults are all-off.
func Load(configDir string) (Flags, error) {
	v := viper.New()
	v.SetDefault("force_pid_only_taps", false)
	v.SetDefault("disable_bundle_id_taps", false)

	v.SetEnvPrefix("finetune")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configDir != "" {
		v.SetConfigName("finetune")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Flags{}, err
			}
		}
	}

	var f Flags
	if err := v.Unmarshal(&f); err != nil {
		return Flags{}, err
	}
	return f, nil
}
