// Package config defines the configuration every server binds via Cobra
// flags and an optional Viper-parsed YAML file, patterned on the
// teacher's populateArgs/validateConfig/initConfig flow but reshaped
// around the shared CLI
// surface in SPEC_FULL.md §2.2 / §6.3: `<server> [-u uid] [-g gid]
// [-m mode] [-r] <mount-path> <device-path>`.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every flag common to extfsd, fatfsd, devfs and ifsd. ifsd
// takes its image file path as its own second positional argument
// rather than DevicePath (see cmd/ifsd).
type Config struct {
	UID   uint32
	GID   uint32
	Mode  uint32
	ReadOnly bool

	MountPath  string
	DevicePath string

	LogLevel  string
	LogFormat string

	FlushIntervalSeconds int
	CacheBlocks          int
}

// Defaults returns the configuration baseline: mode 0700, flush interval
// 10 seconds (SPEC_FULL.md §2.2), and 64 cache blocks (§4.2).
func Defaults() Config {
	return Config{
		Mode:                 0700,
		LogLevel:             "info",
		LogFormat:            "text",
		FlushIntervalSeconds: 10,
		CacheBlocks:          64,
	}
}

// BindFlags registers every shared flag on fs, mirroring cfg.BindFlags's
// role in the teacher's init().
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.Uint32VarP(&cfg.UID, "uid", "u", cfg.UID, "default owner uid for the mounted volume")
	fs.Uint32VarP(&cfg.GID, "gid", "g", cfg.GID, "default owner gid for the mounted volume")
	fs.Uint32VarP(&cfg.Mode, "mode", "m", cfg.Mode, "permission bits for the mount root (accepted; no server applies it)")
	fs.BoolVarP(&cfg.ReadOnly, "read-only", "r", cfg.ReadOnly, "force read-only mount")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace|debug|info|warn|error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text|json")
	fs.IntVar(&cfg.FlushIntervalSeconds, "flush-interval", cfg.FlushIntervalSeconds, "seconds between periodic dirty-block flushes")
	fs.IntVar(&cfg.CacheBlocks, "cache-blocks", cfg.CacheBlocks, "fixed block-cache capacity in blocks")
}

// LoadFile merges a YAML config file (if path is non-empty) over cfg
// using Viper, matching initConfig's SetConfigFile/ReadInConfig/
// Unmarshal sequence.
func LoadFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolving path: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: reading %s: %w", abs, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	return nil
}

// ParsePositional fills MountPath/DevicePath from the two trailing
// positional CLI arguments, per SPEC_FULL.md §6.3.
func (c *Config) ParsePositional(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("config: expected <mount-path> <device-path>, got %d args", len(args))
	}
	c.MountPath = args[0]
	c.DevicePath = args[1]
	return nil
}
