package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config carries the policy knobs of the reencryption flow. The reference
// values are deliberate policy choices, not safety-critical limits, but the
// reserved tail must stay consistent between the shrink and the partition
// creation steps, so both read it from here.
type Config struct {
	// ReduceSize is passed to cryptsetup reencrypt as --reduce-device-size,
	// reserving room for the LUKS2 headers.
	ReduceSize string `yaml:"reduce_size,omitempty"`

	// ReservedTailMiB is how much trailing space the shrink step frees for
	// the new /boot partition: headroom for ~1GiB plus alignment slack.
	ReservedTailMiB int `yaml:"reserved_tail_mib,omitempty"`

	// MapperName is the device-mapper name the encrypted container is
	// opened under during system integration.
	MapperName string `yaml:"mapper_name,omitempty"`

	// ScratchRoot is where the opened container is mounted for chroot work.
	ScratchRoot string `yaml:"scratch_root,omitempty"`

	// BootScratch is the temporary mountpoint used while copying /boot.
	BootScratch string `yaml:"boot_scratch,omitempty"`

	// BootLabel is the filesystem label given to the new boot partition.
	BootLabel string `yaml:"boot_label,omitempty"`

	// JournalPath is the run-journal database location.
	JournalPath string `yaml:"journal,omitempty"`
}

var defaultConfig = Config{
	ReduceSize:      "32M",
	ReservedTailMiB: 1050,
	MapperName:      "cryptroot",
	ScratchRoot:     "/mnt/root",
	BootScratch:     "/mnt/tmpboot",
	BootLabel:       "BOOT",
	JournalPath:     "/var/lib/reluks/journal.db",
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Load reads the configuration from path, or from the first default
// location that exists when path is empty. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		candidates := []string{
			"/etc/reluks/config.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/reluks/config.yaml"),
			"config.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	var cfg Config
	if path == "" {
		cfg = defaultConfig
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			cfg = defaultConfig
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Backfill anything the file left unset
	if cfg.ReduceSize == "" {
		cfg.ReduceSize = defaultConfig.ReduceSize
	}
	if cfg.ReservedTailMiB == 0 {
		cfg.ReservedTailMiB = defaultConfig.ReservedTailMiB
	}
	if cfg.MapperName == "" {
		cfg.MapperName = defaultConfig.MapperName
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = defaultConfig.ScratchRoot
	}
	if cfg.BootScratch == "" {
		cfg.BootScratch = defaultConfig.BootScratch
	}
	if cfg.BootLabel == "" {
		cfg.BootLabel = defaultConfig.BootLabel
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = defaultConfig.JournalPath
	}

	return &cfg, nil
}
