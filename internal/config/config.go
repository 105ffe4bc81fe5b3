package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.msgdb/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	// SendReadReceipts controls whether marking messages read reports
	// read-sync entries to the caller for transmission.
	SendReadReceipts bool `toml:"send_read_receipts"`

	Trim         TrimConfig         `toml:"trim"`
	EarlyReceipt EarlyReceiptConfig `toml:"early_receipt"`
}

// TrimConfig controls per-thread message retention.
type TrimConfig struct {
	// MaxMessagesPerThread keeps only the newest N messages per thread.
	// Zero disables count-based trimming.
	MaxMessagesPerThread int `toml:"max_messages_per_thread"`
	// MaxAgeDays deletes messages received more than this many days ago.
	// Zero disables age-based trimming.
	MaxAgeDays int `toml:"max_age_days"`
}

// EarlyReceiptConfig bounds the buffer of receipts that arrive before
// their message.
type EarlyReceiptConfig struct {
	TTLMinutes int `toml:"ttl_minutes"`
	MaxSize    int `toml:"max_size"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile:   "main",
		SendReadReceipts: true,
		EarlyReceipt:     EarlyReceiptConfig{TTLMinutes: 60, MaxSize: 1000},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
