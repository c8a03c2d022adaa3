package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/keycard-proto/globalplatform"
	"github.com/status-im/keycard-proto/hexutils"
	"github.com/status-im/keycard-proto/types"
	"gopkg.in/yaml.v3"
)

const (
	scp02KeyLength = 16
	pairingKeyLen  = 32
	maxPairingSlot = 99
)

var errPairingNotConfigured = errors.New("pairing not configured")

type Config struct {
	ReaderIndex    int                  `yaml:"reader_index"`
	LogLevel       string               `yaml:"log_level"`
	GlobalPlatform GlobalPlatformConfig `yaml:"globalplatform"`
	Pairing        PairingConfig        `yaml:"pairing"`
}

type GlobalPlatformConfig struct {
	EncKey string `yaml:"enc_key"`
	MacKey string `yaml:"mac_key"`
}

type PairingConfig struct {
	Index *int   `yaml:"index"`
	Key   string `yaml:"key"`
}

func defaultConfig() *Config {
	defaultKey := hexutils.BytesToHex(globalplatform.DefaultKey)

	return &Config{
		LogLevel: "info",
		GlobalPlatform: GlobalPlatformConfig{
			EncKey: defaultKey,
			MacKey: defaultKey,
		},
	}
}

// LoadConfig reads a YAML config. Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	cfg := defaultConfig()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ReaderIndex < 0 {
		return fmt.Errorf("config.reader_index must be >= 0")
	}

	if _, err := c.Level(); err != nil {
		return fmt.Errorf("config.log_level: %w", err)
	}

	if err := validateHexKey(c.GlobalPlatform.EncKey, scp02KeyLength, "config.globalplatform.enc_key"); err != nil {
		return err
	}

	if err := validateHexKey(c.GlobalPlatform.MacKey, scp02KeyLength, "config.globalplatform.mac_key"); err != nil {
		return err
	}

	if c.Pairing.Index == nil && strings.TrimSpace(c.Pairing.Key) == "" {
		return nil
	}

	if c.Pairing.Index == nil {
		return fmt.Errorf("config.pairing.index is required when config.pairing.key is set")
	}

	if *c.Pairing.Index < 0 || *c.Pairing.Index > maxPairingSlot {
		return fmt.Errorf("config.pairing.index must be 0..%d", maxPairingSlot)
	}

	return validateHexKey(c.Pairing.Key, pairingKeyLen, "config.pairing.key")
}

func (c *Config) Level() (log.Lvl, error) {
	return log.LvlFromString(strings.ToLower(c.LogLevel))
}

// SCP02Keys returns the static keys of the issuer security domain. Validate must have succeeded.
func (c *Config) SCP02Keys() *globalplatform.SCP02Keys {
	return globalplatform.NewSCP02Keys(
		hexutils.HexToBytes(c.GlobalPlatform.EncKey),
		hexutils.HexToBytes(c.GlobalPlatform.MacKey),
	)
}

func (c *Config) PairingInfo() (*types.PairingInfo, error) {
	if c.Pairing.Index == nil {
		return nil, errPairingNotConfigured
	}

	key, err := hexutils.DecodeHex(c.Pairing.Key)
	if err != nil {
		return nil, err
	}

	return &types.PairingInfo{Key: key, Index: *c.Pairing.Index}, nil
}

func validateHexKey(s string, length int, name string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", name)
	}

	key, err := hexutils.DecodeHex(s)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if len(key) != length {
		return fmt.Errorf("%s must be %d bytes, got %d", name, length, len(key))
	}

	return nil
}
