package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"tokenswap/native/swap"
)

// GenesisBalance seeds one account balance at first boot so swaps are
// executable out of the box.
type GenesisBalance struct {
	Account string `toml:"Account"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}

// Telemetry holds the OTLP exporter knobs.
type Telemetry struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
}

type Config struct {
	RPCAddress            string           `toml:"RPCAddress"`
	MetricsAddress        string           `toml:"MetricsAddress"`
	DataDir               string           `toml:"DataDir"`
	NetworkName           string           `toml:"NetworkName"`
	VaultAccount          string           `toml:"VaultAccount"`
	CancelPolicy          string           `toml:"CancelPolicy"`
	RefundPolicy          string           `toml:"RefundPolicy"`
	AllowSelfCounterparty bool             `toml:"AllowSelfCounterparty"`
	Telemetry             Telemetry        `toml:"Telemetry"`
	GenesisBalances       []GenesisBalance `toml:"GenesisBalance"`
}

func (c *Config) apply() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8645"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9464"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./swapdata"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "tokenswap-local"
	}
	if strings.TrimSpace(c.VaultAccount) == "" {
		c.VaultAccount = "swap-vault"
	}
	if strings.TrimSpace(c.CancelPolicy) == "" {
		c.CancelPolicy = "both"
	}
	if strings.TrimSpace(c.RefundPolicy) == "" {
		c.RefundPolicy = "best_effort"
	}
	if c.GenesisBalances == nil {
		c.GenesisBalances = []GenesisBalance{}
	}
}

// Load reads the configuration from the given path, falling back to defaults
// when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.apply()
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded.String())
	}
	cfg.apply()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects policy values outside the supported sets.
func (c *Config) Validate() error {
	if _, err := c.SwapPolicy(); err != nil {
		return err
	}
	return nil
}

// SwapPolicy resolves the configured policy strings into engine policy knobs.
func (c *Config) SwapPolicy() (swap.Policy, error) {
	policy := swap.Policy{AllowSelfCounterparty: c.AllowSelfCounterparty}
	switch strings.ToLower(strings.TrimSpace(c.CancelPolicy)) {
	case "", "both":
		policy.Cancel = swap.CancelByEitherParty
	case "initiator":
		policy.Cancel = swap.CancelByInitiatorOnly
	default:
		return swap.Policy{}, fmt.Errorf("config: unknown CancelPolicy %q (want both or initiator)", c.CancelPolicy)
	}
	switch strings.ToLower(strings.TrimSpace(c.RefundPolicy)) {
	case "", "best_effort":
		policy.Refund = swap.RefundBestEffort
	case "deferred":
		policy.Refund = swap.RefundDeferred
	default:
		return swap.Policy{}, fmt.Errorf("config: unknown RefundPolicy %q (want best_effort or deferred)", c.RefundPolicy)
	}
	return policy, nil
}
