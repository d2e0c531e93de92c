package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const LUT_CONFIG_KEY = "lut-config"

type LUTConfig struct {
	// Addresses are lookup tables declared on every keeper item (base58).
	Addresses []string
}

func (c *LUTConfig) Key() string {
	return LUT_CONFIG_KEY
}

func (c *LUTConfig) Load() error {
	c.Addresses = splitList(os.Getenv("LUT_ADDRESSES"))
	return c.Validate()
}

func (c *LUTConfig) Validate() error {
	_, err := c.PublicKeys()
	return err
}

func (c *LUTConfig) PublicKeys() ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(c.Addresses))
	for _, addr := range c.Addresses {
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid LUT address %q: %w", addr, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
