package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"

	"github.com/hxuan190/leverage-keeper/internal/txn"
)

//go:embed program_errors.yaml
var defaultProgramErrors []byte

type programErrors struct {
	Label     string                         `yaml:"label"`
	ProgramID string                         `yaml:"program_id"`
	Alias     string                         `yaml:"alias"`
	Errors    map[uint32]txn.ErrorDefinition `yaml:"errors"`
}

type registryFile struct {
	Programs []programErrors `yaml:"programs"`
}

// ErrorRegistryConfig points at an optional YAML file layered on top of the
// embedded defaults.
type ErrorRegistryConfig struct {
	Path string
}

func (c *ErrorRegistryConfig) Key() string {
	return ERROR_REGISTRY_CONFIG_KEY
}

func (c *ErrorRegistryConfig) Load() error {
	c.Path = os.Getenv("PROGRAM_ERRORS_FILE")
	return c.Validate()
}

func (c *ErrorRegistryConfig) Validate() error {
	if c.Path == "" {
		return nil
	}
	if _, err := os.Stat(c.Path); err != nil {
		return fmt.Errorf("program errors file: %w", err)
	}
	return nil
}

// Registry builds the error registry. aliases bind entries that name a
// deployment-specific program (such as the lending venue) to its address.
func (c *ErrorRegistryConfig) Registry(aliases map[string]solana.PublicKey) (*txn.ErrorRegistry, error) {
	registry := txn.NewErrorRegistry()
	if err := registerPrograms(registry, defaultProgramErrors, aliases); err != nil {
		return nil, fmt.Errorf("default program errors: %w", err)
	}
	if c.Path == "" {
		return registry, nil
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("read program errors: %w", err)
	}
	if err := registerPrograms(registry, data, aliases); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Path, err)
	}
	return registry, nil
}

func registerPrograms(registry *txn.ErrorRegistry, data []byte, aliases map[string]solana.PublicKey) error {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}

	for _, p := range file.Programs {
		program, ok, err := resolveProgram(p, aliases)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		registry.Register(program, p.Label, p.Errors)
	}
	return nil
}

func resolveProgram(p programErrors, aliases map[string]solana.PublicKey) (solana.PublicKey, bool, error) {
	if p.ProgramID != "" {
		pk, err := solana.PublicKeyFromBase58(p.ProgramID)
		if err != nil {
			return solana.PublicKey{}, false, fmt.Errorf("program %q: %w", p.Label, err)
		}
		return pk, true, nil
	}
	pk, ok := aliases[p.Alias]
	return pk, ok, nil
}
