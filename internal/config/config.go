package config

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/chainharness/internal/fault"
)

const (
	// ManifestFile is the project manifest path relative to the project root.
	ManifestFile = "Clarinet.toml"

	// ChainSettingsFile is the chain settings path relative to the project root.
	ChainSettingsFile = "settings/Local.toml"

	// DefaultDeployer deploys every contract unless the manifest overrides it.
	DefaultDeployer = "ST1D0XTBR7WVNSYBJ7M26XSJAXMDJGJQKNEXAM6JH"
)

// MainConfig is the decoded project manifest.
type MainConfig struct {
	Project   ProjectConfig             `toml:"project"`
	Contracts map[string]ContractConfig `toml:"contracts"`
}

// ProjectConfig holds the [project] section.
type ProjectConfig struct {
	Name     string `toml:"name"`
	Deployer string `toml:"deployer"`
}

// ContractConfig is one [contracts.<name>] entry.
type ContractConfig struct {
	Path     string `toml:"path"`
	Deployer string `toml:"deployer"`
}

// ChainConfig is the decoded chain settings file.
type ChainConfig struct {
	Accounts map[string]AccountConfig `toml:"accounts"`
}

// AccountConfig is one [accounts.<name>] entry.
type AccountConfig struct {
	Balance    uint64 `toml:"balance"`
	Address    string `toml:"address"`
	Mnemonic   string `toml:"mnemonic"`
	Derivation string `toml:"derivation"`
}

// Loader supplies the manifest and chain settings for a project root.
type Loader interface {
	Load(root string) (*MainConfig, *ChainConfig, error)
}

// TOMLLoader reads both files from disk.
type TOMLLoader struct{}

var _ Loader = TOMLLoader{}

// Load reads Clarinet.toml and settings/Local.toml under root.
// All failures are ConfigErrors.
func (TOMLLoader) Load(root string) (*MainConfig, *ChainConfig, error) {
	main, err := LoadMain(filepath.Join(root, ManifestFile))
	if err != nil {
		return nil, nil, err
	}
	chain, err := LoadChain(filepath.Join(root, filepath.FromSlash(ChainSettingsFile)))
	if err != nil {
		return nil, nil, err
	}
	return main, chain, nil
}

// LoadMain reads and decodes a project manifest.
func LoadMain(path string) (*MainConfig, error) {
	var cfg MainConfig
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}

	if d := cfg.Project.Deployer; d != "" {
		if err := ValidateAddress(d); err != nil {
			return nil, fault.Config(err, "%s: project deployer", path)
		}
	}

	contracts := make(map[string]ContractConfig, len(cfg.Contracts))
	for name, c := range cfg.Contracts {
		key := norm.NFC.String(name)
		if _, dup := contracts[key]; dup {
			return nil, fault.Config(nil, "%s: duplicate contract %q after normalization", path, key)
		}
		if c.Path == "" {
			return nil, fault.Config(nil, "%s: contract %q has no path", path, key)
		}
		if c.Deployer != "" {
			if err := ValidateAddress(c.Deployer); err != nil {
				return nil, fault.Config(err, "%s: contract %q deployer", path, key)
			}
		}
		contracts[key] = c
	}
	cfg.Contracts = contracts

	return &cfg, nil
}

// LoadChain reads and decodes a chain settings file.
func LoadChain(path string) (*ChainConfig, error) {
	var cfg ChainConfig
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}

	accounts := make(map[string]AccountConfig, len(cfg.Accounts))
	for name, a := range cfg.Accounts {
		key := norm.NFC.String(name)
		if _, dup := accounts[key]; dup {
			return nil, fault.Config(nil, "%s: duplicate account %q after normalization", path, key)
		}
		accounts[key] = a
	}
	cfg.Accounts = accounts

	return &cfg, nil
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fault.Config(err, "%s not found", path)
	}
	if err != nil {
		return fault.Config(err, "read %s", path)
	}

	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fault.Config(err, "%s:%d:%d: malformed TOML", path, row, col)
		}
		return fault.Config(err, "%s: malformed TOML", path)
	}
	return nil
}

// ContractNames returns the contract names in sorted order.
func (m *MainConfig) ContractNames() []string {
	names := make([]string, 0, len(m.Contracts))
	for name := range m.Contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeployerFor resolves the deployer address for a contract: the
// contract's own deployer, then [project] deployer, then DefaultDeployer.
func (m *MainConfig) DeployerFor(name string) string {
	if c, ok := m.Contracts[name]; ok && c.Deployer != "" {
		return c.Deployer
	}
	if m.Project.Deployer != "" {
		return m.Project.Deployer
	}
	return DefaultDeployer
}

// AccountNames returns the account names in sorted order.
func (c *ChainConfig) AccountNames() []string {
	names := make([]string, 0, len(c.Accounts))
	for name := range c.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
