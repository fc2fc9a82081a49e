package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chainharness/internal/fault"
	"github.com/roach88/chainharness/internal/testutil"
)

func TestTOMLLoader_Load(t *testing.T) {
	root := testutil.WriteProject(t, t.TempDir(), testutil.CounterProject())

	main, chain, err := TOMLLoader{}.Load(root)
	require.NoError(t, err)

	assert.Equal(t, "fixture", main.Project.Name)
	require.Contains(t, main.Contracts, "counter")
	assert.Equal(t, "contracts/counter.clar", main.Contracts["counter"].Path)

	require.Contains(t, chain.Accounts, "wallet_1")
	acct := chain.Accounts["wallet_1"]
	assert.Equal(t, uint64(1_000_000), acct.Balance)
	assert.Equal(t, testutil.Wallet1Address, acct.Address)
	assert.Equal(t, testutil.TestDerivation, acct.Derivation)
}

func TestTOMLLoader_MissingManifest(t *testing.T) {
	_, _, err := TOMLLoader{}.Load(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, fault.CodeConfig, fault.CodeOf(err))
	assert.Contains(t, err.Error(), ManifestFile)
}

func TestTOMLLoader_MissingChainSettings(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, ManifestFile, "[project]\nname = \"x\"\n")

	_, _, err := TOMLLoader{}.Load(root)
	require.Error(t, err)
	assert.Equal(t, fault.CodeConfig, fault.CodeOf(err))
}

func TestLoadMain_Malformed(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), ManifestFile, "[project\nname = 1")

	_, err := LoadMain(path)
	require.Error(t, err)
	assert.Equal(t, fault.CodeConfig, fault.CodeOf(err))
	assert.Contains(t, err.Error(), "malformed TOML")
}

func TestLoadMain_ContractWithoutPath(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), ManifestFile, "[contracts.counter]\n")

	_, err := LoadMain(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no path")
}

func TestLoadMain_MalformedDeployer(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     string
	}{
		{
			name:     "project",
			manifest: "[project]\nname = \"p\"\ndeployer = \"nope\"\n",
			want:     "project deployer",
		},
		{
			name:     "contract",
			manifest: "[contracts.counter]\npath = \"contracts/counter.clar\"\ndeployer = \"ST0\"\n",
			want:     `contract "counter" deployer`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.WriteFile(t, t.TempDir(), ManifestFile, tt.manifest)

			_, err := LoadMain(path)
			require.Error(t, err)
			assert.Equal(t, fault.CodeConfig, fault.CodeOf(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadChain_NegativeBalance(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "Local.toml", "[accounts.w]\nbalance = -5\n")

	_, err := LoadChain(path)
	require.Error(t, err)
	assert.Equal(t, fault.CodeConfig, fault.CodeOf(err))
}

func TestLoadMain_IgnoresUnknownSections(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), ManifestFile, `
[project]
name = "p"
requirements = []

[repl.analysis]
passes = ["check_checker"]

[contracts.a]
path = "contracts/a.clar"
clarity_version = 2
`)
	main, err := LoadMain(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, main.ContractNames())
}

func TestMainConfig_DeployerFor(t *testing.T) {
	main := &MainConfig{
		Contracts: map[string]ContractConfig{
			"a": {Path: "a.clar"},
			"b": {Path: "b.clar", Deployer: testutil.Wallet2Address},
		},
	}
	assert.Equal(t, DefaultDeployer, main.DeployerFor("a"))
	assert.Equal(t, testutil.Wallet2Address, main.DeployerFor("b"))

	main.Project.Deployer = testutil.DeployerAddress
	assert.Equal(t, testutil.DeployerAddress, main.DeployerFor("a"))
	assert.Equal(t, testutil.Wallet2Address, main.DeployerFor("b"))
}

func TestChainConfig_AccountNamesSorted(t *testing.T) {
	p := testutil.Project{
		Accounts: []testutil.Account{
			{Name: "wallet_2", Address: testutil.Wallet2Address, Balance: 1},
			{Name: "deployer", Address: testutil.DeployerAddress, Balance: 1},
			{Name: "wallet_1", Address: testutil.Wallet1Address, Balance: 1},
		},
	}
	root := testutil.WriteProject(t, t.TempDir(), p)

	chain, err := LoadChain(filepath.Join(root, filepath.FromSlash(ChainSettingsFile)))
	require.NoError(t, err)
	assert.Equal(t, []string{"deployer", "wallet_1", "wallet_2"}, chain.AccountNames())
}

func TestLoadChain_NormalizesNames(t *testing.T) {
	// "café" spelled with a combining acute accent (NFD).
	path := testutil.WriteFile(t, t.TempDir(), "Local.toml", "[accounts.\"cafe\u0301\"]\nbalance = 1\n")

	chain, err := LoadChain(path)
	require.NoError(t, err)
	assert.Contains(t, chain.Accounts, "caf\u00e9")
}
