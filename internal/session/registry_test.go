package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chainharness/internal/chain"
	"github.com/roach88/chainharness/internal/config"
	"github.com/roach88/chainharness/internal/fault"
	"github.com/roach88/chainharness/internal/testutil"
)

func loadProject(t *testing.T, p testutil.Project) (*config.MainConfig, *config.ChainConfig, string) {
	t.Helper()
	root := testutil.WriteProject(t, t.TempDir(), p)
	main, chainCfg, err := config.TOMLLoader{}.Load(root)
	require.NoError(t, err)
	return main, chainCfg, root
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := New(append([]Option{WithLogger(testutil.DiscardLogger())}, opts...)...)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCreate_CounterProject(t *testing.T) {
	main, chainCfg, root := loadProject(t, testutil.CounterProject())
	r := newTestRegistry(t)

	s, err := r.Create(context.Background(), main, chainCfg, root)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), s.ID)
	require.Len(t, s.Accounts, 1)
	assert.Equal(t, "wallet_1", s.Accounts[0].Name)
	assert.Equal(t, uint64(1_000_000), s.Accounts[0].Balance)
	assert.Equal(t, testutil.Wallet1Address, s.Accounts[0].Address)

	require.Len(t, s.Contracts, 1)
	assert.Equal(t, "counter", s.Contracts[0].Name)
	assert.Equal(t, config.DefaultDeployer, s.Contracts[0].Deployer)
	assert.Contains(t, s.Contracts[0].Code, "define-data-var")
}

func TestCreate_FreshRegistryStartsAtZero(t *testing.T) {
	main, chainCfg, root := loadProject(t, testutil.CounterProject())

	for i := 0; i < 2; i++ {
		r := newTestRegistry(t)
		s, err := r.Create(context.Background(), main, chainCfg, root)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), s.ID, "registry %d", i)
	}
}

func TestCreate_IdsNeverRepeat(t *testing.T) {
	main, chainCfg, root := loadProject(t, testutil.CounterProject())
	r := newTestRegistry(t)

	seen := make(map[uint64]bool)
	for i := 0; i < 5; i++ {
		s, err := r.Create(context.Background(), main, chainCfg, root)
		require.NoError(t, err)
		assert.False(t, seen[s.ID], "id %d issued twice", s.ID)
		assert.Equal(t, uint64(i), s.ID)
		seen[s.ID] = true
	}
	assert.Equal(t, 5, r.Len())
	assert.Equal(t, uint64(5), r.NextID())
}

func TestCreate_ConcurrentIdsUnique(t *testing.T) {
	main, chainCfg, root := loadProject(t, testutil.CounterProject())
	r := newTestRegistry(t)

	const n = 16
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Create(context.Background(), main, chainCfg, root)
			if assert.NoError(t, err) {
				ids <- s.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestCreate_AccountsOrderedByName(t *testing.T) {
	p := testutil.Project{
		Accounts: []testutil.Account{
			{Name: "wallet_2", Address: testutil.Wallet2Address, Balance: 2},
			{Name: "deployer", Address: testutil.DeployerAddress, Balance: 3},
			{Name: "wallet_1", Address: testutil.Wallet1Address, Balance: 1},
		},
	}
	main, chainCfg, root := loadProject(t, p)
	r := newTestRegistry(t)

	s, err := r.Create(context.Background(), main, chainCfg, root)
	require.NoError(t, err)

	require.Len(t, s.Accounts, len(chainCfg.Accounts))
	var names []string
	for _, a := range s.Accounts {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"deployer", "wallet_1", "wallet_2"}, names)

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Accounts, got.Accounts)
}

func TestCreate_ProjectDeployerOverride(t *testing.T) {
	p := testutil.CounterProject()
	p.Deployer = testutil.DeployerAddress
	main, chainCfg, root := loadProject(t, p)
	r := newTestRegistry(t)

	s, err := r.Create(context.Background(), main, chainCfg, root)
	require.NoError(t, err)
	assert.Equal(t, testutil.DeployerAddress, s.Contracts[0].Deployer)
}

func TestCreate_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.MainConfig, *config.ChainConfig)
	}{
		{
			name: "missing contract file",
			mutate: func(m *config.MainConfig, _ *config.ChainConfig) {
				m.Contracts["ghost"] = config.ContractConfig{Path: "contracts/ghost.clar"}
			},
		},
		{
			name: "malformed address",
			mutate: func(_ *config.MainConfig, c *config.ChainConfig) {
				a := c.Accounts["wallet_1"]
				a.Address = "not-an-address"
				c.Accounts["wallet_1"] = a
			},
		},
		{
			name: "bad mnemonic",
			mutate: func(_ *config.MainConfig, c *config.ChainConfig) {
				a := c.Accounts["wallet_1"]
				a.Mnemonic = "abandon abandon abandon"
				c.Accounts["wallet_1"] = a
			},
		},
		{
			name: "duplicate address",
			mutate: func(_ *config.MainConfig, c *config.ChainConfig) {
				a := c.Accounts["wallet_1"]
				a.Balance = 5
				c.Accounts["wallet_2"] = a
			},
		},
		{
			name: "bad derivation",
			mutate: func(_ *config.MainConfig, c *config.ChainConfig) {
				a := c.Accounts["wallet_1"]
				a.Derivation = "44/5757"
				c.Accounts["wallet_1"] = a
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, chainCfg, root := loadProject(t, testutil.CounterProject())
			tt.mutate(main, chainCfg)
			r := newTestRegistry(t)

			_, err := r.Create(context.Background(), main, chainCfg, root)
			require.Error(t, err)
			assert.True(t, fault.Is(err, fault.CodeConfig), "got %v", err)
			assert.Equal(t, 0, r.Len())
		})
	}
}

func TestCreate_SimulatorFactoryFailure(t *testing.T) {
	main, chainCfg, root := loadProject(t, testutil.CounterProject())
	boom := errors.New("boom")
	r := newTestRegistry(t, WithSimulatorFactory(func(context.Context, chain.Settings) (chain.Simulator, error) {
		return nil, boom
	}))

	_, err := r.Create(context.Background(), main, chainCfg, root)
	require.ErrorIs(t, err, boom)
	assert.True(t, fault.Is(err, fault.CodeSimulator))
	assert.Equal(t, uint64(0), r.NextID(), "failed create consumes no id")
}

func TestCreate_ContractReader(t *testing.T) {
	main, chainCfg, root := loadProject(t, testutil.CounterProject())
	var paths []string
	r := newTestRegistry(t, WithContractReader(func(path string) ([]byte, error) {
		paths = append(paths, path)
		return []byte("(ok u1)"), nil
	}))

	s, err := r.Create(context.Background(), main, chainCfg, root)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Contains(t, paths[0], "counter.clar")
	assert.Equal(t, "(ok u1)", s.Contracts[0].Code)
}

func TestGet_NotFound(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Get(99)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.CodeSessionNotFound))

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	require.NotNil(t, fe.SessionID)
	assert.Equal(t, uint64(99), *fe.SessionID)
}

func TestWith_UnknownIdLeavesRegistryUnmodified(t *testing.T) {
	main, chainCfg, root := loadProject(t, testutil.CounterProject())
	r := newTestRegistry(t)

	s, err := r.Create(context.Background(), main, chainCfg, root)
	require.NoError(t, err)

	called := false
	err = r.With(42, func(*Session) error {
		called = true
		return nil
	})
	assert.True(t, fault.Is(err, fault.CodeSessionNotFound))
	assert.False(t, called)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, uint64(1), r.NextID())

	err = r.With(s.ID, func(got *Session) error {
		sender, err := got.Sim().TxSender(context.Background())
		require.NoError(t, err)
		assert.Equal(t, config.DefaultDeployer, sender)
		return nil
	})
	require.NoError(t, err)
}

func TestClose(t *testing.T) {
	main, chainCfg, root := loadProject(t, testutil.CounterProject())
	r := New(WithLogger(testutil.DiscardLogger()))

	s, err := r.Create(context.Background(), main, chainCfg, root)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Get(s.ID)
	require.ErrorIs(t, err, ErrClosed)
	assert.True(t, fault.Is(err, fault.CodeSimulator), "got %v", err)

	_, err = r.Create(context.Background(), main, chainCfg, root)
	require.ErrorIs(t, err, ErrClosed)
	assert.True(t, fault.Is(err, fault.CodeSimulator), "got %v", err)
}
