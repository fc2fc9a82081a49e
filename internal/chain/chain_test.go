package chain

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	deployer = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
	wallet1  = "ST1SJ3DTE5DN7X54YDH5D64R3BCB6A2AG2ZQ8YPD5"
	wallet2  = "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG"
)

func testSettings() Settings {
	return Settings{
		Accounts: []Account{
			{Name: "deployer", Address: deployer, Balance: 100},
			{Name: "wallet_1", Address: wallet1, Balance: 1_000},
		},
		Contracts: []Contract{
			{Name: "counter", Code: "(define-data-var count uint u0)", Deployer: deployer},
		},
		TxSender: deployer,
	}
}

func openTest(t *testing.T) *SQLSimulator {
	t.Helper()
	sim, err := Open(context.Background(), ":memory:", testSettings())
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })
	return sim
}

func TestOpen_GenesisState(t *testing.T) {
	ctx := context.Background()
	sim := openTest(t)

	height, err := sim.BlockHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), height)

	sender, err := sim.TxSender(ctx)
	require.NoError(t, err)
	assert.Equal(t, deployer, sender)

	bal, err := sim.Balance(ctx, wallet1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), bal)

	bal, err = sim.Balance(ctx, wallet2)
	require.NoError(t, err)
	assert.Zero(t, bal, "unknown address has zero balance")
}

func TestOpen_RejectsOversizedBalance(t *testing.T) {
	s := testSettings()
	s.Accounts[0].Balance = math.MaxInt64 + 1

	_, err := Open(context.Background(), ":memory:", s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestOpenMemory_IsolatedState(t *testing.T) {
	ctx := context.Background()

	a, err := OpenMemory(ctx, testSettings())
	require.NoError(t, err)
	defer a.Close()

	b, err := OpenMemory(ctx, testSettings())
	require.NoError(t, err)
	defer b.Close()

	_, err = a.MineBlock(ctx)
	require.NoError(t, err)

	ha, err := a.BlockHeight(ctx)
	require.NoError(t, err)
	hb, err := b.BlockHeight(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), ha)
	assert.Equal(t, uint64(0), hb)
}

func TestMineBlock_EmptyAdvancesHeight(t *testing.T) {
	ctx := context.Background()
	sim := openTest(t)

	for i := 1; i <= 3; i++ {
		block, err := sim.MineBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), block.Height)
		assert.Empty(t, block.Receipts)
	}

	height, err := sim.BlockHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), height)
}

func TestMineBlock_AppliesTransfersInOrder(t *testing.T) {
	ctx := context.Background()
	sim := openTest(t)

	first, err := sim.QueueTx(ctx, Tx{Kind: TxTransfer, Sender: wallet1, Recipient: wallet2, Amount: 600})
	require.NoError(t, err)
	second, err := sim.QueueTx(ctx, Tx{Kind: TxTransfer, Sender: wallet1, Recipient: wallet2, Amount: 600})
	require.NoError(t, err)
	assert.Less(t, first, second)

	// Queued transactions have no effect until mined.
	bal, err := sim.Balance(ctx, wallet2)
	require.NoError(t, err)
	assert.Zero(t, bal)

	block, err := sim.MineBlock(ctx)
	require.NoError(t, err)
	require.Len(t, block.Receipts, 2)

	assert.Equal(t, first, block.Receipts[0].TxIndex)
	assert.True(t, block.Receipts[0].Success)
	assert.Equal(t, second, block.Receipts[1].TxIndex)
	assert.False(t, block.Receipts[1].Success, "second transfer exceeds remaining balance")

	bal, err = sim.Balance(ctx, wallet1)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), bal)

	bal, err = sim.Balance(ctx, wallet2)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), bal)

	// Mined transactions are not applied again.
	block, err = sim.MineBlock(ctx)
	require.NoError(t, err)
	assert.Empty(t, block.Receipts)
}

func TestQueueTx_DefaultsSenderAtQueueTime(t *testing.T) {
	ctx := context.Background()
	sim := openTest(t)

	_, err := sim.QueueTx(ctx, Tx{Kind: TxTransfer, Recipient: wallet2, Amount: 10})
	require.NoError(t, err)

	require.NoError(t, sim.SetTxSender(ctx, wallet1))

	_, err = sim.QueueTx(ctx, Tx{Kind: TxTransfer, Recipient: wallet2, Amount: 20})
	require.NoError(t, err)

	block, err := sim.MineBlock(ctx)
	require.NoError(t, err)
	require.Len(t, block.Receipts, 2)
	assert.Equal(t, deployer, block.Receipts[0].Sender)
	assert.Equal(t, wallet1, block.Receipts[1].Sender)

	bal, err := sim.Balance(ctx, wallet2)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), bal)
}

func TestQueueTx_Invalid(t *testing.T) {
	ctx := context.Background()
	sim := openTest(t)

	tests := []struct {
		name string
		tx   Tx
	}{
		{"unknown kind", Tx{Kind: "mint"}},
		{"transfer without recipient", Tx{Kind: TxTransfer, Amount: 1}},
		{"transfer without amount", Tx{Kind: TxTransfer, Recipient: wallet2}},
		{"transfer amount out of range", Tx{Kind: TxTransfer, Recipient: wallet2, Amount: math.MaxUint64}},
		{"call without function", Tx{Kind: TxContractCall, Contract: "counter"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sim.QueueTx(ctx, tt.tx)
			require.ErrorIs(t, err, ErrInvalidTx)
		})
	}
}

func TestMineBlock_ContractCall(t *testing.T) {
	ctx := context.Background()
	sim := openTest(t)

	_, err := sim.QueueTx(ctx, Tx{Kind: TxContractCall, Contract: "counter", Function: "increment"})
	require.NoError(t, err)
	_, err = sim.QueueTx(ctx, Tx{Kind: TxContractCall, Contract: "missing", Function: "increment"})
	require.NoError(t, err)

	block, err := sim.MineBlock(ctx)
	require.NoError(t, err)
	require.Len(t, block.Receipts, 2)

	assert.True(t, block.Receipts[0].Success)
	assert.Equal(t, "(ok true)", block.Receipts[0].Result)
	assert.False(t, block.Receipts[1].Success)
	assert.Contains(t, block.Receipts[1].Result, "missing")
}

func TestSimulator_ConcurrentUseIsSerialized(t *testing.T) {
	ctx := context.Background()
	sim := openTest(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sim.MineBlock(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	height, err := sim.BlockHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), height)
}

func TestClose_Idempotent(t *testing.T) {
	sim, err := Open(context.Background(), ":memory:", testSettings())
	require.NoError(t, err)

	require.NoError(t, sim.Close())
	require.NoError(t, sim.Close())
}
