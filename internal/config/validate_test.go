package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chainharness/internal/fault"
	"github.com/roach88/chainharness/internal/testutil"
)

func validAccount() AccountConfig {
	return AccountConfig{
		Balance:    1_000_000,
		Address:    testutil.Wallet1Address,
		Mnemonic:   testutil.TestMnemonic,
		Derivation: testutil.TestDerivation,
	}
}

func TestValidateAccount_Valid(t *testing.T) {
	require.NoError(t, ValidateAccount("wallet_1", validAccount()))
	require.NoError(t, ValidateAccount("deployer", AccountConfig{
		Balance:    0,
		Address:    DefaultDeployer,
		Mnemonic:   testutil.TestMnemonic,
		Derivation: "m/44'/5757'/0'/0/1",
	}))
}

func TestValidateAccount_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AccountConfig)
		acct   string
	}{
		{"lowercase address", func(a *AccountConfig) { a.Address = "st1sj3dte5dn7x54ydh5d64r3bcb6a2ag2zq8ypd5" }, "wallet_1"},
		{"address with O", func(a *AccountConfig) { a.Address = "ST1SJ3DTE5DN7X54YDH5D64R3BCB6A2AG2ZQ8YPDO" }, "wallet_1"},
		{"short address", func(a *AccountConfig) { a.Address = "ST1SJ3" }, "wallet_1"},
		{"empty mnemonic", func(a *AccountConfig) { a.Mnemonic = "" }, "wallet_1"},
		{"bad checksum mnemonic", func(a *AccountConfig) {
			a.Mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon"
		}, "wallet_1"},
		{"derivation without m", func(a *AccountConfig) { a.Derivation = "44'/5757'/0'/0/0" }, "wallet_1"},
		{"derivation out of range", func(a *AccountConfig) { a.Derivation = "m/44'/4294967295" }, "wallet_1"},
		{"balance above int64", func(a *AccountConfig) { a.Balance = 1 << 63 }, "wallet_1"},
		{"bad name", func(a *AccountConfig) {}, "1wallet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAccount()
			tt.mutate(&a)
			err := ValidateAccount(tt.acct, a)
			require.Error(t, err)
			assert.Equal(t, fault.CodeConfig, fault.CodeOf(err))
			assert.Contains(t, err.Error(), tt.acct)
		})
	}
}

func TestValidateAddress(t *testing.T) {
	require.NoError(t, ValidateAddress(testutil.Wallet2Address))
	require.NoError(t, ValidateAddress(DefaultDeployer))

	err := ValidateAddress("not-an-address")
	require.Error(t, err)
	assert.Equal(t, fault.CodeArgument, fault.CodeOf(err))
}

func TestParseDerivationPath(t *testing.T) {
	got, err := ParseDerivationPath("m/44'/5757'/0'/0/7")
	require.NoError(t, err)
	assert.Equal(t, []uint32{
		44 + hardenedOffset,
		5757 + hardenedOffset,
		0 + hardenedOffset,
		0,
		7,
	}, got)

	got, err = ParseDerivationPath("m/0h/1H")
	require.NoError(t, err)
	assert.Equal(t, []uint32{hardenedOffset, 1 + hardenedOffset}, got)

	_, err = ParseDerivationPath("m/x")
	assert.Error(t, err)

	_, err = ParseDerivationPath("m/2147483648")
	assert.Error(t, err)
}

func TestValidateAccount_Concurrent(t *testing.T) {
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() { done <- ValidateAccount("wallet_1", validAccount()) }()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
}
