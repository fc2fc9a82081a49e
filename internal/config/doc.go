// Package config loads the project manifest and chain settings consumed
// when a chain session is created.
//
// Two files are read relative to the project root:
//
//	Clarinet.toml        project manifest (contracts and their paths)
//	settings/Local.toml  chain settings (accounts)
//
// A minimal manifest:
//
//	[project]
//	name = "counter"
//
//	[contracts.counter]
//	path = "contracts/counter.clar"
//
// and chain settings:
//
//	[accounts.wallet_1]
//	balance = 1_000_000
//	address = "ST1SJ3DTE5DN7X54YDH5D64R3BCB6A2AG2ZQ8YPD5"
//	mnemonic = "..."
//	derivation = "m/44'/5757'/0'/0/0"
//
// Unknown keys are ignored so real-world manifests with extra sections
// load unchanged. Contract and account names are NFC normalized.
//
// Account validation (ValidateAccount) is separate from loading: the
// session registry validates every account when a session is created,
// so a malformed account surfaces as a ConfigError from setup_chain.
package config
