// Package testutil provides fixtures shared by package tests: on-disk
// projects, deterministic id generators and a silent logger.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// TestMnemonic is the BIP39 test vector phrase; its checksum is valid.
const TestMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// TestDerivation is the Stacks BIP44 path used by generated accounts.
const TestDerivation = "m/44'/5757'/0'/0/0"

// Well-known testnet addresses used by fixtures.
const (
	DeployerAddress = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
	Wallet1Address  = "ST1SJ3DTE5DN7X54YDH5D64R3BCB6A2AG2ZQ8YPD5"
	Wallet2Address  = "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG"
)

// Account is an account entry written to settings/Local.toml.
type Account struct {
	Name     string
	Address  string
	Balance  uint64
	Mnemonic string // defaults to TestMnemonic
}

// Project describes an on-disk project fixture.
type Project struct {
	// Contracts maps contract name to Clarity source.
	Contracts map[string]string

	// Accounts are written in order.
	Accounts []Account

	// Tests maps a path relative to the project root to module source.
	Tests map[string]string

	// Deployer, if set, becomes [project] deployer.
	Deployer string
}

// CounterProject is the canonical one-contract, one-account project.
func CounterProject() Project {
	return Project{
		Contracts: map[string]string{
			"counter": "(define-data-var count uint u0)\n(define-public (increment) (ok (var-set count (+ (var-get count) u1))))\n",
		},
		Accounts: []Account{
			{Name: "wallet_1", Address: Wallet1Address, Balance: 1_000_000},
		},
	}
}

// WriteProject materializes p under root and returns root.
func WriteProject(t *testing.T, root string, p Project) string {
	t.Helper()

	var manifest strings.Builder
	manifest.WriteString("[project]\nname = \"fixture\"\n")
	if p.Deployer != "" {
		fmt.Fprintf(&manifest, "deployer = %q\n", p.Deployer)
	}

	names := make([]string, 0, len(p.Contracts))
	for name := range p.Contracts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rel := filepath.ToSlash(filepath.Join("contracts", name+".clar"))
		fmt.Fprintf(&manifest, "\n[contracts.%s]\npath = %q\n", name, rel)
		WriteFile(t, root, rel, p.Contracts[name])
	}
	WriteFile(t, root, "Clarinet.toml", manifest.String())

	var settings strings.Builder
	settings.WriteString("[network]\nname = \"devnet\"\n")
	for _, a := range p.Accounts {
		mnemonic := a.Mnemonic
		if mnemonic == "" {
			mnemonic = TestMnemonic
		}
		fmt.Fprintf(&settings, "\n[accounts.%s]\nbalance = %d\naddress = %q\nmnemonic = %q\nderivation = %q\n",
			a.Name, a.Balance, a.Address, mnemonic, TestDerivation)
	}
	WriteFile(t, root, "settings/Local.toml", settings.String())

	for rel, src := range p.Tests {
		WriteFile(t, root, rel, src)
	}

	return root
}

// WriteFile writes content to root/rel, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
