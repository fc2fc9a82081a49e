// Package chain is the in-process chain simulator backing each session.
//
// Every simulator owns a private in-memory SQLite database holding:
//   - accounts: balances seeded from chain settings
//   - contracts: contract sources deployed at genesis (height 0)
//   - transactions: queued and applied transactions with receipts
//   - blocks: one row per mined block
//   - chain_state: the default transaction sender
//
// # Determinism
//
// MineBlock applies every queued transaction in queue order (ORDER BY id)
// inside a single SQL transaction and advances the height by exactly one.
// No wall-clock time participates, so the same sequence of calls yields
// the same receipts on every run.
//
// # Transactions
//
//   - transfer: moves amount from sender to recipient; fails (receipt, not
//     error) when the sender's balance is insufficient
//   - contract_call: succeeds when the contract is deployed; the call is
//     recorded but not interpreted
//
// Contract source is never parsed or executed.
package chain
