// Package domain defines the entities the vigil engine operates on:
// messages, recipients, users, check-in history, dissolution plans, and
// message shares.
//
// Entities are plain structs with foreign-key fields resolved through
// store lookups. There are no live object graphs; a Recipient points at
// its Message by ID, never by pointer. This keeps ownership flat and lets
// the store's compare-and-swap discipline be the only mutation path.
package domain
