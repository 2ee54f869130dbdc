// Package credits meters clip production against per-user balances.
//
// Every balance change and its transaction row are written in one database
// transaction by the store; the ledger adds validation, taxonomy errors, and
// refund bookkeeping on top.
package credits
