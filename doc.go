// Package strata is an embedded relational-storage façade over SQLite
// modeled on sqlite-net: a typed record/table model (package record), a
// prepared-statement cache (package command), a read/write connection
// manager with a bounded reader pool and a single-writer lock (this
// package's Manager), a nested-savepoint transaction model (package txn),
// schema synthesis and migration from record descriptors (package
// schema), and structured constraint-error reporting (package sterr).
package strata
