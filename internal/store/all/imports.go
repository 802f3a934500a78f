// Package all wires all built-in chunk-store backends into the store factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) causes the init functions of each concrete backend to run, which in
// turn register their factories with the store package.
//
// In other words, importing this package makes the following store kinds
// available at runtime:
//
//   - "bolt"     (datastudio/internal/store/bolt)
//   - "sqlite"   (datastudio/internal/store/sqlite)
//   - "postgres" (datastudio/internal/store/postgres)
//   - "memory"   (registered by the store package itself)
//
// Typical usage (in cmd/studio/main.go or a similar wiring layer):
//
//	import _ "datastudio/internal/store/all" // enable all built-in backends
//
//	st, err := store.Open(ctx, store.Config{Kind: cfg.Store.Kind, Path: cfg.Store.Path, DSN: cfg.Store.DSN})
//
// This pattern keeps backend-specific wiring in a single, small package and
// allows the rest of the application to depend only on the store abstraction
// rather than individual backends. A binary that needs only a subset of
// backends can import the concrete packages directly instead.
package all

import (
	_ "datastudio/internal/store/bolt"
	_ "datastudio/internal/store/postgres"
	_ "datastudio/internal/store/sqlite"
)
