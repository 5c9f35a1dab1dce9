// Package sqlite provides a SQLite catalog adapter backed by the pure-Go
// modernc driver.
//
//	import _ "github.com/leapstack-labs/schemasync/pkg/adapters/sqlite"
package sqlite

import (
	"log/slog"

	"github.com/leapstack-labs/schemasync/pkg/adapter"
)

func init() {
	adapter.Register("sqlite", func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
