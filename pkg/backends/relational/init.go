package relational

// This file registers the relational backend with the backend registry.
// Import this package with a blank identifier to register it:
//
//	import _ "github.com/leapstack-labs/lexstore/pkg/backends/relational"

import (
	"log/slog"

	"github.com/leapstack-labs/lexstore/pkg/backend"
)

func init() {
	backend.Register(Name, func(logger *slog.Logger) backend.Backend { return New(logger) })
}
