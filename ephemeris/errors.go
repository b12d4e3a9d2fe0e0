package ephemeris

import (
	"fmt"

	"github.com/signalsfoundry/halo-visibility/core"
)

// Lookup failures. Each wraps core.ErrOracleFailure so callers can treat
// them uniformly.
var (
	ErrUnknownPoint    = fmt.Errorf("%w: unknown point", core.ErrOracleFailure)
	ErrUnknownFrame    = fmt.Errorf("%w: unknown frame", core.ErrOracleFailure)
	ErrEpochOutOfRange = fmt.Errorf("%w: epoch out of range", core.ErrOracleFailure)
)
