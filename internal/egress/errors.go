package egress

import "errors"

var (
	// ErrNoData is returned by SyncRules when the unit has no modules.
	ErrNoData = errors.New("egress: unit has no modules")

	// ErrNoRulesConfigured is returned by SyncRules when the unit's modules
	// have no rule allocations. Nothing is sent.
	ErrNoRulesConfigured = errors.New("egress: no rules configured")

	// ErrNoDispatcher is returned when sending before SetDispatcher.
	ErrNoDispatcher = errors.New("egress: dispatcher not set")

	// ErrCompressionFailed wraps a failed compress job.
	ErrCompressionFailed = errors.New("egress: compression failed")
)
