// Package health checks that the proxy's dependencies are usable.
//
// Two things must hold for the proxy to do its job: the sandbox root must
// be readable, and the bot API server must answer HTTP.
//
//	result := health.Check(ctx, nil, cfg)
//	switch result.Status() {
//	case health.StatusHealthy:
//	case health.StatusNoStorage:    // root unreadable
//	case health.StatusNoUpstream:   // upstream down
//	case health.StatusUnreachable:  // both
//	}
package health
