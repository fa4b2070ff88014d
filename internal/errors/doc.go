// Package errors provides typed errors with exit codes for botfile-proxy.
//
// # Error Types
//
// ProxyError wraps an error with the exit code the process should
// terminate with:
//
//	type ProxyError struct {
//	    Code    int    // Exit code
//	    Message string // User-facing message
//	    Cause   error  // Wrapped error
//	}
//
// # Exit Codes
//
//	ExitSuccess      = 0  // Success
//	ExitGeneralError = 1  // General/unknown errors
//	ExitConfigError  = 2  // Invalid flags, environment or config file
//	ExitListenError  = 3  // Listen address could not be bound
//
// Request handling never produces a ProxyError: failures while serving are
// turned into 404 or 502 responses by the proxy package.
//
// # Extracting Exit Codes
//
//	if err != nil {
//	    os.Exit(errors.GetExitCode(err))
//	}
package errors
