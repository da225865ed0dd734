// Package exitcode provides standardized exit codes for ctxsync
package exitcode

// Exit codes for the ctxsync CLI
const (
	Success           = 0
	GeneralError      = 1
	ConfigError       = 2
	ValidationError   = 3
	FileSystemError   = 4
	NetworkError      = 5
	PermissionError   = 6
	TimeoutError      = 7
	LockContention    = 8
	SecurityViolation = 9
	StateCorruption   = 10
)

// String returns a human-readable description of the exit code
func String(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case ConfigError:
		return "Configuration error"
	case ValidationError:
		return "Validation error"
	case FileSystemError:
		return "File system error"
	case NetworkError:
		return "Network error"
	case PermissionError:
		return "Permission error"
	case TimeoutError:
		return "Timeout error"
	case LockContention:
		return "Resource locked by another deployment"
	case SecurityViolation:
		return "Security violation"
	case StateCorruption:
		return "Corrupt deployment state"
	default:
		return "Unknown error"
	}
}
