package execution

// StatusCode is the short code HandleRunResult reports upstream.
type StatusCode string

const (
	StatusCompleted    StatusCode = "completed"
	StatusPolicyDenied StatusCode = "policy_denied"
	StatusGuestError   StatusCode = "guest_error"
	StatusTimedOut     StatusCode = "timed_out"
	StatusHostError    StatusCode = "host_error"
)

// Status is a code plus a human-readable description for logging and alerting.
type Status struct {
	Code        StatusCode `json:"code" yaml:"code"`
	Description string     `json:"description" yaml:"description"`
}

// StatusCodeFor maps a failure kind onto its status code.
func StatusCodeFor(kind ErrorKind) StatusCode {
	switch kind {
	case "":
		return StatusCompleted
	case KindPolicy:
		return StatusPolicyDenied
	case KindTimeout:
		return StatusTimedOut
	case KindHost:
		return StatusHostError
	default:
		return StatusGuestError
	}
}
