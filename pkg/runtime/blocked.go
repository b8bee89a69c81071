package runtime

import (
	"errors"
	"fmt"
	"strings"
)

// ErrExecutorFailed wraps errors returned by the downstream executor. It is
// a separate class from ExecutionBlocked: the gate authorized the request
// and the failure happened after.
var ErrExecutorFailed = errors.New("runtime: downstream executor failed")

// ExecutionBlocked is returned when the gate refuses a request.
type ExecutionBlocked struct {
	Reason string
	// Requirements the caller must satisfy before retrying; set for
	// EQC_STEP_UP only.
	Requirements []string
	// DenyReasons carries the policy reasons for EQC_DENIED and EQC_STEP_UP.
	DenyReasons []string
	ContextHash string
	// Detail refines Reason, e.g. SHIELD_TIMEOUT under SHIELD_BLOCKED.
	Detail string
}

func (e *ExecutionBlocked) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "execution blocked: %s", e.Reason)
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	if len(e.DenyReasons) > 0 {
		fmt.Fprintf(&b, " reasons=%s", strings.Join(e.DenyReasons, ","))
	}
	if len(e.Requirements) > 0 {
		fmt.Fprintf(&b, " requires=%s", strings.Join(e.Requirements, ","))
	}
	return b.String()
}

// AsBlocked reports whether err is an ExecutionBlocked and returns it.
func AsBlocked(err error) (*ExecutionBlocked, bool) {
	var b *ExecutionBlocked
	if errors.As(err, &b) {
		return b, true
	}
	return nil, false
}
