package session

import "fmt"

// FailurePolicy decides whether a run of consecutive port failures during a
// session should force the scheduler into FAULT.
type FailurePolicy interface {
	ShouldFault(consecutive int) bool
	String() string
}

// LogAndContinue never faults. Port failures are logged and the pair
// cadence continues.
type LogAndContinue struct{}

func (LogAndContinue) ShouldFault(int) bool { return false }

func (LogAndContinue) String() string { return "log-and-continue" }

// FaultAfter faults once the given number of consecutive port failures is
// reached. Zero or negative behaves like LogAndContinue.
type FaultAfter int

func (n FaultAfter) ShouldFault(consecutive int) bool {
	return n > 0 && consecutive >= int(n)
}

func (n FaultAfter) String() string {
	if n <= 0 {
		return LogAndContinue{}.String()
	}
	return fmt.Sprintf("fault-after-%d", int(n))
}

// PolicyFor returns FaultAfter(n) for n > 0 and LogAndContinue otherwise.
func PolicyFor(n int) FailurePolicy {
	if n <= 0 {
		return LogAndContinue{}
	}
	return FaultAfter(n)
}
