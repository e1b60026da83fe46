package taskrt

import (
	"fmt"
	"os"
	"strconv"
)

// RequeueTaskloopEnabled reports whether REQUEUE_TASKLOOP is set to a
// truthy value in the environment. Grounded on
// TaskloopSchedulingPolicy::isRequeueEnabled, which only the FIFO scheduler
// consults (see [FIFOScheduler.RequeuesTaskloop]).
func RequeueTaskloopEnabled() bool {
	v, ok := os.LookupEnv("REQUEUE_TASKLOOP")
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true // present and non-boolean is treated like any other truthy flag
	}
	return b
}

// SchedulerKind names one of the four scheduler variants, selectable via
// the NANOS6_SCHEDULER-style environment variable this is grounded on.
type SchedulerKind string

const (
	SchedulerNaive                     SchedulerKind = "naive"
	SchedulerFIFO                      SchedulerKind = "fifo"
	SchedulerImmediateSuccessor        SchedulerKind = "immediate-successor"
	SchedulerImmediateSuccessorPolling SchedulerKind = "immediate-successor-with-polling"
)

// NewScheduler builds the scheduler variant named by kind over cpus.
func NewScheduler(kind SchedulerKind, cpus *CPUSet) (Scheduler, error) {
	switch kind {
	case SchedulerNaive:
		return NewNaiveScheduler(cpus), nil
	case SchedulerFIFO:
		return NewFIFOScheduler(cpus, RequeueTaskloopEnabled()), nil
	case SchedulerImmediateSuccessor:
		return NewImmediateSuccessorScheduler(cpus), nil
	case SchedulerImmediateSuccessorPolling:
		return NewImmediateSuccessorWithPollingScheduler(cpus), nil
	default:
		return nil, fmt.Errorf("taskrt: unknown scheduler kind %q", kind)
	}
}

// SchedulerKindFromEnv reads the scheduler variant from the given
// environment variable name, defaulting to SchedulerNaive if unset.
func SchedulerKindFromEnv(name string) SchedulerKind {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return SchedulerNaive
	}
	return SchedulerKind(v)
}
