package taskrt

import "fmt"

// panicInvariant reports an internal invariant violation — a bug in the
// runtime itself, never something a user program can trigger by shape
// alone. Per spec.md §7, these are always fatal: the process terminates via
// panic, with a stack trace attached so the failure is diagnosable across
// goroutines the way [StackTrace] is designed to be chained.
func panicInvariant(format string, args ...any) {
	trace := GetStackTrace(nil, 1)
	panic(fmt.Sprintf("taskrt: internal invariant violation: %s\n%s", fmt.Sprintf(format, args...), trace.String()))
}

// panicInvariantForTask is panicInvariant with task's spawn-site trace
// chained in as the reported StackTrace's Parent. Most invariant
// violations involving a specific task are discovered on a worker
// goroutine running the finalization ascent or registering an access, not
// the (often long-gone) goroutine that originally called Spawn — chaining
// in where the task came from makes that crash report readable without
// needing the original goroutine's own trace to still be around.
func panicInvariantForTask(task *Task, format string, args ...any) {
	trace := GetStackTrace(&task.spawnTrace, 1)
	panic(fmt.Sprintf("taskrt: internal invariant violation: %s\n%s", fmt.Sprintf(format, args...), trace.String()))
}

// reportUserError reports a best-effort-detected user-program error (e.g.
// an access on a region not held by the parent, or a double-finish) to
// instrumentation and continues execution, per spec.md §7: the engine never
// aborts because of how a user program is shaped.
func reportUserError(inst Instrumentation, format string, args ...any) {
	if inst == nil {
		inst = NopInstrumentation{}
	}
	inst.Anomaly(fmt.Sprintf(format, args...))
}
