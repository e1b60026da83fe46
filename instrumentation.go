package taskrt

// Instrumentation is the external collaborator the core reports events to.
// It has no obligation beyond accepting them — spec.md §6 requires only
// that every method be safe to call with a [sequence]'s mutex held (so
// implementations must never call back into the registry that invoked
// them). [NopInstrumentation] is the zero-cost default.
type Instrumentation interface {
	// AccessCreated is called when a new DataAccess is linked into a
	// sequence.
	AccessCreated(access *DataAccess)
	// AccessUpgraded is called when a same-task re-registration upgrades
	// an access's type; becomesUnsatisfied reports whether the upgrade
	// revoked previously-granted satisfaction.
	AccessUpgraded(access *DataAccess, from, to AccessType, becomesUnsatisfied bool)
	// AccessSatisfied is called when an access's read/write/global
	// satisfaction changes. readSat and writeSat report the access's
	// state at the moment of the call.
	AccessSatisfied(access *DataAccess, readSat, writeSat bool)
	// AccessFragmented is called when a predecessor's region is split to
	// accommodate a partially-overlapping new access.
	AccessFragmented(original *DataAccess, fragments []*DataAccess)
	// AccessCompleted is called when an access's originator has finished
	// executing and the access's completion propagates downstream.
	AccessCompleted(access *DataAccess)
	// AccessRemovable is called when an access becomes eligible for
	// removal (complete, and no successor still needs it).
	AccessRemovable(access *DataAccess)
	// AccessRemoved is called when an access is finally unlinked from its
	// sequence and task.
	AccessRemoved(access *DataAccess)
	// AccessesLinked/AccessesUnlinked report a successor link being
	// created or torn down between two accesses.
	AccessesLinked(predecessor, successor *DataAccess)
	AccessesUnlinked(predecessor, successor *DataAccess)
	// AccessReparented is called when a weak access's region is
	// transferred to a replacement access (e.g. across a taskwait).
	AccessReparented(access *DataAccess, newParent *Task)

	// TaskAddedToAccessGroup/TaskRemovedFromAccessGroup track which tasks
	// are contending over a given sequence.
	TaskAddedToAccessGroup(seqRegion Region, task *Task)
	TaskRemovedFromAccessGroup(seqRegion Region, task *Task)
	// AccessGroupBegun is called when a sequence transitions from empty to
	// non-empty.
	AccessGroupBegun(seqRegion Region, parent *Task)

	// CPUSuspended/CPUResumed track worker park/resume transitions.
	CPUSuspended(cpu *CPU)
	CPUResumed(cpu *CPU)

	// TaskCreated/TaskDestroyed/TaskBeingDeleted track task lifetime.
	TaskCreated(task *Task)
	TaskBeingDeleted(task *Task)
	TaskDestroyed(task *Task)

	// Anomaly reports a best-effort-detected user-program error. The core
	// continues execution after reporting it; see spec.md §7.
	Anomaly(message string)
}

// NopInstrumentation implements [Instrumentation] by doing nothing. It is
// the default used by [Runtime] when no observer is configured.
type NopInstrumentation struct{}

func (NopInstrumentation) AccessCreated(*DataAccess)                                {}
func (NopInstrumentation) AccessUpgraded(*DataAccess, AccessType, AccessType, bool)  {}
func (NopInstrumentation) AccessSatisfied(*DataAccess, bool, bool)                   {}
func (NopInstrumentation) AccessFragmented(*DataAccess, []*DataAccess)               {}
func (NopInstrumentation) AccessCompleted(*DataAccess)                              {}
func (NopInstrumentation) AccessRemovable(*DataAccess)                              {}
func (NopInstrumentation) AccessRemoved(*DataAccess)                                {}
func (NopInstrumentation) AccessesLinked(*DataAccess, *DataAccess)                   {}
func (NopInstrumentation) AccessesUnlinked(*DataAccess, *DataAccess)                 {}
func (NopInstrumentation) AccessReparented(*DataAccess, *Task)                       {}
func (NopInstrumentation) TaskAddedToAccessGroup(Region, *Task)                      {}
func (NopInstrumentation) TaskRemovedFromAccessGroup(Region, *Task)                  {}
func (NopInstrumentation) AccessGroupBegun(Region, *Task)                            {}
func (NopInstrumentation) CPUSuspended(*CPU)                                         {}
func (NopInstrumentation) CPUResumed(*CPU)                                           {}
func (NopInstrumentation) TaskCreated(*Task)                                         {}
func (NopInstrumentation) TaskBeingDeleted(*Task)                                    {}
func (NopInstrumentation) TaskDestroyed(*Task)                                       {}
func (NopInstrumentation) Anomaly(string)                                            {}

var _ Instrumentation = NopInstrumentation{}
