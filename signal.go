package taskrt

import (
	"context"
	"os"
	ossignal "os/signal" // rename so we can have function args named 'signal'
	"sync"

	"golang.org/x/exp/slices"
)

// ShutdownSignal is a hierarchical broadcast of named triggers (OS signals
// or application-level events such as a CPU shutdown request), used to
// cascade graceful shutdown from a [Runtime] down through its [WorkerPool]
// and each [CPU]'s activation state machine.
//
// A ShutdownSignal tree mirrors the Runtime/CPU ownership hierarchy: the
// Runtime owns the root, and each CPU owns a child created with NewChild.
// Triggering a signal on any node runs that node's own callbacks and then
// cascades into its children, so a root-level SIGINT/SIGTERM reaches every
// CPU's shutdown callback without the Runtime needing a direct reference to
// each one.
type ShutdownSignalRegister interface {
	On(signal any, immediateCtx context.Context, callbacks ...func(context.Context) error) error
	WithErrorHandler(handler func(context.Context, error) error) ShutdownSignalRegister
}

type ShutdownSignal struct {
	mu sync.Mutex

	parent     *ShutdownSignal
	idInParent int
	children   []*ShutdownSignal

	signals        map[any]signalState
	nextID         int
	stopRequested  bool
	cleanupStarted bool
}

type signalRegisterWithErrorHandler struct {
	r          ShutdownSignalRegister
	errHandler func(context.Context, error) error
}

type signalState struct {
	ctx    context.Context
	cancel context.CancelFunc

	callbacks        []callback
	cleanup          func()
	triggered        bool
	inheritedTrigger bool
	ignored          bool
}

type callback struct {
	id    int
	f     func(context.Context) error
	onErr func(context.Context, error) error
}

// NewShutdownSignal creates a root of a ShutdownSignal tree, typically owned
// by a [Runtime].
func NewShutdownSignal() *ShutdownSignal {
	return &ShutdownSignal{
		signals: make(map[any]signalState),
	}
}

// NewChild creates a child node, typically one per [CPU], that inherits any
// already-triggered signals from m and will receive future triggers
// cascaded from m.
func (m *ShutdownSignal) NewChild() *ShutdownSignal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopRequested || m.cleanupStarted {
		return m
	}

	id := m.nextID
	m.nextID += 1

	child := &ShutdownSignal{
		parent:     m,
		idInParent: id,
		signals:    make(map[any]signalState),
	}

	// Copy in all signals that have already been triggered
	for sig, state := range m.signals {
		if state.triggered {
			child.signals[sig] = signalState{triggered: true, inheritedTrigger: true}
		}
	}

	m.children = append(m.children, child)
	return child
}

func (m *ShutdownSignal) setupOSSignal(s *signalState, signal any) {
	if s.triggered || s.cleanup != nil {
		return
	}

	if sig, ok := signal.(os.Signal); ok {
		ch := make(chan os.Signal, 1)
		ossignal.Notify(ch, sig)
		s.cleanup = func() {
			ossignal.Stop(ch)
			close(ch)
		}
		go func() {
			for {
				_, ok := <-ch
				if !ok {
					return
				}
				_ = m.Trigger(signal, context.Background())
			}
		}()
	}
}

// On registers callbacks to run, in reverse registration order, when signal
// is triggered. signal may be an os.Signal (in which case it is also wired
// to the OS signal channel) or any comparable application-level key, such
// as a CPU's own shutdown token.
func (m *ShutdownSignal) On(signal any, immediateCtx context.Context, callbacks ...func(context.Context) error) error {
	return m.on(signal, immediateCtx, nil, callbacks...)
}

func (m *ShutdownSignal) WithErrorHandler(handler func(context.Context, error) error) ShutdownSignalRegister {
	return &signalRegisterWithErrorHandler{
		r:          m,
		errHandler: handler,
	}
}

func (r *signalRegisterWithErrorHandler) base() *ShutdownSignal {
	for {
		switch inner := r.r.(type) {
		case *signalRegisterWithErrorHandler:
			r = inner
		case *ShutdownSignal:
			return inner
		default:
			panicInvariant("unexpected ShutdownSignalRegister implementation %T", inner)
		}
	}
}

func (r *signalRegisterWithErrorHandler) On(signal any, ctx context.Context, callbacks ...func(context.Context) error) error {
	return r.base().on(signal, ctx, r.errHandler, callbacks...)
}

func (r *signalRegisterWithErrorHandler) WithErrorHandler(handler func(context.Context, error) error) ShutdownSignalRegister {
	if r.errHandler == nil {
		return &signalRegisterWithErrorHandler{r: r.r, errHandler: handler}
	}

	return &signalRegisterWithErrorHandler{
		r: r,
		errHandler: func(ctx context.Context, err error) error {
			err = handler(ctx, err)
			if err != nil {
				err = r.errHandler(ctx, err)
			}
			return err
		},
	}
}

func (m *ShutdownSignal) on(signal any, ctx context.Context, errHandler func(context.Context, error) error, callbacks ...func(context.Context) error) error {
	m.mu.Lock()
	locked := true
	defer func() {
		if locked {
			m.mu.Unlock()
		}
	}()

	if m.stopRequested || m.cleanupStarted {
		return nil
	}

	s, _ := m.signals[signal]
	m.setupOSSignal(&s, signal)

	// if the signal already happened, do the callbacks ourselves, right now
	if s.triggered {
		locked = false
		m.mu.Unlock()

		for i := len(callbacks) - 1; i >= 0; i -= 1 {
			err := callbacks[i](ctx)
			if err != nil && errHandler != nil {
				err = errHandler(ctx, err)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}

	for _, f := range callbacks {
		s.callbacks = append(s.callbacks, callback{id: m.nextID, f: f, onErr: errHandler})
		m.nextID += 1
	}

	m.signals[signal] = s
	return nil
}

var canceledContext = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

// Context returns a context canceled when signal is triggered (or already
// canceled, if it was triggered in the past or m has already stopped).
func (m *ShutdownSignal) Context(signal any) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopRequested || m.cleanupStarted {
		return canceledContext
	}

	s, _ := m.signals[signal]
	if s.triggered {
		return canceledContext
	} else if s.ctx != nil {
		return s.ctx
	}

	m.setupOSSignal(&s, signal)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	m.signals[signal] = s
	return s.ctx
}

// Trigger fires signal on m and cascades it to every child, such as a
// Runtime broadcasting shutdown to all of its CPUs.
func (m *ShutdownSignal) Trigger(signal any, ctx context.Context) error {
	return m.triggerInner(signal, ctx, true)
}

func (m *ShutdownSignal) triggerInner(signal any, ctx context.Context, explicit bool) error {
	m.mu.Lock()
	locked := true
	defer func() {
		if locked {
			m.mu.Unlock()
		}
	}()

	// Lock handling so we can release and re-acquire our lock
	acquire := func() {
		m.mu.Lock()
		locked = true
	}
	release := func() {
		locked = false
		m.mu.Unlock()
	}

	if m.stopRequested || m.cleanupStarted {
		return nil
	}

	s, _ := m.signals[signal]
	if s.triggered {
		if s.inheritedTrigger && explicit {
			s.inheritedTrigger = false
			m.signals[signal] = s
		}

		return nil
	} else if s.ignored && !explicit {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.triggered = true // prevents all further writes to the field

	cbIdx := -1
	if len(s.callbacks) != 0 {
		cbIdx = len(s.callbacks) - 1
	}
	childIdx := -1
	if len(m.children) != 0 {
		childIdx = len(m.children) - 1
	}

	var err error
	for err == nil && (cbIdx >= 0 || childIdx >= 0) {
		cbID := -1
		if cbIdx != -1 {
			cbID = s.callbacks[cbIdx].id
		}
		childID := -1
		if childIdx != -1 {
			childID = m.children[childIdx].idInParent
		}

		// release the lock just for the duration of calling the callbacks or child trigger; these
		// might be reentrant, and we don't want to behave badly.
		//
		// Accessing fields of s is still ok, because s.triggered = true prevents other threads from
		// writing to s.
		release()

		if cbID > childID {
			err = s.callbacks[cbIdx].f(ctx)
			if err != nil && s.callbacks[cbIdx].onErr != nil {
				err = s.callbacks[cbIdx].onErr(ctx, err)
			}
			cbIdx -= 1
		} else {
			err = m.children[childIdx].triggerInner(signal, ctx, false)
			childIdx -= 1

		}
		acquire()
	}

	// unset s.callbacks so it can be garbage collected, if need be
	s.callbacks = nil
	m.signals[signal] = s
	return err
}

// Ignore marks signal as never-again-cascading on m: a parent's trigger of
// that signal will stop at m, used when a CPU has already been removed from
// shutdown consideration (e.g. it was never started).
func (m *ShutdownSignal) Ignore(signal any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, _ := m.signals[signal]
	s.ignored = true
	if s.inheritedTrigger {
		s.triggered = false
	}
	m.signals[signal] = s
}

// Stop detaches m from its parent once it has no children left, running any
// OS-signal cleanup along the way. A [CPU] calls this once its worker
// goroutine has exited.
func (m *ShutdownSignal) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopRequested || m.cleanupStarted {
		return
	}

	m.stopRequested = true
	m.rectifyStop()
}

func (m *ShutdownSignal) rectifyStop() {
	if !m.stopRequested || len(m.children) != 0 {
		return
	}

	m.cleanupStarted = true
	for _, sigState := range m.signals {
		if sigState.cleanup != nil {
			sigState.cleanup()
		}
	}

	if m.parent != nil {
		m.parent.mu.Lock()
		defer m.parent.mu.Unlock()

		b2i := func(b bool) (i int) {
			if b {
				i = 1
			}
			return
		}

		// Remove the child
		idx, ok := slices.BinarySearchFunc(m.parent.children, m.idInParent, func(c *ShutdownSignal, id int) int {
			return (-1 * b2i(c.idInParent < id)) + b2i(c.idInParent > id)
		})
		if !ok {
			panicInvariant("child ShutdownSignal not found in parent")
		}
		m.parent.children = slices.Delete(m.parent.children, idx, idx+1)

		m.parent.rectifyStop()
	}
}
