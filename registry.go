package taskbatch

import "context"

type (
	// Func is an application function, registered under a name via
	// Register. It receives the ordered positional arguments and named
	// arguments passed to Task.Call. Task.Delay does not invoke it; Delay
	// only submits a Payload to the dispatcher.
	Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

	// Task is a submittable handle for a registered Func - the
	// decoration surface that turns an application function into
	// something that can be invoked directly, or serialized and handed
	// to a Dispatcher. The dispatcher core never sees a Task; it only
	// ever sees the Payload that Task.Delay builds.
	Task struct {
		name       string
		fn         Func
		dispatcher *Dispatcher
	}

	// Registry is a straightforward name -> Func mapping. It is not part
	// of the dispatcher's hard core: it exists purely to give callers an
	// ergonomic front door, equivalent to the decorator-style
	// registration of the system this package's core was modeled on.
	Registry struct {
		dispatcher *Dispatcher
		tasks      map[string]*Task
	}
)

// NewRegistry constructs a Registry whose tasks submit to dispatcher.
func NewRegistry(dispatcher *Dispatcher) *Registry {
	return &Registry{
		dispatcher: dispatcher,
		tasks:      make(map[string]*Task),
	}
}

// Register associates name with fn, returning a Task handle. Registering
// the same name twice overwrites the previous association - there's no
// dispatcher-level consequence, since in-flight Payloads already carry
// their own Task name, independent of the Registry.
//
// Panics if fn is nil.
func (r *Registry) Register(name string, fn Func) *Task {
	if fn == nil {
		panic(`taskbatch: nil Func`)
	}

	t := &Task{
		name:       name,
		fn:         fn,
		dispatcher: r.dispatcher,
	}
	r.tasks[name] = t

	return t
}

// Lookup returns the Task registered under name, if any.
func (r *Registry) Lookup(name string) (*Task, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

// Name returns the name this Task was registered under.
func (t *Task) Name() string { return t.name }

// Call invokes the underlying Func directly, bypassing the dispatcher
// entirely. Useful for synchronous/inline use, or for testing.
func (t *Task) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return t.fn(ctx, args, kwargs)
}

// Delay serializes a call into a Payload, and forwards it to the
// dispatcher's Submit. Like Submit, Delay never blocks beyond the cost of
// an enqueue attempt, never returns an error, and does not wait for the
// call to actually run - use the dispatcher's Flush to wait for
// completion.
func (t *Task) Delay(args []any, kwargs map[string]any) {
	t.dispatcher.Submit(Payload{
		Task:   t.name,
		Args:   args,
		Kwargs: kwargs,
	})
}
