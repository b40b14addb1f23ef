package taskbatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_callInvokesDirectly(t *testing.T) {
	sink := &recordingSink{}
	d := New(`t`, sink)
	defer d.Shutdown()

	r := NewRegistry(d)
	task := r.Register(`add`, func(_ context.Context, args []any, _ map[string]any) (any, error) {
		return args[0].(int) + args[1].(int), nil
	})

	result, err := task.Call(context.Background(), []any{2, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, result)

	// Call must not touch the dispatcher at all.
	assert.Equal(t, 0, sink.callCount())
}

func TestRegistry_delaySubmitsToDispatcher(t *testing.T) {
	sink := &recordingSink{}
	d := New(`t`, sink)
	defer d.Shutdown()

	r := NewRegistry(d)
	task := r.Register(`greet`, func(_ context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	})

	task.Delay([]any{`world`}, map[string]any{`loud`: true})

	d.Flush()

	batches := sink.snapshot()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)

	p := batches[0][0]
	assert.Equal(t, `greet`, p.Task)
	assert.Equal(t, []any{`world`}, p.Args)
	assert.Equal(t, map[string]any{`loud`: true}, p.Kwargs)
}

func TestRegistry_lookup(t *testing.T) {
	r := NewRegistry(New(`t`, &recordingSink{}))

	_, ok := r.Lookup(`missing`)
	assert.False(t, ok)

	registered := r.Register(`known`, func(context.Context, []any, map[string]any) (any, error) { return nil, nil })
	found, ok := r.Lookup(`known`)
	assert.True(t, ok)
	assert.Same(t, registered, found)
}

func TestRegistry_registerPanicsOnNilFunc(t *testing.T) {
	r := NewRegistry(New(`t`, &recordingSink{}))
	assert.Panics(t, func() { r.Register(`bad`, nil) })
}

func TestRegistry_overwritesPreviousRegistration(t *testing.T) {
	r := NewRegistry(New(`t`, &recordingSink{}))

	r.Register(`name`, func(context.Context, []any, map[string]any) (any, error) { return `first`, nil })
	second := r.Register(`name`, func(context.Context, []any, map[string]any) (any, error) { return `second`, nil })

	found, ok := r.Lookup(`name`)
	require.True(t, ok)
	result, err := found.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `second`, result)
	assert.Same(t, second, found)
}

func TestRegistry_taskName(t *testing.T) {
	task := NewRegistry(New(`t`, &recordingSink{})).Register(`my-task`, func(context.Context, []any, map[string]any) (any, error) { return nil, nil })
	assert.Equal(t, `my-task`, task.Name())
}

// ensure Delay never blocks even when the queue is momentarily full; this
// mirrors Submit's own fire-and-forget contract.
func TestRegistry_delayNeverBlocks(t *testing.T) {
	d := New(`t`, &recordingSink{}, WithMaxBatch(1))
	r := NewRegistry(d)
	task := r.Register(`x`, func(context.Context, []any, map[string]any) (any, error) { return nil, nil })
	defer d.Shutdown()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			task.Delay([]any{i}, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal(`Delay blocked`)
	}
}
