package taskbatch_test

import (
	"context"
	"fmt"

	"github.com/arcveil/taskbatch"
)

func ExampleDispatcher() {
	sink := taskbatch.SinkFunc(func(_ context.Context, batch []taskbatch.Payload) error {
		for _, p := range batch {
			fmt.Println(p.Task, p.Args)
		}
		return nil
	})

	d := taskbatch.New(`example`, sink)
	defer d.Shutdown()

	d.Submit(taskbatch.Payload{Task: `send-email`, Args: []any{`alice@example.com`}})
	d.Submit(taskbatch.Payload{Task: `send-email`, Args: []any{`bob@example.com`}})

	d.Flush()

	// Output:
	// send-email [alice@example.com]
	// send-email [bob@example.com]
}

func ExampleRegistry() {
	sink := taskbatch.SinkFunc(func(_ context.Context, batch []taskbatch.Payload) error {
		for _, p := range batch {
			fmt.Printf(`%s(%v)`+"\n", p.Task, p.Args)
		}
		return nil
	})

	d := taskbatch.New(`example`, sink)
	defer d.Shutdown()

	registry := taskbatch.NewRegistry(d)
	add := registry.Register(`add`, func(_ context.Context, args []any, _ map[string]any) (any, error) {
		return args[0].(int) + args[1].(int), nil
	})

	result, _ := add.Call(context.Background(), []any{2, 3}, nil)
	fmt.Println(`direct call result:`, result)

	add.Delay([]any{2, 3}, nil)
	d.Flush()

	// Output:
	// direct call result: 5
	// add([2 3])
}
