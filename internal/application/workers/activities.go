package workers

import (
	"context"
	"fmt"
)

// Activity runs one unit of orchestration work
type Activity func(ctx context.Context, input interface{}) (interface{}, error)

// defaultHelloName is used when an instance was started without input
const defaultHelloName = "Durable Functions"

// SayHello greets the name carried in the input.
// The input is either a bare string or an object with a "name" field.
func SayHello(ctx context.Context, input interface{}) (interface{}, error) {
	name := defaultHelloName

	switch v := input.(type) {
	case string:
		if v != "" {
			name = v
		}
	case map[string]interface{}:
		if n, ok := v["name"].(string); ok && n != "" {
			name = n
		}
	}

	return fmt.Sprintf("Hello, %s!", name), nil
}
