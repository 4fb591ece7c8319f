package tools

import (
	"context"
	"fmt"
	"time"
)

// Builtins returns the functions compiled into the bridge. Registration is
// explicit; nothing is discovered at runtime.
func Builtins() map[string]Func {
	return map[string]Func{
		"get_current_time": currentTime,
		"echo":             echo,
		"calculate":        calculate,
	}
}

func currentTime(_ context.Context, args map[string]any) (any, error) {
	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		loc = l
	}
	now := time.Now().In(loc)
	return map[string]any{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
	}, nil
}

func echo(_ context.Context, args map[string]any) (any, error) {
	return args, nil
}

// calculate applies "operation" (sum or product) to the "numbers" list.
func calculate(_ context.Context, args map[string]any) (any, error) {
	raw, ok := args["numbers"].([]any)
	if !ok {
		return nil, fmt.Errorf("numbers must be a list")
	}
	op, _ := args["operation"].(string)
	if op == "" {
		op = "sum"
	}

	var result float64
	switch op {
	case "sum":
		result = 0
	case "product":
		result = 1
	default:
		return nil, fmt.Errorf("unsupported operation %q", op)
	}

	for i, v := range raw {
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("numbers[%d] is not a number", i)
		}
		if op == "sum" {
			result += n
		} else {
			result *= n
		}
	}
	return map[string]any{"operation": op, "result": result}, nil
}
