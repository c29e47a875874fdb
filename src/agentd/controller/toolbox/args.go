package toolbox

import (
	"encoding/json"
	"fmt"
)

// stringArg extracts a required string argument.
func stringArg(args map[string]interface{}, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

// optionalStringArg extracts a string argument, returning fallback when absent.
func optionalStringArg(args map[string]interface{}, key, fallback string) (string, error) {
	if _, ok := args[key]; !ok {
		return fallback, nil
	}
	return stringArg(args, key)
}

// intArg extracts a required integer argument. JSON numbers arrive as
// float64.
func intArg(args map[string]interface{}, key string) (int, error) {
	raw, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing required argument %q", key)
	}
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("argument %q must be an integer", key)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %q must be an integer", key)
	}
}

// boolArg extracts a bool argument, returning fallback when absent.
func boolArg(args map[string]interface{}, key string, fallback bool) (bool, error) {
	raw, ok := args[key]
	if !ok {
		return fallback, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("argument %q must be a boolean", key)
	}
	return b, nil
}
