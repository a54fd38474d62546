package util

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON wraps json.Marshal so every caller reports encode failures the same way.
func MarshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("JSON marshal error: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes data into v.
func UnmarshalJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("JSON unmarshal error: %w", err)
	}
	return nil
}
