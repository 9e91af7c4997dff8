package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a map stored as a JSON object in a TEXT column.
type JSONMap map[string]any

// Scan implements sql.Scanner. NULL and empty values scan into an empty map.
func (m *JSONMap) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scanning %T into JSONMap", value)
	}

	decoded := make(JSONMap)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("decoding JSONMap : %w", err)
		}
	}
	*m = decoded
	return nil
}

// Value implements driver.Valuer, an empty map is stored as {}.
func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding JSONMap : %w", err)
	}
	return string(raw), nil
}
