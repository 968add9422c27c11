package db

import (
	"encoding/json"
)

// jsonb column helpers. Postgres returns NULL for absent values; an
// empty patch round-trips as '{}'.

func marshalJSONB(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSONB(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
