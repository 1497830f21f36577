package models

import (
	"database/sql/driver"
	"encoding/json"
)

// JSONMap represents a JSON object that can be stored in PostgreSQL
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for JSONMap
func (j JSONMap) Value() (driver.Value, error) {
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONMap
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONMap)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

func asPlainMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case JSONMap:
		return m, true
	}
	return nil, false
}

// Clone returns a shallow copy with nested maps copied one level deep.
func (j JSONMap) Clone() JSONMap {
	clone := make(JSONMap, len(j))
	for k, v := range j {
		if nested, ok := asPlainMap(v); ok {
			nestedCopy := make(map[string]interface{}, len(nested))
			for nk, nv := range nested {
				nestedCopy[nk] = nv
			}
			clone[k] = nestedCopy
			continue
		}
		clone[k] = v
	}
	return clone
}

// Merge applies patch on top of j and returns the result. Top-level keys are
// replaced except when both sides hold maps, which are merged key-wise so a
// cursor write never erases a concurrent token rotation under the same parent
// key. Unmentioned sibling keys are always preserved.
func (j JSONMap) Merge(patch JSONMap) JSONMap {
	merged := j.Clone()
	for k, v := range patch {
		patchMap, patchIsMap := asPlainMap(v)
		currentMap, currentIsMap := asPlainMap(merged[k])
		if patchIsMap && currentIsMap {
			for nk, nv := range patchMap {
				currentMap[nk] = nv
			}
			continue
		}
		merged[k] = v
	}
	return merged
}
