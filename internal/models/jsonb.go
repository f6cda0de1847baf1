package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// OwnerFlags is the free-form owner attribute map stored as JSONB.
type OwnerFlags map[string]interface{}

// Bool returns the flag value for key, treating missing or non-boolean values as false.
// String values "true"/"yes"/"y"/"1" are accepted since partner feeds send them.
func (f OwnerFlags) Bool(key string) bool {
	v, ok := f[key]
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch b {
		case "true", "TRUE", "True", "yes", "Yes", "y", "Y", "1":
			return true
		}
	case float64:
		return b != 0
	case int:
		return b != 0
	}
	return false
}

// Merge returns a copy of f with incoming keys applied over it (key-wise, last write wins).
func (f OwnerFlags) Merge(incoming OwnerFlags) OwnerFlags {
	out := make(OwnerFlags, len(f)+len(incoming))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// Keys returns the flag keys in sorted order.
func (f OwnerFlags) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scan implements sql.Scanner for reading the JSONB column.
func (f *OwnerFlags) Scan(value interface{}) error {
	if value == nil {
		*f = OwnerFlags{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan OwnerFlags: %w", err)
	}
	out := OwnerFlags{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to unmarshal owner flags: %w", err)
	}
	*f = out
	return nil
}

// Value implements driver.Valuer. A nil map is written as an empty object.
func (f OwnerFlags) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]interface{}(f))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal owner flags: %w", err)
	}
	return string(data), nil
}

// FactorList is the ordered factor breakdown stored as JSONB.
type FactorList []FactorContribution

// Total sums the points of every factor.
func (l FactorList) Total() float64 {
	total := 0.0
	for _, f := range l {
		total += f.Points
	}
	return total
}

// Scan implements sql.Scanner for reading the JSONB column.
func (l *FactorList) Scan(value interface{}) error {
	if value == nil {
		*l = FactorList{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan FactorList: %w", err)
	}
	var out FactorList
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to unmarshal factors: %w", err)
	}
	*l = out
	return nil
}

// Value implements driver.Valuer.
func (l FactorList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]FactorContribution(l))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal factors: %w", err)
	}
	return string(data), nil
}

// FeatureMap is the predictive feature snapshot stored as JSONB.
type FeatureMap map[string]float64

// Scan implements sql.Scanner for reading the JSONB column.
func (m *FeatureMap) Scan(value interface{}) error {
	if value == nil {
		*m = FeatureMap{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan FeatureMap: %w", err)
	}
	out := FeatureMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to unmarshal features: %w", err)
	}
	*m = out
	return nil
}

// Value implements driver.Valuer.
func (m FeatureMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]float64(m))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal features: %w", err)
	}
	return string(data), nil
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("expected []byte or string, got %T", value)
	}
}
