package subscription

import "encoding/json"

// Value returns the scope as its bare Go representation: a string, or a
// []string when List is set.
func (v ScopeValue) Value() any {
	if v.List != nil {
		return v.List
	}
	return v.Single
}

// WireScopes converts a decoded Scopes map into the plain map[string]any
// shape the transport contract expects.
func WireScopes(scopes map[string]ScopeValue) map[string]any {
	if scopes == nil {
		return nil
	}
	out := make(map[string]any, len(scopes))
	for k, v := range scopes {
		out[k] = v.Value()
	}
	return out
}

// ScopesFromWire converts the plain map[string]any shape back into typed
// ScopeValue entries.
func ScopesFromWire(m map[string]any) map[string]ScopeValue {
	if m == nil {
		return nil
	}
	out := make(map[string]ScopeValue, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case string:
			out[k] = ScopeValue{Single: vv}
		case []string:
			out[k] = ScopeValue{List: vv}
		case []any:
			list := make([]string, 0, len(vv))
			for _, item := range vv {
				if s, ok := item.(string); ok {
					list = append(list, s)
				}
			}
			out[k] = ScopeValue{List: list}
		}
	}
	return out
}

// MarshalJSON encodes a ScopeValue as a bare string or a JSON array,
// matching the wire shape `string | list<string>`.
func (v ScopeValue) MarshalJSON() ([]byte, error) {
	if v.List != nil {
		return json.Marshal(v.List)
	}
	return json.Marshal(v.Single)
}

// UnmarshalJSON accepts either a JSON string or a JSON array of strings.
func (v *ScopeValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = ScopeValue{Single: s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*v = ScopeValue{List: list}
	return nil
}
