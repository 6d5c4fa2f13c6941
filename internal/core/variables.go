package core

import "fmt"

// Variables is the per-session scratch space journey actions share, such
// as the product a user last viewed.
type Variables interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MapVariables is owned by a single actor and not safe for concurrent use.
type MapVariables map[string]any

func NewVariables() MapVariables { return MapVariables{} }

func (v MapVariables) Get(key string) (any, bool) {
	val, ok := v[key]
	return val, ok
}

func (v MapVariables) Set(key string, value any) { v[key] = value }

// Lookup returns key formatted as text, or "" when unset.
func Lookup(vars Variables, key string) string {
	if vars == nil {
		return ""
	}
	val, ok := vars.Get(key)
	if !ok || val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return fmt.Sprint(val)
}
