package credentials

import (
	"os"
	"strings"
	"unicode"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(name string) (string, bool)

// EnvSource maps credential keys onto environment variables.
type EnvSource struct {
	vars   map[string]string
	lookup LookupFunc
}

// NewEnvSource builds an EnvSource. vars maps a credential key such as
// "gemini_api_key" to a variable name; unmapped keys use their upper-cased
// form. A nil lookup reads the process environment.
func NewEnvSource(vars map[string]string, lookup LookupFunc) *EnvSource {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	m := make(map[string]string, len(vars))
	for k, v := range vars {
		m[k] = v
	}
	return &EnvSource{vars: m, lookup: lookup}
}

// VarName returns the environment variable consulted for key.
func (e *EnvSource) VarName(key string) string {
	if name, ok := e.vars[key]; ok && name != "" {
		return name
	}
	return strings.ToUpper(key)
}

// Get returns the raw value of the variable mapped to key.
func (e *EnvSource) Get(key string) (string, bool) {
	return e.lookup(e.VarName(key))
}

// Normalize trims a secret and strips every whitespace rune, including
// interior newlines left behind by copy-paste.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
