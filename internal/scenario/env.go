package scenario

import (
	"fmt"
	"os"
	"strings"
)

// Env is an opaque set of string values exposed to scenario code. The
// scheduler never interprets them.
type Env map[string]string

// NewEnv merges sources; later sources override earlier ones.
func NewEnv(sources ...map[string]string) Env {
	env := Env{}
	for _, src := range sources {
		for k, v := range src {
			env[k] = v
		}
	}
	return env
}

// Lookup returns the value for key and whether it was set.
func (e Env) Lookup(key string) (string, bool) {
	v, ok := e[key]
	return v, ok
}

// Get returns the value for key, or "" when unset.
func (e Env) Get(key string) string {
	return e[key]
}

// SystemEnv returns the process environment as a map.
func SystemEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			env[kv[:idx]] = kv[idx+1:]
		}
	}
	return env
}

// ParseEnvPairs parses KEY=VALUE pairs, as given on the command line.
func ParseEnvPairs(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		idx := strings.IndexByte(pair, '=')
		if idx <= 0 {
			return nil, fmt.Errorf("invalid env %q: expected KEY=VALUE", pair)
		}
		env[pair[:idx]] = pair[idx+1:]
	}
	return env, nil
}
