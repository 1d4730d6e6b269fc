package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to the sidecar.
// Layers are applied in order: OS environment (when UseOS), variables loaded
// from env files, then explicit Set calls, then the per-call list in Merge.
type Env struct {
	UseOS bool
	files Var
	vars  Var
}

func New(useOS bool) *Env {
	return &Env{UseOS: useOS, files: make(Var), vars: make(Var)}
}

// Set sets a variable K=V, overriding OS and file values.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.vars == nil {
		e.vars = make(Var)
	}
	e.vars[k] = v
}

// Unset removes a variable added by Set.
func (e *Env) Unset(k string) {
	if e.vars != nil {
		delete(e.vars, k)
	}
}

// LoadFile merges a simple .env file (KEY=VALUE lines, # comments).
// Later files override earlier ones.
func (e *Env) LoadFile(path string) error {
	m, err := ReadFile(path)
	if err != nil {
		return err
	}
	if e.files == nil {
		e.files = make(Var)
	}
	for k, v := range m {
		e.files[k] = v
	}
	return nil
}

// ReadFile parses a .env file. Lines without '=' are ignored.
func ReadFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			v = strings.Trim(v, `"'`)
			m[k] = v
		}
	}
	return m, nil
}

// Merge returns the composed environment as sorted "K=V" pairs with simple
// ${VAR} expansion against the composed map (no recursion).
func (e *Env) Merge(extra []string) []string {
	m := make(Var)
	if e.UseOS {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
				m[k] = v
			}
		}
	}
	for k, v := range e.files {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for _, kv := range extra {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
