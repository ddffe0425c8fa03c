package models

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// LookupFunc resolves a variable name to a value. The second return value
// reports whether the variable is set at all; an empty-but-set variable is
// a valid resolution.
type LookupFunc func(name string) (string, bool)

// EnvFileLookup loads a dotenv file and returns a lookup that prefers the
// process environment over the file, matching the usual substitution
// precedence. A missing file is not an error when optional is true.
func EnvFileLookup(path string, optional bool) (LookupFunc, error) {
	fileVars := map[string]string{}

	if path != "" {
		loaded, err := godotenv.Read(path)
		if err != nil {
			if !(optional && os.IsNotExist(err)) {
				return nil, fmt.Errorf("read env file %q: %w", path, err)
			}
		} else {
			fileVars = loaded
		}
	}

	return func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := fileVars[name]
		return v, ok
	}, nil
}

// ExpandValue substitutes $VAR and ${VAR} references in a single value and
// collects the names of referenced variables that are not set anywhere.
func ExpandValue(value string, lookup LookupFunc, missing map[string]struct{}) string {
	return os.Expand(value, func(name string) string {
		// os.Expand hands "$" through for a literal "$$" escape.
		if name == "$" {
			return "$"
		}
		v, ok := lookup(name)
		if !ok {
			missing[name] = struct{}{}
			return ""
		}
		return v
	})
}

// Resolve substitutes variable references in every service environment
// value and readiness probe field, in place, and records each referenced
// variable's resolved value in ResolvedVars. Any reference to an unset
// variable is a hard error naming every offender, so a broken
// configuration fails before anything is created.
func (t *Topology) Resolve(lookup LookupFunc) error {
	missing := map[string]struct{}{}

	if t.ResolvedVars == nil {
		t.ResolvedVars = map[string]string{}
	}
	record := func(name string) (string, bool) {
		v, ok := lookup(name)
		if ok {
			t.ResolvedVars[name] = v
		}
		return v, ok
	}

	for name, svc := range t.Services {
		for k, v := range svc.Environment {
			svc.Environment[k] = ExpandValue(v, record, missing)
		}
		if svc.Readiness != nil {
			svc.Readiness.Address = ExpandValue(svc.Readiness.Address, record, missing)
			svc.Readiness.URL = ExpandValue(svc.Readiness.URL, record, missing)
			svc.Readiness.DSN = ExpandValue(svc.Readiness.DSN, record, missing)
		}
		t.Services[name] = svc
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return fmt.Errorf("unresolved environment variables: %s", strings.Join(names, ", "))
	}

	return nil
}
