package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Source is a script ready to be compiled.
type Source struct {
	// Name is the path relative to the scripts root, or any label for
	// in-memory scripts.
	Name string
	Code string
}

// Kind tells VALIDATE which entry points a script must expose.
type Kind uint8

const (
	KindShip Kind = iota
	KindStage
)

func (k Kind) String() string {
	if k == KindStage {
		return "stage"
	}
	return "ship"
}

// Loader reads scripts from beneath a fixed root directory.
type Loader struct {
	root string
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{root: dir}
}

// Root returns the scripts root.
func (l *Loader) Root() string { return l.root }

// Resolve maps a relative script path to a file path under the root.
// Absolute paths and paths that climb out of the root are rejected.
func (l *Loader) Resolve(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if !filepath.IsLocal(clean) {
		return "", &ScriptLoadError{Script: rel, Err: errors.New("path is outside the scripts root")}
	}
	return filepath.Join(l.root, clean), nil
}

// Load reads the script at rel.
func (l *Loader) Load(rel string) (Source, error) {
	path, err := l.Resolve(rel)
	if err != nil {
		return Source{}, err
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return Source{}, &ScriptLoadError{Script: rel, Err: err}
	}
	return Source{Name: filepath.ToSlash(filepath.Clean(rel)), Code: string(code)}, nil
}

// Validate dry-runs src in a throwaway context and checks its entry points.
// Ship scripts must define init or run and must not define configure; stage
// scripts must define configure.
func Validate(ctx context.Context, src Source, kind Kind, opts Options) error {
	opts.Name = src.Name
	c := New(ctx, opts)
	defer c.Close()

	if err := c.load(src, PhaseValidate); err != nil {
		return &ScriptValidationFailure{Script: src.Name, Reason: "script failed to load", Err: err}
	}

	switch kind {
	case KindStage:
		if !c.HasFunction("configure") {
			return &ScriptValidationFailure{Script: src.Name, Reason: "stage must define configure"}
		}
	default:
		if c.HasFunction("configure") {
			return &ScriptValidationFailure{Script: src.Name, Reason: "ship must not define configure"}
		}
		if !c.HasFunction("init") && !c.HasFunction("run") {
			return &ScriptValidationFailure{Script: src.Name, Reason: fmt.Sprintf("%s must define init or run", kind)}
		}
	}
	return nil
}
