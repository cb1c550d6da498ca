package replay

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Placeholder is replaced by the replay stream in a presentation template.
const Placeholder = "{{REPLAY_DATA}}"

// ErrNoPlaceholder means a template cannot carry a replay.
var ErrNoPlaceholder = errors.New("replay: template has no " + Placeholder + " placeholder")

//go:embed template.html
var defaultTemplate string

// DefaultTemplate returns the built-in page used when no template is
// configured.
func DefaultTemplate() string { return defaultTemplate }

// Embed substitutes data for the first placeholder in tmpl.
func Embed(tmpl, data string) (string, error) {
	i := strings.Index(tmpl, Placeholder)
	if i < 0 {
		return "", ErrNoPlaceholder
	}
	return tmpl[:i] + data + tmpl[i+len(Placeholder):], nil
}

// LoadTemplate reads the template at path, or returns the built-in one when
// path is empty.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return defaultTemplate, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading replay template: %w", err)
	}
	return string(b), nil
}

// WriteFile embeds data into tmpl and writes it to dir/name, creating dir
// if needed. It returns the path written.
func WriteFile(dir, name, tmpl, data string) (string, error) {
	page, err := Embed(tmpl, data)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating replay dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		return "", fmt.Errorf("writing replay: %w", err)
	}
	return path, nil
}

// FileName builds a replay file name from the team names.
func FileName(teams []string) string {
	var sb strings.Builder
	for i, t := range teams {
		if i > 0 {
			sb.WriteString("-vs-")
		}
		for _, r := range t {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
				sb.WriteRune(r)
			default:
				sb.WriteByte('_')
			}
		}
	}
	if sb.Len() == 0 {
		sb.WriteString("match")
	}
	return sb.String() + ".html"
}
