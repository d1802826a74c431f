// Package persona loads the bot's personality prompts and its canned
// user-facing messages from an embedded YAML catalog, optionally overlaid
// with a file on disk.
package persona

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var embedded embed.FS

// DefaultPrompt is used when a persona name is unknown.
const DefaultPrompt = "You are a Go-playing AI with personality. Be entertaining."

type fileSchema struct {
	GameFlow string `yaml:"game_flow"`
	Personas map[string]struct {
		Style string `yaml:"style"`
	} `yaml:"personas"`
	Messages map[string]string `yaml:"messages"`
}

type Catalog struct {
	gameFlow string
	styles   map[string]string
	messages map[string]string
}

// Load builds the catalog from the embedded file.
func Load() (*Catalog, error) {
	raw, err := embedded.ReadFile("personas.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded personas: %w", err)
	}
	c := &Catalog{styles: map[string]string{}, messages: map[string]string{}}
	if err := c.merge(raw); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadWithOverride merges a personas.yaml from dir over the embedded
// catalog. Overridden keys win; a missing override file is fine.
func LoadWithOverride(dir string) (*Catalog, error) {
	c, err := Load()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) == "" {
		return c, nil
	}
	path := filepath.Join(dir, "personas.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read persona override %s: %w", path, err)
	}
	if err := c.merge(raw); err != nil {
		return nil, fmt.Errorf("parse persona override %s: %w", path, err)
	}
	return c, nil
}

func (c *Catalog) merge(raw []byte) error {
	var f fileSchema
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse personas: %w", err)
	}
	if flow := strings.TrimSpace(f.GameFlow); flow != "" {
		c.gameFlow = flow
	}
	for name, p := range f.Personas {
		c.styles[strings.ToLower(name)] = strings.TrimSpace(p.Style)
	}
	for key, msg := range f.Messages {
		c.messages[key] = msg
	}
	return nil
}

// Prompt returns the system prompt for a persona: the shared game flow text
// plus the persona's style block.
func (c *Catalog) Prompt(name string) string {
	style, ok := c.styles[strings.ToLower(strings.TrimSpace(name))]
	if !ok || style == "" {
		return DefaultPrompt
	}
	return c.gameFlow + "\n\n" + style
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.styles[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names lists the known personas, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.styles))
	for name := range c.styles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the message template for key. Unknown keys and missing
// template fields are errors; callers should provide a safe fallback.
func (c *Catalog) Render(key string, data any) (string, error) {
	tpl, ok := c.messages[key]
	if !ok {
		return "", fmt.Errorf("unknown message key %q", key)
	}
	t, err := template.New(key).Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("parse message %q: %w", key, err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render message %q: %w", key, err)
	}
	return sb.String(), nil
}

// MessageOr renders key and falls back to the given literal on any error.
func (c *Catalog) MessageOr(key string, data any, fallback string) string {
	if c == nil {
		return fallback
	}
	out, err := c.Render(key, data)
	if err != nil {
		return fallback
	}
	return out
}
