package command

import (
	"context"
	"fmt"
	"slices"

	"github.com/glizzus/cmdcron/internal/util"
)

// ArgumentSpec describes one argument a command accepts.
type ArgumentSpec struct {
	Name     string   `yaml:"name" json:"name"`
	Help     string   `yaml:"help" json:"help,omitempty"`
	Required bool     `yaml:"required" json:"required"`
	Default  any      `yaml:"default" json:"default,omitempty"`
	Type     string   `yaml:"type" json:"type,omitempty"`
	Choices  []string `yaml:"choices" json:"choices,omitempty"`
}

// Catalog is the live set of commands that may be scheduled.
// It is queried at runtime; commands may appear after startup.
type Catalog interface {
	// ListCommands returns every command name mapped to its app tag.
	ListCommands(ctx context.Context) (map[string]string, error)
	// ArgumentSchema returns the arguments a command accepts, or an
	// *UnknownCommandError if the catalog does not know it.
	ArgumentSchema(ctx context.Context, name string) ([]ArgumentSpec, error)
}

// UnknownCommandError is returned when a catalog lookup misses.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

var _ error = (*UnknownCommandError)(nil)

// Definition is one catalog entry.
type Definition struct {
	Name      string         `yaml:"name"`
	App       string         `yaml:"app"`
	Help      string         `yaml:"help"`
	Arguments []ArgumentSpec `yaml:"arguments"`
}

// StaticCatalog is a fixed, in-memory Catalog.
type StaticCatalog struct {
	defs map[string]Definition
}

func NewStaticCatalog(defs ...Definition) *StaticCatalog {
	c := &StaticCatalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		c.defs[d.Name] = d
	}
	return c
}

func (c *StaticCatalog) ListCommands(_ context.Context) (map[string]string, error) {
	out := make(map[string]string, len(c.defs))
	for name, d := range c.defs {
		out[name] = d.App
	}
	return out, nil
}

func (c *StaticCatalog) ArgumentSchema(_ context.Context, name string) ([]ArgumentSpec, error) {
	d, ok := c.defs[name]
	if !ok {
		return nil, &UnknownCommandError{Name: name}
	}
	return slices.Clone(d.Arguments), nil
}

var _ Catalog = (*StaticCatalog)(nil)

// Lookup returns the app tag of name, or an *UnknownCommandError.
func Lookup(ctx context.Context, c Catalog, name string) (string, error) {
	commands, err := c.ListCommands(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list commands: %w", err)
	}
	app, ok := commands[name]
	if !ok {
		return "", &UnknownCommandError{Name: name}
	}
	return app, nil
}

// Names returns the sorted command names of a catalog listing.
func Names(commands map[string]string) []string {
	return util.SortedKeys(commands)
}
