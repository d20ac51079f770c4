// Package sig provides the signature catalog: static metadata about every
// member of every shell API type, used by the rewriter to decide which call
// sites must be awaited and which bare words are direct commands.
//
// The catalog is pure data. It never evaluates compatibility metadata and
// never fails a lookup: members it does not model get a conservative
// default that the rewriter treats as possibly deferred.
package sig

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// TypeRef names a shell API type or scripting built-in type.
type TypeRef string

// Unknown is the TypeRef for values whose type cannot be inferred. The
// rewriter treats calls on such values conservatively.
const Unknown TypeRef = "unknown"

// ShellType is the pseudo-type whose members are the global shell
// functions; bare identifiers that resolve to no binding are looked up on
// it.
const ShellType = "Shell"

// Kind distinguishes callable members from plain properties.
type Kind string

const (
	KindFunction Kind = "function"
	KindProperty Kind = "property"
)

// Entry describes one member of one type.
type Entry struct {
	Kind Kind `yaml:"kind"`
	// Whether invoking the member returns a deferred result that must be
	// awaited.
	ReturnsDeferred bool    `yaml:"deferred"`
	ReturnType      TypeRef `yaml:"returnType"`
	// Whether the member doubles as a bare shell command ("show dbs").
	IsDirectCommand bool `yaml:"directCommand"`
	// True only for unmodeled members: the value might be deferred, so the
	// rewriter must resolve it through the maybe-await helper.
	MaybeDeferred bool `yaml:"-"`

	// Compatibility metadata, carried through unevaluated.
	Since       string   `yaml:"since"`
	Topologies  []string `yaml:"topologies"`
	APIVersions []string `yaml:"apiVersions"`
}

type typeSpec struct {
	// Type of unmodeled members, for types whose properties are themselves
	// well-known (a database's properties are its collections).
	Dynamic TypeRef          `yaml:"dynamic"`
	Members map[string]Entry `yaml:"members"`
}

type catalogSpec struct {
	Globals map[string]TypeRef  `yaml:"globals"`
	Types   map[string]typeSpec `yaml:"types"`
}

// Catalog is an immutable signature table.
type Catalog struct {
	spec catalogSpec
}

// Load parses the embedded catalog data.
func Load() (*Catalog, error) {
	var spec catalogSpec
	if err := yaml.Unmarshal(catalogYAML, &spec); err != nil {
		return nil, fmt.Errorf("decode signature catalog: %w", err)
	}
	for _, ts := range spec.Types {
		for member, e := range ts.Members {
			if e.Kind == "" {
				e.Kind = KindFunction
			}
			if e.ReturnType == "" {
				e.ReturnType = Unknown
			}
			ts.Members[member] = e
		}
	}
	return &Catalog{spec}, nil
}

// MustLoad is like Load but panics on error. The catalog is embedded, so a
// failure is a build defect, not a runtime condition.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the entry for the given member of the given type. It never
// fails: unmodeled members of modeled dynamic types resolve to the type's
// dynamic member type, and anything else gets a conservative default that
// the rewriter must treat as possibly deferred.
func (c *Catalog) Lookup(typeName TypeRef, member string) Entry {
	if ts, ok := c.spec.Types[string(typeName)]; ok {
		if e, ok := ts.Members[member]; ok {
			return e
		}
		if ts.Dynamic != "" {
			return Entry{Kind: KindProperty, ReturnType: ts.Dynamic}
		}
	}
	return Entry{Kind: KindProperty, ReturnType: Unknown, MaybeDeferred: true}
}

// HasMember reports whether the member is explicitly modeled on the type.
func (c *Catalog) HasMember(typeName TypeRef, member string) bool {
	ts, ok := c.spec.Types[string(typeName)]
	if !ok {
		return false
	}
	_, ok = ts.Members[member]
	return ok
}

// IsDirectCommand reports whether name is a global direct command.
func (c *Catalog) IsDirectCommand(name string) bool {
	return c.Lookup(ShellType, name).IsDirectCommand
}

// SeedGlobals returns the initial typing of the global symbols (the default
// database handle and friends). It is consumed once per session to seed the
// rewriter's binding table before any user input.
func (c *Catalog) SeedGlobals() map[string]TypeRef {
	out := make(map[string]TypeRef, len(c.spec.Globals))
	for name, t := range c.spec.Globals {
		out[name] = t
	}
	return out
}
