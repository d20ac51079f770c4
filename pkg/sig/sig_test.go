package sig

import (
	"testing"

	"github.com/dosh-shell/dosh/pkg/tt"
)

var catalog = MustLoad()

func TestLookup(t *testing.T) {
	deferred := func(typ TypeRef, member string) bool {
		return catalog.Lookup(typ, member).ReturnsDeferred
	}
	tt.Test(t, "deferred", deferred, tt.Table{
		tt.Args(TypeRef("Collection"), "insertOne").Rets(true),
		tt.Args(TypeRef("Collection"), "find").Rets(false),
		tt.Args(TypeRef("Cursor"), "next").Rets(true),
		tt.Args(TypeRef("Cursor"), "sort").Rets(false),
		tt.Args(TypeRef("Session"), "commitTransaction").Rets(true),
		tt.Args(TypeRef("Session"), "startTransaction").Rets(false),
	})

	returnType := func(typ TypeRef, member string) TypeRef {
		return catalog.Lookup(typ, member).ReturnType
	}
	tt.Test(t, "returnType", returnType, tt.Table{
		tt.Args(TypeRef("Collection"), "find").Rets(TypeRef("Cursor")),
		tt.Args(TypeRef("Cursor"), "limit").Rets(TypeRef("Cursor")),
		tt.Args(TypeRef("Database"), "getSiblingDB").Rets(TypeRef("Database")),
		// Unmodeled member of a dynamic type resolves to the dynamic type.
		tt.Args(TypeRef("Database"), "anything").Rets(TypeRef("Collection")),
		tt.Args(TypeRef("object"), "anything").Rets(Unknown),
		// Both cursor kinds answer hasNext with a bool.
		tt.Args(TypeRef("Cursor"), "hasNext").Rets(TypeRef("bool")),
		tt.Args(TypeRef("ChangeStreamCursor"), "hasNext").Rets(TypeRef("bool")),
	})
}

func TestLookup_UnmodeledIsMaybeDeferred(t *testing.T) {
	e := catalog.Lookup(Unknown, "whatever")
	if !e.MaybeDeferred {
		t.Errorf("unmodeled member not flagged MaybeDeferred")
	}
	if e.ReturnType != Unknown {
		t.Errorf("unmodeled member has return type %q, want unknown", e.ReturnType)
	}
	// Members the catalog does model are never MaybeDeferred.
	if catalog.Lookup("Cursor", "next").MaybeDeferred {
		t.Errorf("modeled member flagged MaybeDeferred")
	}
}

func TestIsDirectCommand(t *testing.T) {
	tt.Test(t, "IsDirectCommand", catalog.IsDirectCommand, tt.Table{
		tt.Args("show").Rets(true),
		tt.Args("use").Rets(true),
		tt.Args("exit").Rets(true),
		tt.Args("find").Rets(false),
		tt.Args("print").Rets(false),
	})
}

func TestSeedGlobals(t *testing.T) {
	globals := catalog.SeedGlobals()
	if globals["db"] != "Database" {
		t.Errorf("db seeded as %q, want Database", globals["db"])
	}
}

func TestCompatibilityMetadataCarried(t *testing.T) {
	e := catalog.Lookup("Collection", "watch")
	if e.Since != "3.6" {
		t.Errorf("watch.Since = %q, want 3.6", e.Since)
	}
	if len(e.Topologies) != 2 {
		t.Errorf("watch.Topologies = %v, want two entries", e.Topologies)
	}
}
