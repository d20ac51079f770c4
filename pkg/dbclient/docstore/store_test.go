package docstore

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dosh-shell/dosh/pkg/dbclient"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func insert(t *testing.T, st *Store, db, coll string, docs ...dbclient.Document) *dbclient.WriteResult {
	t.Helper()
	v, err := st.InsertMany(db, coll, docs, dbclient.WriteOptions{}).Await(nil)
	if err != nil {
		t.Fatal(err)
	}
	return v.(*dbclient.WriteResult)
}

func findAll(t *testing.T, st *Store, db, coll string, filter dbclient.Document, opts dbclient.FindOptions) []dbclient.Document {
	t.Helper()
	cur, err := st.Find(db, coll, filter, opts)
	if err != nil {
		t.Fatal(err)
	}
	var docs []dbclient.Document
	for {
		has, err := cur.HasNext().Await(nil)
		if err != nil {
			t.Fatal(err)
		}
		if has != true {
			return docs
		}
		doc, err := cur.Next().Await(nil)
		if err != nil {
			t.Fatal(err)
		}
		docs = append(docs, doc.(dbclient.Document))
	}
}

func TestInsertAndFind(t *testing.T) {
	st := testStore(t)
	res := insert(t, st, "shop", "users",
		dbclient.Document{"name": "ada", "age": 36.0},
		dbclient.Document{"name": "bob", "age": 25.0})
	if len(res.InsertedIDs) != 2 {
		t.Fatalf("inserted %d ids, want 2", len(res.InsertedIDs))
	}

	docs := findAll(t, st, "shop", "users", dbclient.Document{"name": "ada"}, dbclient.FindOptions{})
	if len(docs) != 1 || docs[0]["age"] != 36.0 {
		t.Errorf("find ada -> %v", docs)
	}
	// Round-tripped values keep the document vocabulary: numbers come back
	// as float64.
	if _, ok := docs[0]["age"].(float64); !ok {
		t.Errorf("age decoded as %T, want float64", docs[0]["age"])
	}
}

func TestFindOperatorsAndOptions(t *testing.T) {
	st := testStore(t)
	insert(t, st, "db", "nums",
		dbclient.Document{"n": 1.0}, dbclient.Document{"n": 2.0},
		dbclient.Document{"n": 3.0}, dbclient.Document{"n": 4.0})

	docs := findAll(t, st, "db", "nums", dbclient.Document{"n": map[string]any{"$gt": 1.0, "$lte": 3.0}},
		dbclient.FindOptions{Sort: []dbclient.SortKey{{Field: "n", Desc: true}}})
	got := []float64{}
	for _, d := range docs {
		got = append(got, d["n"].(float64))
	}
	if !cmp.Equal(got, []float64{3, 2}) {
		t.Errorf("filtered+sorted -> %v, want [3 2]", got)
	}

	docs = findAll(t, st, "db", "nums", dbclient.Document{},
		dbclient.FindOptions{Sort: []dbclient.SortKey{{Field: "n"}}, Skip: 1, Limit: 2})
	if len(docs) != 2 || docs[0]["n"] != 2.0 {
		t.Errorf("skip+limit -> %v", docs)
	}
}

func TestProjectionKeepsID(t *testing.T) {
	st := testStore(t)
	insert(t, st, "db", "c", dbclient.Document{"a": 1.0, "b": 2.0})
	docs := findAll(t, st, "db", "c", dbclient.Document{},
		dbclient.FindOptions{Projection: []string{"a"}})
	doc := docs[0]
	if _, ok := doc["_id"]; !ok {
		t.Errorf("projection dropped _id: %v", doc)
	}
	if _, ok := doc["b"]; ok {
		t.Errorf("projection kept excluded field: %v", doc)
	}
}

func TestCursorLifecycle(t *testing.T) {
	st := testStore(t)
	insert(t, st, "db", "c", dbclient.Document{"x": 1.0})
	cur, err := st.Find("db", "c", dbclient.Document{}, dbclient.FindOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// TryNext yields the document, then reports absence without error.
	if _, ok, err := cur.TryNext(); !ok || err != nil {
		t.Fatalf("TryNext -> ok=%v err=%v", ok, err)
	}
	if doc, ok, err := cur.TryNext(); ok || err != nil {
		t.Fatalf("TryNext at end -> (%v, %v, %v), want absence sentinel", doc, ok, err)
	}

	// Exhaustion via HasNext closes the cursor.
	has, err := cur.HasNext().Await(nil)
	if has != false || err != nil {
		t.Fatalf("HasNext at end -> (%v, %v)", has, err)
	}
	if !cur.IsClosed() {
		t.Errorf("cursor not closed after exhaustion")
	}
	_, err = cur.Next().Await(nil)
	if !dbclient.HasCode(err, dbclient.CodeInvalidState) {
		t.Errorf("Next on closed cursor -> %v, want InvalidState", err)
	}
	// Double close is a no-op.
	if _, err := cur.Close().Await(nil); err != nil {
		t.Errorf("Close -> %v", err)
	}
	if _, err := cur.Close().Await(nil); err != nil {
		t.Errorf("second Close -> %v", err)
	}
}

func TestUpdateOne(t *testing.T) {
	st := testStore(t)
	insert(t, st, "db", "c", dbclient.Document{"name": "ada", "age": 36.0})

	v, err := st.UpdateOne("db", "c", dbclient.Document{"name": "ada"},
		dbclient.Document{"$set": map[string]any{"age": 37.0}, "$inc": map[string]any{"visits": 1.0}},
		dbclient.WriteOptions{}).Await(nil)
	if err != nil {
		t.Fatal(err)
	}
	res := v.(*dbclient.WriteResult)
	if res.MatchedCount != 1 || res.ModifiedCount != 1 {
		t.Errorf("update -> %+v", res)
	}
	docs := findAll(t, st, "db", "c", dbclient.Document{}, dbclient.FindOptions{})
	if docs[0]["age"] != 37.0 || docs[0]["visits"] != 1.0 {
		t.Errorf("after update: %v", docs[0])
	}

	// Replacement without operators keeps _id.
	id := docs[0]["_id"]
	if _, err := st.UpdateOne("db", "c", dbclient.Document{"name": "ada"},
		dbclient.Document{"name": "lovelace"}, dbclient.WriteOptions{}).Await(nil); err != nil {
		t.Fatal(err)
	}
	docs = findAll(t, st, "db", "c", dbclient.Document{}, dbclient.FindOptions{})
	if docs[0]["_id"] != id || docs[0]["name"] != "lovelace" || docs[0]["age"] != nil {
		t.Errorf("after replace: %v", docs[0])
	}
}

func TestDelete(t *testing.T) {
	st := testStore(t)
	insert(t, st, "db", "c",
		dbclient.Document{"k": "a"}, dbclient.Document{"k": "a"}, dbclient.Document{"k": "b"})

	v, err := st.Delete("db", "c", dbclient.Document{"k": "a"}, true, dbclient.WriteOptions{}).Await(nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.(*dbclient.WriteResult).DeletedCount != 1 {
		t.Errorf("deleteOne removed %d", v.(*dbclient.WriteResult).DeletedCount)
	}

	v, err = st.Delete("db", "c", dbclient.Document{}, false, dbclient.WriteOptions{}).Await(nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.(*dbclient.WriteResult).DeletedCount != 2 {
		t.Errorf("deleteMany removed %d", v.(*dbclient.WriteResult).DeletedCount)
	}
}

func TestCount(t *testing.T) {
	st := testStore(t)
	insert(t, st, "db", "c", dbclient.Document{"n": 1.0}, dbclient.Document{"n": 2.0})
	v, err := st.Count("db", "c", dbclient.Document{"n": 2.0}, dbclient.FindOptions{}).Await(nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1.0 {
		t.Errorf("count -> %v, want 1", v)
	}
}

func TestListAndDrop(t *testing.T) {
	st := testStore(t)
	insert(t, st, "one", "a", dbclient.Document{})
	insert(t, st, "two", "b", dbclient.Document{})

	v, err := st.ListDatabases().Await(nil)
	if err != nil {
		t.Fatal(err)
	}
	if names := v.([]string); !cmp.Equal(names, []string{"one", "two"}) {
		t.Errorf("ListDatabases -> %v", names)
	}

	v, err = st.Drop("one", "a").Await(nil)
	if err != nil || v != true {
		t.Fatalf("Drop -> (%v, %v)", v, err)
	}
	v, err = st.ListCollections("one").Await(nil)
	if err != nil {
		t.Fatal(err)
	}
	if names := v.([]string); len(names) != 0 {
		t.Errorf("collections after drop -> %v", names)
	}
}

func TestAggregate(t *testing.T) {
	st := testStore(t)
	insert(t, st, "db", "c",
		dbclient.Document{"n": 3.0}, dbclient.Document{"n": 1.0}, dbclient.Document{"n": 2.0})
	v, err := st.Aggregate("db", "c", []dbclient.Document{
		{"$match": map[string]any{"n": map[string]any{"$gte": 2.0}}},
		{"$sort": map[string]any{"n": 1.0}},
	}, dbclient.FindOptions{}).Await(nil)
	if err != nil {
		t.Fatal(err)
	}
	cur := v.(dbclient.Cursor)
	first, err := cur.Next().Await(nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.(dbclient.Document)["n"] != 2.0 {
		t.Errorf("first aggregate doc: %v", first)
	}
}

func TestWatch(t *testing.T) {
	st := testStore(t)
	cur, err := st.Watch("db", "c")
	if err != nil {
		t.Fatal(err)
	}

	// Nothing committed yet.
	if _, ok, err := cur.TryNext(); ok || err != nil {
		t.Fatalf("TryNext on idle stream -> ok=%v err=%v", ok, err)
	}

	insert(t, st, "db", "c", dbclient.Document{"x": 1.0})
	has, err := cur.HasNext().Await(nil)
	if has != true || err != nil {
		t.Fatalf("HasNext -> (%v, %v)", has, err)
	}
	v, err := cur.Next().Await(nil)
	if err != nil {
		t.Fatal(err)
	}
	ev := v.(dbclient.Document)
	if ev["operationType"] != "insert" {
		t.Errorf("event: %v", ev)
	}

	// Events in other namespaces do not reach this watcher.
	insert(t, st, "other", "c", dbclient.Document{"y": 1.0})
	if _, ok, _ := cur.TryNext(); ok {
		t.Errorf("watcher received cross-namespace event")
	}

	if _, err := cur.Close().Await(nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := cur.TryNext(); !dbclient.HasCode(err, dbclient.CodeInvalidState) {
		t.Errorf("TryNext on closed stream -> %v, want InvalidState", err)
	}
}

func TestSessionTransactions(t *testing.T) {
	st := testStore(t)
	sess, err := st.StartSession()
	if err != nil {
		t.Fatal(err)
	}
	opts := dbclient.WriteOptions{Session: sess}

	if err := sess.Begin(); err != nil {
		t.Fatal(err)
	}
	// Writes in the transaction are buffered, not visible yet.
	if _, err := st.InsertMany("db", "c", []dbclient.Document{{"x": 1.0}}, opts).Await(nil); err != nil {
		t.Fatal(err)
	}
	if docs := findAll(t, st, "db", "c", dbclient.Document{}, dbclient.FindOptions{}); len(docs) != 0 {
		t.Errorf("uncommitted write visible: %v", docs)
	}

	if _, err := sess.Commit().Await(nil); err != nil {
		t.Fatal(err)
	}
	if docs := findAll(t, st, "db", "c", dbclient.Document{}, dbclient.FindOptions{}); len(docs) != 1 {
		t.Errorf("committed write not visible")
	}

	// An aborted transaction leaves no trace.
	if err := sess.Begin(); err != nil {
		t.Fatal(err)
	}
	if _, err := st.InsertMany("db", "c", []dbclient.Document{{"x": 2.0}}, opts).Await(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.Abort().Await(nil); err != nil {
		t.Fatal(err)
	}
	if docs := findAll(t, st, "db", "c", dbclient.Document{}, dbclient.FindOptions{}); len(docs) != 1 {
		t.Errorf("aborted write visible")
	}
}

func TestEndedSessionRejectsWork(t *testing.T) {
	st := testStore(t)
	sess, err := st.StartSession()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sess.End().Await(nil); err != nil {
		t.Fatal(err)
	}
	_, err = st.InsertMany("db", "c", []dbclient.Document{{}},
		dbclient.WriteOptions{Session: sess}).Await(nil)
	if !dbclient.HasCode(err, dbclient.CodeSessionExpired) {
		t.Errorf("write through ended session -> %v, want SessionExpired", err)
	}
	if err := sess.Begin(); !dbclient.HasCode(err, dbclient.CodeSessionExpired) {
		t.Errorf("Begin on ended session -> %v, want SessionExpired", err)
	}
}
