// Package docstore is the embedded database backend: a single bbolt file
// holding msgpack-encoded documents, one nested bucket per
// database/collection namespace. It implements dbclient.Client and is the
// default backend when the shell is not pointed at a server.
package docstore

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/logutil"
)

var logger = logutil.GetLogger("[docstore] ")

// Store is an embedded document store backed by a bbolt file.
type Store struct {
	bdb *bolt.DB

	mu       sync.Mutex
	watchers []*watchCursor
	closed   bool
}

// Open opens or creates the store file.
func Open(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open docstore: %w", err)
	}
	logger.Println("opened", path)
	return &Store{bdb: bdb}, nil
}

// Close closes the store. Outstanding watch cursors are closed as well.
func (st *Store) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	watchers := st.watchers
	st.watchers = nil
	st.mu.Unlock()
	for _, w := range watchers {
		w.shutdown()
	}
	return st.bdb.Close()
}

func encodeDoc(doc dbclient.Document) ([]byte, error) {
	return msgpack.Marshal(doc)
}

func decodeDoc(data []byte) (dbclient.Document, error) {
	var doc map[string]any
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return normalize(doc), nil
}

// normalize converts decoded values to the document value vocabulary:
// float64 numbers, map[string]any maps, []any arrays.
func normalize(m map[string]any) dbclient.Document {
	out := make(dbclient.Document, len(m))
	for k, val := range m {
		out[k] = normalizeValue(val)
	}
	return out
}

func normalizeValue(v any) any {
	switch v := v.(type) {
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case map[string]any:
		return normalize(v)
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = normalizeValue(el)
		}
		return out
	default:
		return v
	}
}

// collBucket returns the bucket for db/coll inside a transaction, creating
// it when create is set. A nil return with a nil error means the namespace
// does not exist.
func collBucket(tx *bolt.Tx, db, coll string, create bool) (*bolt.Bucket, error) {
	if create {
		dbb, err := tx.CreateBucketIfNotExists([]byte(db))
		if err != nil {
			return nil, err
		}
		return dbb.CreateBucketIfNotExists([]byte(coll))
	}
	dbb := tx.Bucket([]byte(db))
	if dbb == nil {
		return nil, nil
	}
	return dbb.Bucket([]byte(coll)), nil
}

// scan collects every document in db/coll matching the filter.
func (st *Store) scan(db, coll string, filter dbclient.Document) ([]dbclient.Document, error) {
	var docs []dbclient.Document
	err := st.bdb.View(func(tx *bolt.Tx) error {
		b, err := collBucket(tx, db, coll, false)
		if b == nil || err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			doc, err := decodeDoc(v)
			if err != nil {
				return err
			}
			if matchFilter(doc, filter) {
				docs = append(docs, doc)
			}
			return nil
		})
	})
	return docs, err
}

// applyFindOptions sorts, slices and projects the scanned documents.
func applyFindOptions(docs []dbclient.Document, opts dbclient.FindOptions) []dbclient.Document {
	if len(opts.Sort) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			for _, key := range opts.Sort {
				c := compareValues(lookupPath(docs[i], key.Field), lookupPath(docs[j], key.Field))
				if c != 0 {
					if key.Desc {
						return c > 0
					}
					return c < 0
				}
			}
			return false
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(docs) {
			docs = nil
		} else {
			docs = docs[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(docs) {
		docs = docs[:opts.Limit]
	}
	if len(opts.Projection) > 0 {
		projected := make([]dbclient.Document, len(docs))
		for i, doc := range docs {
			p := dbclient.Document{}
			if id, ok := doc["_id"]; ok {
				p["_id"] = id
			}
			for _, field := range opts.Projection {
				if v, ok := doc[field]; ok {
					p[field] = v
				}
			}
			projected[i] = p
		}
		docs = projected
	}
	return docs
}

// Filter matching: top-level equality plus the comparison operators
// $gt, $gte, $lt, $lte, $ne and $in. Field names may use dotted paths.

func matchFilter(doc, filter dbclient.Document) bool {
	for field, want := range filter {
		got := lookupPath(doc, field)
		if cond, ok := want.(map[string]any); ok && hasOperator(cond) {
			if !matchOperators(got, cond) {
				return false
			}
			continue
		}
		if compareValues(got, want) != 0 {
			return false
		}
	}
	return true
}

func hasOperator(cond map[string]any) bool {
	for k := range cond {
		if len(k) > 0 && k[0] == '$' {
			return true
		}
	}
	return false
}

func matchOperators(got any, cond map[string]any) bool {
	for op, arg := range cond {
		switch op {
		case "$gt":
			if !(compareValues(got, arg) > 0) {
				return false
			}
		case "$gte":
			if !(compareValues(got, arg) >= 0) {
				return false
			}
		case "$lt":
			if !(compareValues(got, arg) < 0) {
				return false
			}
		case "$lte":
			if !(compareValues(got, arg) <= 0) {
				return false
			}
		case "$ne":
			if compareValues(got, arg) == 0 {
				return false
			}
		case "$in":
			arr, ok := arg.([]any)
			if !ok {
				return false
			}
			found := false
			for _, el := range arr {
				if compareValues(got, el) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func lookupPath(doc dbclient.Document, path string) any {
	var cur any = doc
	for {
		dot := -1
		for i := 0; i < len(path); i++ {
			if path[i] == '.' {
				dot = i
				break
			}
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if dot == -1 {
			return m[path]
		}
		cur = m[path[:dot]]
		path = path[dot+1:]
	}
}

// compareValues imposes a total order over document values: nil < numbers
// < strings < bools; unequal types compare by that rank.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch a := a.(type) {
	case nil:
		return 0
	case float64:
		bf := b.(float64)
		switch {
		case a < bf:
			return -1
		case a > bf:
			return 1
		}
		return 0
	case string:
		return bytes.Compare([]byte(a), []byte(b.(string)))
	case bool:
		bb := b.(bool)
		switch {
		case a == bb:
			return 0
		case !a:
			return -1
		}
		return 1
	default:
		// Arrays and nested documents compare by encoded form; ordering
		// them meaningfully is not needed, only deterministically.
		ea, _ := msgpack.Marshal(a)
		eb, _ := msgpack.Marshal(b)
		return bytes.Compare(ea, eb)
	}
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}
