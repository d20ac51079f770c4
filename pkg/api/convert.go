package api

import (
	"fmt"

	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/eval"
)

// The evaluator's value vocabulary and the backend's document vocabulary
// differ in one place: script arrays are boxed *eval.List, documents carry
// plain []any. These helpers translate at the API boundary.

func toDocument(v any) (dbclient.Document, error) {
	if v == nil {
		return dbclient.Document{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a document, got %s", eval.TypeName(v))
	}
	out := make(dbclient.Document, len(m))
	for k, val := range m {
		out[k] = toValue(val)
	}
	return out, nil
}

func toValue(v any) any {
	switch v := v.(type) {
	case *eval.List:
		out := make([]any, len(v.Elems))
		for i, el := range v.Elems {
			out[i] = toValue(el)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = toValue(val)
		}
		return out
	default:
		return v
	}
}

func errWant(fn, what string) error {
	return fmt.Errorf("%s wants %s", fn, what)
}

func errNoAPIMember(typ, name string) error {
	return fmt.Errorf("%s has no member %q", typ, name)
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func docArg(args []any, i int) (dbclient.Document, error) {
	return toDocument(argAt(args, i))
}

func stringArg(fn string, args []any, i int) (string, error) {
	s, ok := argAt(args, i).(string)
	if !ok {
		return "", fmt.Errorf("%s wants a string argument", fn)
	}
	return s, nil
}

func numberArg(fn string, args []any, i int) (float64, error) {
	n, ok := argAt(args, i).(float64)
	if !ok {
		return 0, fmt.Errorf("%s wants a number argument", fn)
	}
	return n, nil
}
