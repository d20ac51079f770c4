package eval

import (
	"sort"
	"strconv"
	"strings"
)

// ToString renders a value the way string contexts (concatenation, join)
// see it.
func ToString(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return formatNumber(v)
	case string:
		return v
	default:
		return Repr(v)
	}
}

// Repr renders a value for display at the REPL. Objects print with sorted
// keys so output is deterministic.
func Repr(v any) string {
	var sb strings.Builder
	reprTo(&sb, v, "")
	return sb.String()
}

func reprTo(sb *strings.Builder, v any, indent string) {
	switch v := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(v))
	case float64:
		sb.WriteString(formatNumber(v))
	case string:
		sb.WriteString(strconv.Quote(v))
	case *List:
		if len(v.Elems) == 0 {
			sb.WriteString("[ ]")
			return
		}
		sb.WriteString("[\n")
		inner := indent + "  "
		for _, el := range v.Elems {
			sb.WriteString(inner)
			reprTo(sb, el, inner)
			sb.WriteString(",\n")
		}
		sb.WriteString(indent + "]")
	case []any:
		reprTo(sb, NewList(v...), indent)
	case map[string]any:
		if len(v) == 0 {
			sb.WriteString("{ }")
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		// _id leads, as servers print it.
		for i, k := range keys {
			if k == "_id" {
				copy(keys[1:i+1], keys[:i])
				keys[0] = "_id"
				break
			}
		}
		sb.WriteString("{\n")
		inner := indent + "  "
		for _, k := range keys {
			sb.WriteString(inner + k + ": ")
			reprTo(sb, v[k], inner)
			sb.WriteString(",\n")
		}
		sb.WriteString(indent + "}")
	case *GoFn:
		sb.WriteString("[function " + v.name + "]")
	case Callable:
		sb.WriteString("[function]")
	case interface{ ReprString() string }:
		sb.WriteString(v.ReprString())
	default:
		sb.WriteString("[" + TypeName(v) + "]")
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
