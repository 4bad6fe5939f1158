package execute

import (
	"fmt"

	"github.com/latticeflow/fedrouter/respval"
)

// jsonScalarString renders a non-string, non-object, non-array respval
// scalar (float64, bool) into its canonical text form, used by
// canonicalKey to hash representations deterministically.
func jsonScalarString(v respval.Value) string {
	return fmt.Sprintf("%v", v)
}

// toJSONValue converts a respval.Value into the plain
// map[string]interface{}/[]interface{} shape transport.Request and
// encoding/json both expect. Object key order is not significant once a
// value leaves the response tree (it only matters for the client-facing
// projection, which never goes through this path).
func toJSONValue(v respval.Value) interface{} {
	switch t := v.(type) {
	case *respval.Object:
		out := make(map[string]interface{}, t.Len())
		for _, k := range t.Keys() {
			val, _ := t.Get(k)
			out[k] = toJSONValue(val)
		}
		return out
	case *respval.Array:
		out := make([]interface{}, len(t.Items))
		for i, item := range t.Items {
			out[i] = toJSONValue(item)
		}
		return out
	default:
		return t
	}
}
