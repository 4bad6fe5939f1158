// Package respval defines the response tree: a JSON-shaped value owned
// by one request, built by merging subgraph responses and walked by
// Response Projection to produce the client-visible body. Leaves are
// scalars/enums/null; interior values are ordered objects or arrays, so
// the client always sees field order matching the operation rather
// than whatever order a subgraph's JSON encoder happened to use.
//
// Grounded on federation/server.go's marshal/unmarshal pair
// (marshalPbSelections/unmarshalPbSelectionSet) for the general shape
// of "a declarative tree walked by selection", generalized here from
// protobuf marshaling to a plain in-memory value tree merged across
// several subgraph responses before any marshaling happens.
package respval

// Value is one node of the response tree: *Object, *Array, or a bare
// Go scalar (string, float64, bool, nil).
type Value interface{}

// Object is an ordered object: insertion order is preserved so
// projection emits keys in the order the operation requested them,
// regardless of the order subgraphs returned them in.
type Object struct {
	keys   []string
	values map[string]Value
}

// NewObject builds an empty ordered object.
func NewObject() *Object {
	return &Object{values: map[string]Value{}}
}

// Get returns the value at key, if present.
func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Set inserts or replaces key's value, appending key to the key order
// only the first time it is set.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Delete removes key, if present.
func (o *Object) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the object's keys in insertion order.
func (o *Object) Keys() []string {
	return o.keys
}

// Len reports the number of keys in the object.
func (o *Object) Len() int {
	return len(o.keys)
}

// Array is an ordered list of response values.
type Array struct {
	Items []Value
}

// NewArray builds an Array over the given items.
func NewArray(items ...Value) *Array {
	return &Array{Items: items}
}

// Clone deep-copies v so a shared subtree (e.g. a representation
// scattered back to several response positions) can be merged into
// independently without aliasing.
func Clone(v Value) Value {
	switch t := v.(type) {
	case *Object:
		clone := NewObject()
		for _, k := range t.keys {
			clone.Set(k, Clone(t.values[k]))
		}
		return clone
	case *Array:
		items := make([]Value, len(t.Items))
		for i, item := range t.Items {
			items[i] = Clone(item)
		}
		return &Array{Items: items}
	default:
		return v
	}
}

// Merge deep-merges src into dst in place and returns the result:
// objects merge key by key (src wins on scalar/array conflicts, object
// values merge recursively), arrays replace element-wise up to the
// shorter length and append any remainder from src, and a nil dst
// simply becomes src. This is the behavior a Fetch's response data and
// a Flatten's scattered entity both need when landing into the shared
// response tree.
func Merge(dst, src Value) Value {
	if src == nil {
		return dst
	}
	if dst == nil {
		return src
	}
	dstObj, dstIsObj := dst.(*Object)
	srcObj, srcIsObj := src.(*Object)
	if dstIsObj && srcIsObj {
		for _, k := range srcObj.keys {
			sv := srcObj.values[k]
			if ev, ok := dstObj.Get(k); ok {
				dstObj.Set(k, Merge(ev, sv))
			} else {
				dstObj.Set(k, sv)
			}
		}
		return dstObj
	}
	dstArr, dstIsArr := dst.(*Array)
	srcArr, srcIsArr := src.(*Array)
	if dstIsArr && srcIsArr {
		for i, sv := range srcArr.Items {
			if i < len(dstArr.Items) {
				dstArr.Items[i] = Merge(dstArr.Items[i], sv)
			} else {
				dstArr.Items = append(dstArr.Items, sv)
			}
		}
		return dstArr
	}
	return src
}

// Typename returns the __typename string stored on an object value, if
// any; used by Flatten's TypenameEquals path-segment filter.
func Typename(v Value) (string, bool) {
	obj, ok := v.(*Object)
	if !ok {
		return "", false
	}
	tv, ok := obj.Get("__typename")
	if !ok {
		return "", false
	}
	s, ok := tv.(string)
	return s, ok
}
