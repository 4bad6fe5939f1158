package execute

import (
	"context"
	"strings"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/execctx"
	"github.com/latticeflow/fedrouter/graphqlerr"
	"github.com/latticeflow/fedrouter/planquery"
	"github.com/latticeflow/fedrouter/respval"
)

// position names one response-tree slot reached while walking a
// Flatten's path: the value currently there (possibly nil), the
// response path leading to it (for error rebinding), and a setter that
// deep-merges a resolved entity back into that exact slot.
type position struct {
	value respval.Value
	path  []interface{}
	set   func(respval.Value)
}

// walkPositions performs the DFS-over-response-tree-by-path walk
// federation/executor.go's search closure does, generalized to typed
// path segments: SegmentField narrows to one child per position,
// SegmentIndex fans one position out into one per array element (Go's
// equivalent of a "@" wildcard segment), and SegmentTypenameEquals
// filters the current set down to matching concrete types.
func walkPositions(ectx *execctx.Context, path planquery.FlattenPath) []position {
	cur := []position{{
		value: ectx.Root(),
		path:  nil,
		set:   func(v respval.Value) { ectx.MergeAtRoot(v) },
	}}

	for _, seg := range path {
		var next []position
		switch seg.Kind {
		case planquery.SegmentField:
			name := seg.FieldName
			for _, p := range cur {
				obj, ok := p.value.(*respval.Object)
				if !ok {
					continue
				}
				obj := obj
				child, _ := obj.Get(name)
				next = append(next, position{
					value: child,
					path:  appendPath(p.path, name),
					set: func(v respval.Value) {
						existing, _ := obj.Get(name)
						obj.Set(name, respval.Merge(existing, v))
					},
				})
			}
		case planquery.SegmentIndex:
			for _, p := range cur {
				arr, ok := p.value.(*respval.Array)
				if !ok {
					continue
				}
				arr := arr
				for i, item := range arr.Items {
					if item == nil {
						continue
					}
					i := i
					next = append(next, position{
						value: item,
						path:  appendPath(p.path, i),
						set: func(v respval.Value) {
							arr.Items[i] = respval.Merge(arr.Items[i], v)
						},
					})
				}
			}
		case planquery.SegmentTypenameEquals:
			for _, p := range cur {
				if tn, ok := respval.Typename(p.value); ok && containsString(seg.Typenames, tn) {
					next = append(next, p)
				}
			}
		}
		cur = next
	}
	return cur
}

func appendPath(path []interface{}, seg interface{}) []interface{} {
	next := make([]interface{}, len(path)+1)
	copy(next, path)
	next[len(path)] = seg
	return next
}

// occurrence pairs a response-tree position with the index of the
// (deduplicated) representation it was projected into, so the scatter
// and error-rebinding passes can map an `_entities[i]` result back to
// every original position that shared representation i.
type occurrence struct {
	pos     position
	hashIdx int
}

// runFlatten projects entity representations at every position n.Path
// reaches, deduplicates them by content hash, issues a single entity
// fetch for the unique set, and scatters the results back to every
// original position that shared a representation -- spec.md §4.4 step 4
// and §8's "Flatten dedup correctness" property.
func (e *Executor) runFlatten(ctx context.Context, ectx *execctx.Context, n *planquery.FlattenNode, variables map[string]interface{}, rootKind ast.OperationKind) error {
	inner := n.Inner.Fetch
	if inner == nil {
		return nil
	}

	positions := walkPositions(ectx, n.Path)

	hashToIdx := map[string]int{}
	var reprs []interface{}
	var occurrences []occurrence

	for _, p := range positions {
		obj, ok := p.value.(*respval.Object)
		if !ok {
			continue
		}
		projected, ok := projectRequires(obj, inner.Requires)
		if !ok {
			continue
		}
		applyInputRewrites(projected, inner.InputRewrites)
		key := canonicalKey(projected)
		idx, seen := hashToIdx[key]
		if !seen {
			idx = len(reprs)
			hashToIdx[key] = idx
			reprs = append(reprs, toJSONValue(projected))
		}
		occurrences = append(occurrences, occurrence{pos: p, hashIdx: idx})
	}
	if len(reprs) == 0 {
		return nil
	}

	data, rawErrs, fatal := e.doFetch(ctx, ectx, inner, variables, reprs, false)
	if fatal != nil {
		ectx.AddError(fatal)
		return nil
	}

	for _, re := range rawErrs {
		for _, path := range rebindEntitiesPaths(re.Path, occurrences) {
			ectx.AddError(graphqlerr.SubgraphRequestFailure(inner.Subgraph, path, re.Message))
		}
	}

	dataObj, _ := data.(*respval.Object)
	if dataObj == nil {
		return nil
	}
	entitiesVal, _ := dataObj.Get("_entities")
	entitiesArr, _ := entitiesVal.(*respval.Array)
	if entitiesArr == nil {
		return nil
	}

	for _, occ := range occurrences {
		if occ.hashIdx >= len(entitiesArr.Items) {
			continue
		}
		entity := entitiesArr.Items[occ.hashIdx]
		if entity == nil {
			continue
		}
		entity = applyOutputRewrites(respval.Clone(entity), inner.OutputRewrites)
		occ.pos.set(entity)
	}
	return nil
}

// projectRequires builds the representation object a subgraph's
// `_entities` resolver expects: __typename plus every key field named
// in sel, recursing into nested selections for composite keys. ok is
// false when a required field is absent from src, meaning this position
// cannot be resolved as an entity right now.
func projectRequires(src *respval.Object, sel ast.SelectionSet) (*respval.Object, bool) {
	out := respval.NewObject()
	for _, f := range sel.Fields() {
		v, ok := src.Get(f.Name)
		if !ok {
			return nil, false
		}
		if len(f.Selections) > 0 {
			childObj, ok := v.(*respval.Object)
			if !ok {
				return nil, false
			}
			nested, ok := projectRequires(childObj, f.Selections)
			if !ok {
				return nil, false
			}
			out.Set(f.Name, nested)
			continue
		}
		out.Set(f.Name, v)
	}
	return out, true
}

// canonicalKey deterministically stringifies a representation for
// content-hash dedup. projectRequires always walks sel in the same
// field order for every occurrence, so two equal representations always
// produce identical output here.
func canonicalKey(v respval.Value) string {
	var sb strings.Builder
	writeCanonical(&sb, v)
	return sb.String()
}

func writeCanonical(sb *strings.Builder, v respval.Value) {
	switch t := v.(type) {
	case *respval.Object:
		sb.WriteByte('{')
		for _, k := range t.Keys() {
			val, _ := t.Get(k)
			sb.WriteString(k)
			sb.WriteByte(':')
			writeCanonical(sb, val)
			sb.WriteByte(',')
		}
		sb.WriteByte('}')
	case *respval.Array:
		sb.WriteByte('[')
		for _, item := range t.Items {
			writeCanonical(sb, item)
			sb.WriteByte(',')
		}
		sb.WriteByte(']')
	case string:
		sb.WriteByte('"')
		sb.WriteString(t)
		sb.WriteByte('"')
	case nil:
		sb.WriteString("null")
	default:
		sb.WriteString(jsonScalarString(t))
	}
}

func rebindEntitiesPaths(path []interface{}, occurrences []occurrence) [][]interface{} {
	if len(path) < 2 {
		return nil
	}
	name, ok := path[0].(string)
	if !ok || name != "_entities" {
		return nil
	}
	idxF, ok := path[1].(float64)
	if !ok {
		return nil
	}
	idx := int(idxF)
	rest := path[2:]

	var out [][]interface{}
	for _, occ := range occurrences {
		if occ.hashIdx != idx {
			continue
		}
		full := make([]interface{}, 0, len(occ.pos.path)+len(rest))
		full = append(full, occ.pos.path...)
		full = append(full, rest...)
		out = append(out, full)
	}
	return out
}
