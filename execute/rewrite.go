package execute

import (
	"github.com/latticeflow/fedrouter/planquery"
	"github.com/latticeflow/fedrouter/respval"
)

// applyOutputRewrites runs the declarative path++guard++action program
// attached to a Fetch against its response, before merge, per spec.md
// §9 ("Output rewrites are modeled as a declarative program executed
// after merge" -- applied here, once, right after deserialization and
// before the single merge into the shared response tree, which has the
// same observable effect as rewriting after merge since a Fetch's
// region of the tree is exclusively its own until that merge happens).
func applyOutputRewrites(data respval.Value, rewrites []planquery.OutputRewrite) respval.Value {
	for _, rw := range rewrites {
		applyOneRewrite(data, rw)
	}
	return data
}

func applyOneRewrite(data respval.Value, rw planquery.OutputRewrite) {
	for _, target := range locate(data, rw.Path) {
		obj, ok := target.(*respval.Object)
		if !ok {
			continue
		}
		if len(rw.Guard) > 0 {
			tn, ok := respval.Typename(obj)
			if !ok || !containsString(rw.Guard, tn) {
				continue
			}
		}
		switch rw.Kind {
		case planquery.RewriteRenameKey:
			if v, ok := obj.Get(rw.FromKey); ok {
				obj.Delete(rw.FromKey)
				obj.Set(rw.ToKey, v)
			}
		}
	}
}

// locate walks path from root, expanding SegmentIndex into every array
// element, and returns every value reached. Nil intermediate values are
// dropped silently (a rewrite targets a position that a nullable field
// resolved to null).
func locate(root respval.Value, path planquery.FlattenPath) []respval.Value {
	cur := []respval.Value{root}
	for _, seg := range path {
		var next []respval.Value
		switch seg.Kind {
		case planquery.SegmentField:
			for _, v := range cur {
				obj, ok := v.(*respval.Object)
				if !ok {
					continue
				}
				if fv, ok := obj.Get(seg.FieldName); ok && fv != nil {
					next = append(next, fv)
				}
			}
		case planquery.SegmentIndex:
			for _, v := range cur {
				arr, ok := v.(*respval.Array)
				if !ok {
					continue
				}
				for _, item := range arr.Items {
					if item != nil {
						next = append(next, item)
					}
				}
			}
		case planquery.SegmentTypenameEquals:
			for _, v := range cur {
				tn, ok := respval.Typename(v)
				if ok && containsString(seg.Typenames, tn) {
					next = append(next, v)
				}
			}
		}
		cur = next
	}
	return cur
}

// applyInputRewrites reshapes a projected entity representation before
// it is sent to a subgraph, e.g. dropping fields the target subgraph's
// key doesn't use (spec.md §3's InputRewrite contract).
func applyInputRewrites(data respval.Value, rewrites []planquery.InputRewrite) {
	for _, rw := range rewrites {
		for _, target := range locate(data, rw.Path) {
			obj, ok := target.(*respval.Object)
			if !ok {
				continue
			}
			for _, k := range rw.Drop {
				obj.Delete(k)
			}
		}
	}
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
