package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/latticeflow/fedrouter/supergraph"
)

// schemaFile is the on-disk shape of a composed supergraph: one entry
// per subgraph, each listing the types it contributes. Building
// supergraph.SubgraphSchema from real subgraph SDL/introspection is the
// external composition-tool concern supergraph.Compose's own doc comment
// names; routerd instead loads an already-composed schema a build step
// produced, the same way n9te9-go-graphql-federation-gateway's
// loadGatewaySetting loads its already-rendered gateway.yaml rather than
// composing it at startup.
type schemaFile struct {
	Subgraphs []subgraphFile `yaml:"subgraphs"`
}

type subgraphFile struct {
	Name             string     `yaml:"name"`
	QueryType        string     `yaml:"query_type"`
	MutationType     string     `yaml:"mutation_type"`
	SubscriptionType string     `yaml:"subscription_type"`
	Types            []typeFile `yaml:"types"`
}

type typeFile struct {
	Name            string              `yaml:"name"`
	Kind            string              `yaml:"kind"`
	Fields          []fieldFile         `yaml:"fields"`
	Interfaces      []string            `yaml:"interfaces"`
	PossibleTypes   []string            `yaml:"possible_types"`
	EnumValues      []string            `yaml:"enum_values"`
	Keys            map[string][]string `yaml:"keys"`
	Authenticated   bool                `yaml:"authenticated"`
	RequiresScopes  [][]string          `yaml:"requires_scopes"`
}

type fieldFile struct {
	Name            string     `yaml:"name"`
	Type            string     `yaml:"type"`
	Subgraphs       []string   `yaml:"subgraphs"`
	Requires        []string   `yaml:"requires"`
	Provides        []string   `yaml:"provides"`
	Override        string     `yaml:"override"`
	Authenticated   bool       `yaml:"authenticated"`
	RequiresScopes  [][]string `yaml:"requires_scopes"`
}

// loadSchema reads path and composes every listed subgraph into one
// supergraph.State via supergraph.Compose.
func loadSchema(path string) (*supergraph.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("routerd: opening schema file: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("routerd: reading schema file: %w", err)
	}

	var doc schemaFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("routerd: parsing schema file: %w", err)
	}

	schemas := make([]supergraph.SubgraphSchema, 0, len(doc.Subgraphs))
	for _, sg := range doc.Subgraphs {
		types := make(map[string]*supergraph.Type, len(sg.Types))
		for _, tf := range sg.Types {
			t, err := convertType(tf)
			if err != nil {
				return nil, fmt.Errorf("routerd: subgraph %q: %w", sg.Name, err)
			}
			types[tf.Name] = t
		}
		schemas = append(schemas, supergraph.SubgraphSchema{
			Name:                 sg.Name,
			QueryTypeName:        sg.QueryType,
			MutationTypeName:     sg.MutationType,
			SubscriptionTypeName: sg.SubscriptionType,
			Types:                types,
		})
	}

	return supergraph.Compose(schemas)
}

func convertType(tf typeFile) (*supergraph.Type, error) {
	kind, err := parseKind(tf.Kind)
	if err != nil {
		return nil, err
	}

	t := &supergraph.Type{
		Name:            tf.Name,
		Kind:            kind,
		Interfaces:      tf.Interfaces,
		PossibleTypes:   tf.PossibleTypes,
		EnumValues:      tf.EnumValues,
		Auth:            supergraph.AuthDirectives{Authenticated: tf.Authenticated, RequiresScopes: tf.RequiresScopes},
	}

	if len(tf.Fields) > 0 {
		t.Fields = make(map[string]*supergraph.Field, len(tf.Fields))
		for _, ff := range tf.Fields {
			ref, err := parseTypeRef(ff.Type)
			if err != nil {
				return nil, fmt.Errorf("type %q field %q: %w", tf.Name, ff.Name, err)
			}
			t.Fields[ff.Name] = &supergraph.Field{
				Name:      ff.Name,
				Type:      ref,
				Subgraphs: ff.Subgraphs,
				Requires:  flatKeySelections(ff.Requires),
				Provides:  flatKeySelections(ff.Provides),
				Override:  ff.Override,
				Auth:      supergraph.AuthDirectives{Authenticated: ff.Authenticated, RequiresScopes: ff.RequiresScopes},
			}
		}
	}

	if len(tf.Keys) > 0 {
		t.Keys = make(map[string][]supergraph.KeySelection, len(tf.Keys))
		for sg, fields := range tf.Keys {
			t.Keys[sg] = flatKeySelections(fields)
		}
	}

	return t, nil
}

func flatKeySelections(fields []string) []supergraph.KeySelection {
	if len(fields) == 0 {
		return nil
	}
	out := make([]supergraph.KeySelection, len(fields))
	for i, f := range fields {
		out[i] = supergraph.KeySelection{Name: f}
	}
	return out
}

func parseKind(s string) (supergraph.Kind, error) {
	switch s {
	case "scalar":
		return supergraph.KindScalar, nil
	case "object":
		return supergraph.KindObject, nil
	case "interface":
		return supergraph.KindInterface, nil
	case "union":
		return supergraph.KindUnion, nil
	case "enum":
		return supergraph.KindEnum, nil
	case "input_object":
		return supergraph.KindInputObject, nil
	default:
		return 0, fmt.Errorf("unknown type kind %q", s)
	}
}

// parseTypeRef parses a minimal SDL type reference ("String", "[User]!",
// "[[ID!]!]") into a supergraph.TypeRef. Only List/NonNull wrapping and a
// named leaf are supported, matching the grammar TypeRef itself models.
func parseTypeRef(s string) (supergraph.TypeRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return supergraph.TypeRef{}, fmt.Errorf("empty type reference")
	}
	nonNull := strings.HasSuffix(s, "!")
	if nonNull {
		s = s[:len(s)-1]
	}
	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			return supergraph.TypeRef{}, fmt.Errorf("malformed list type %q", s)
		}
		inner, err := parseTypeRef(s[1 : len(s)-1])
		if err != nil {
			return supergraph.TypeRef{}, err
		}
		return supergraph.TypeRef{ListOf: &inner, NonNull: nonNull}, nil
	}
	return supergraph.TypeRef{NamedType: s, NonNull: nonNull}, nil
}
