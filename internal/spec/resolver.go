package spec

import (
	"net/url"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resolver inlines $ref pointers of a single document into SchemaNode trees.
//
// Cycle handling is driven by the visiting set passed down the recursion: it
// holds exactly the pointers on the current expansion path. Reaching a pointer
// that is already on the path yields a KindCycle marker instead of recursing.
// Pointers leave the set once their subtree is done, so a schema shared by two
// sibling branches (a diamond) is expanded independently in each.
type Resolver struct {
	doc *Document
}

// NewResolver returns a resolver for pointers inside doc.
func NewResolver(doc *Document) *Resolver {
	return &Resolver{doc: doc}
}

// ResolvePointer resolves the schema addressed by ptr with an empty path.
func (r *Resolver) ResolvePointer(ptr string) (*SchemaNode, error) {
	return r.resolveRef(ptr, make(map[string]bool))
}

// Resolve expands node, which may be a {$ref} or an inline schema with nested
// references anywhere below it. visiting must not be nil.
func (r *Resolver) Resolve(node *yaml.Node, visiting map[string]bool) (*SchemaNode, error) {
	node = deref(node)
	if node == nil || node.Kind != yaml.MappingNode {
		// Absent schemas and boolean schemas accept anything.
		return &SchemaNode{Kind: KindPrimitive}, nil
	}
	if ref := scalar(field(node, "$ref")); ref != "" {
		out, err := r.resolveRef(ref, visiting)
		if err != nil {
			return nil, err
		}
		if desc := text(field(node, "description")); desc != "" && !out.IsCycle() {
			out.Description = desc
		}
		return out, nil
	}
	return r.resolveInline(node, visiting)
}

func (r *Resolver) resolveRef(ptr string, visiting map[string]bool) (*SchemaNode, error) {
	if visiting[ptr] {
		return &SchemaNode{Kind: KindCycle, Ref: ptr}, nil
	}
	target, err := r.Lookup(ptr)
	if err != nil {
		return nil, err
	}

	visiting[ptr] = true
	defer delete(visiting, ptr)

	out, err := r.Resolve(target, visiting)
	if err != nil {
		return nil, err
	}
	if out.Origin == "" && !out.IsCycle() {
		out.Origin = ptr
	}
	return out, nil
}

// Lookup walks an intra-document pointer ("#/components/schemas/Pet") and
// returns the raw node it addresses.
func (r *Resolver) Lookup(ptr string) (*yaml.Node, error) {
	if !strings.HasPrefix(ptr, "#") {
		return nil, newError(UnsupportedReference, ptr, "only intra-document references are supported")
	}
	path := strings.TrimPrefix(ptr, "#")
	current := r.doc.root
	if path == "" || path == "/" {
		return current, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, newError(ReferenceNotFound, ptr, "malformed pointer")
	}

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, part := range parts {
		part = unescapePointer(part)
		current = deref(current)
		switch {
		case current == nil:
			return nil, newError(ReferenceNotFound, ptr, "missing key %q", part)
		case current.Kind == yaml.MappingNode:
			next := field(current, part)
			if next == nil {
				return nil, newError(ReferenceNotFound, ptr, "missing key %q", part)
			}
			current = next
		case current.Kind == yaml.SequenceNode:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(current.Content) {
				return nil, newError(ReferenceNotFound, ptr, "invalid array index %q", part)
			}
			current = current.Content[idx]
		default:
			return nil, newError(ReferenceNotFound, ptr, "cannot traverse into scalar at #/%s", strings.Join(parts[:i], "/"))
		}
	}
	return deref(current), nil
}

func (r *Resolver) resolveInline(node *yaml.Node, visiting map[string]bool) (*SchemaNode, error) {
	s := &SchemaNode{
		Format:      text(field(node, "format")),
		Title:       text(field(node, "title")),
		Description: text(field(node, "description")),
		Nullable:    boolean(field(node, "nullable")),
		Required:    dedupe(stringList(field(node, "required"))),
	}

	// 3.1 allows a list of types; "null" in it is folded into Nullable.
	if t := field(node, "type"); t != nil {
		if t.Kind == yaml.SequenceNode {
			for _, name := range stringList(t) {
				if name == "null" {
					s.Nullable = true
				} else if s.Type == "" {
					s.Type = name
				}
			}
		} else {
			s.Type = text(t)
		}
	}
	if e := field(node, "enum"); e != nil {
		for _, c := range items(e) {
			s.Enum = append(s.Enum, value(c))
		}
	}
	if d := field(node, "default"); d != nil {
		s.Default = value(d)
	}

	if props := field(node, "properties"); props != nil {
		s.Properties = NewProperties()
		err := pairs(props, func(name string, v *yaml.Node) error {
			child, err := r.Resolve(v, visiting)
			if err != nil {
				return err
			}
			s.Properties.Set(name, child)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if it := field(node, "items"); it != nil {
		child, err := r.Resolve(it, visiting)
		if err != nil {
			return nil, err
		}
		s.Items = child
	}
	if ap := field(node, "additionalProperties"); ap != nil && ap.Kind == yaml.MappingNode {
		child, err := r.Resolve(ap, visiting)
		if err != nil {
			return nil, err
		}
		s.AdditionalProperties = child
	}

	var err error
	if s.AllOf, err = r.resolveList(field(node, "allOf"), visiting); err != nil {
		return nil, err
	}
	if s.OneOf, err = r.resolveList(field(node, "oneOf"), visiting); err != nil {
		return nil, err
	}
	if s.AnyOf, err = r.resolveList(field(node, "anyOf"), visiting); err != nil {
		return nil, err
	}

	s.Kind = kindOf(s)
	return s, nil
}

func (r *Resolver) resolveList(n *yaml.Node, visiting map[string]bool) ([]*SchemaNode, error) {
	members := items(n)
	if len(members) == 0 {
		return nil, nil
	}
	out := make([]*SchemaNode, 0, len(members))
	for _, m := range members {
		child, err := r.Resolve(m, visiting)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

func kindOf(s *SchemaNode) SchemaKind {
	switch {
	case len(s.AllOf) > 0 || len(s.OneOf) > 0 || len(s.AnyOf) > 0:
		return KindComposite
	case s.Type == "array" || s.Items != nil:
		return KindArray
	case s.Type == "object" || (s.Properties != nil && s.Properties.Len() > 0) || s.AdditionalProperties != nil:
		return KindObject
	default:
		return KindPrimitive
	}
}

// refName returns the last pointer segment, e.g. "Pet" for "#/components/schemas/Pet".
func refName(ptr string) string {
	if i := strings.LastIndex(ptr, "/"); i >= 0 {
		return unescapePointer(ptr[i+1:])
	}
	return ""
}

func unescapePointer(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		s = u
	}
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
