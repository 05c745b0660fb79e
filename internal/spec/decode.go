package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a decoded API description. The tree keeps the source key order
// for both JSON and YAML input so endpoints and properties come out in the
// order their authors wrote them.
type Document struct {
	root   *yaml.Node // mapping node
	Format string     // "json" or "yaml"
}

// Root returns the top-level mapping node.
func (d *Document) Root() *yaml.Node { return d.root }

// Decode parses raw bytes as JSON first, then as YAML. Content that is neither,
// or whose top level is not a mapping, is rejected with ErrUnsupportedFormat.
func Decode(raw []byte) (*Document, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, newError(UnsupportedFormat, "", "document is empty")
	}

	var (
		root   *yaml.Node
		format = "json"
	)
	if json.Valid(raw) {
		n, err := decodeJSON(raw)
		if err != nil {
			return nil, &Error{Kind: UnsupportedFormat, Message: "decode JSON document", Cause: err}
		}
		root = n
	} else {
		format = "yaml"
		var doc yaml.Node
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, &Error{Kind: UnsupportedFormat, Message: "content is neither valid JSON nor valid YAML", Cause: err}
		}
		root = &doc
		if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
			root = root.Content[0]
		}
		root = deref(root)
	}
	if root == nil || root.Kind != yaml.MappingNode {
		return nil, newError(UnsupportedFormat, "", "document root must be an object")
	}
	return &Document{root: root, Format: format}, nil
}

// decodeJSON builds a yaml.Node tree from JSON tokens so object key order
// survives; encoding/json maps would lose it.
func decodeJSON(raw []byte) (*yaml.Node, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return jsonNode(dec)
}

func jsonNode(dec *json.Decoder) (*yaml.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", kt)
				}
				v, err := jsonNode(dec)
				if err != nil {
					return nil, err
				}
				n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
			}
			_, err := dec.Token() // '}'
			return n, err
		case '[':
			n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for dec.More() {
				v, err := jsonNode(dec)
				if err != nil {
					return nil, err
				}
				n.Content = append(n.Content, v)
			}
			_, err := dec.Token() // ']'
			return n, err
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: t, Style: yaml.DoubleQuotedStyle}, nil
	case json.Number:
		tag := "!!int"
		if _, err := t.Int64(); err != nil {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: t.String()}, nil
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(t)}, nil
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// checkVersion enforces an "openapi: 3.x" declaration.
func (d *Document) checkVersion() (string, error) {
	v := scalar(field(d.root, "openapi"))
	if v == "" {
		if sw := scalar(field(d.root, "swagger")); sw != "" {
			return "", newError(UnsupportedVersion, "", "swagger %s documents are not supported (expected openapi 3.x)", sw)
		}
		return "", newError(UnsupportedVersion, "", "missing 'openapi' version field (expected openapi 3.x)")
	}
	major := strings.SplitN(strings.TrimSpace(v), ".", 2)[0]
	if n, err := strconv.Atoi(major); err != nil || n != 3 {
		return "", newError(UnsupportedVersion, "", "openapi version %q is not supported (expected 3.x)", v)
	}
	return v, nil
}

// deref follows YAML aliases to their anchored node.
func deref(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

// field returns the value stored under key in a mapping node, or nil.
func field(n *yaml.Node, key string) *yaml.Node {
	n = deref(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return deref(n.Content[i+1])
		}
	}
	return nil
}

// pairs calls fn for every key/value of a mapping node in document order.
func pairs(n *yaml.Node, fn func(key string, value *yaml.Node) error) error {
	n = deref(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if err := fn(n.Content[i].Value, deref(n.Content[i+1])); err != nil {
			return err
		}
	}
	return nil
}

// items returns the elements of a sequence node.
func items(n *yaml.Node) []*yaml.Node {
	n = deref(n)
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil
	}
	out := make([]*yaml.Node, 0, len(n.Content))
	for _, c := range n.Content {
		out = append(out, deref(c))
	}
	return out
}

func scalar(n *yaml.Node) string {
	n = deref(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

func text(n *yaml.Node) string { return strings.TrimSpace(scalar(n)) }

func boolean(n *yaml.Node) bool {
	b, err := strconv.ParseBool(scalar(n))
	return err == nil && b
}

func stringList(n *yaml.Node) []string {
	var out []string
	for _, c := range items(n) {
		if s := scalar(c); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// value decodes any node into plain Go values (map[string]any, []any, scalars).
func value(n *yaml.Node) any {
	n = deref(n)
	if n == nil {
		return nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return n.Value
	}
	return v
}
