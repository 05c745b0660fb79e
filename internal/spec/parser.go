package spec

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/mark3labs/specforge/internal/logging"
)

// DefaultBaseURL is used when the document declares no servers.
const DefaultBaseURL = "https://api.example.com"

// ParseOption configures how the APIModel is built from a document.
type ParseOption func(*parseConfig)

type parseConfig struct {
	includeTags map[string]struct{}
	excludeTags map[string]struct{}
	methods     map[HttpMethod]struct{}
	pathRes     []*regexp.Regexp
	validate    bool
	logger      logging.Logger
}

// WithIncludeTags keeps only endpoints that have at least one of the given tags.
func WithIncludeTags(tags []string) ParseOption {
	return func(c *parseConfig) {
		for _, t := range tags {
			if t = strings.TrimSpace(t); t == "" {
				continue
			}
			if c.includeTags == nil {
				c.includeTags = make(map[string]struct{}, len(tags))
			}
			c.includeTags[t] = struct{}{}
		}
	}
}

// WithExcludeTags removes endpoints that have any of the given tags.
func WithExcludeTags(tags []string) ParseOption {
	return func(c *parseConfig) {
		for _, t := range tags {
			if t = strings.TrimSpace(t); t == "" {
				continue
			}
			if c.excludeTags == nil {
				c.excludeTags = make(map[string]struct{}, len(tags))
			}
			c.excludeTags[t] = struct{}{}
		}
	}
}

// WithMethods keeps only endpoints using one of the provided HTTP methods.
func WithMethods(methods []HttpMethod) ParseOption {
	return func(c *parseConfig) {
		for _, m := range methods {
			if c.methods == nil {
				c.methods = make(map[HttpMethod]struct{}, len(methods))
			}
			c.methods[HttpMethod(strings.ToLower(string(m)))] = struct{}{}
		}
	}
}

// WithPathPatterns keeps only endpoints whose path matches at least one of the
// provided regular expressions. An invalid pattern matches nothing.
func WithPathPatterns(patterns []string) ParseOption {
	return func(c *parseConfig) {
		for _, p := range patterns {
			if p = strings.TrimSpace(p); p == "" {
				continue
			}
			re, err := regexp.Compile(p)
			if err != nil {
				re = regexp.MustCompile("a^$")
			}
			c.pathRes = append(c.pathRes, re)
		}
	}
}

// WithValidation runs a structural OpenAPI validation pass and records its
// findings as APIModel.Warnings. Findings never fail the parse.
func WithValidation(enabled bool) ParseOption {
	return func(c *parseConfig) { c.validate = enabled }
}

// WithLogger sets the logger used for parse diagnostics.
func WithLogger(l logging.Logger) ParseOption {
	return func(c *parseConfig) { c.logger = l }
}

// Parse decodes raw bytes and builds a fully de-referenced APIModel. Any
// reference problem aborts the whole document.
func Parse(raw []byte, opts ...ParseOption) (*APIModel, error) {
	cfg := &parseConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	log := logging.OrNop(cfg.logger)

	doc, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if _, err := doc.checkVersion(); err != nil {
		return nil, err
	}

	p := &parser{doc: doc, res: NewResolver(doc), cfg: cfg, ids: make(map[string]bool)}
	m, err := p.build()
	if err != nil {
		return nil, err
	}

	if cfg.validate {
		m.Warnings = validateStructure(context.Background(), raw)
		for _, w := range m.Warnings {
			log.Warn("openapi validation", "finding", w)
		}
	}
	log.Debug("parsed document", "title", m.Title, "endpoints", len(m.Endpoints), "schemas", m.Schemas.Len())
	return m, nil
}

type parser struct {
	doc *Document
	res *Resolver
	cfg *parseConfig
	ids map[string]bool
}

func (p *parser) build() (*APIModel, error) {
	root := p.doc.root
	info := field(root, "info")
	m := &APIModel{
		Title:       text(field(info, "title")),
		Version:     text(field(info, "version")),
		Description: text(field(info, "description")),
		BaseURL:     baseURL(field(root, "servers")),
		Schemas:     orderedmap.New[string, *SchemaNode](),
	}

	components := field(root, "components")
	err := pairs(field(components, "schemas"), func(name string, _ *yaml.Node) error {
		s, err := p.res.ResolvePointer("#/components/schemas/" + escapePointer(name))
		if err != nil {
			return err
		}
		m.Schemas.Set(name, s)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.AuthSchemes, err = p.authSchemes(field(components, "securitySchemes")); err != nil {
		return nil, err
	}
	defaultSecurity := securityNames(field(root, "security"))
	p.reserveDeclaredIDs()

	err = pairs(field(root, "paths"), func(path string, item *yaml.Node) error {
		if ref := scalar(field(item, "$ref")); ref != "" {
			target, err := p.res.Lookup(ref)
			if err != nil {
				return err
			}
			item = target
		}
		base, err := p.parameters(field(item, "parameters"), nil)
		if err != nil {
			return err
		}
		for _, method := range methodSlots {
			op := field(item, string(method))
			if op == nil || !p.allowMethodAndPath(method, path) {
				continue
			}
			ep, err := p.endpoint(method, path, op, base, defaultSecurity)
			if err != nil {
				return err
			}
			if !allowByTags(ep.Tags, p.cfg) {
				continue
			}
			m.Endpoints = append(m.Endpoints, *ep)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.Tags = collectSortedTags(m.Endpoints)
	return m, nil
}

func (p *parser) allowMethodAndPath(method HttpMethod, path string) bool {
	if len(p.cfg.methods) > 0 {
		if _, ok := p.cfg.methods[method]; !ok {
			return false
		}
	}
	if len(p.cfg.pathRes) == 0 {
		return true
	}
	for _, re := range p.cfg.pathRes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func (p *parser) endpoint(method HttpMethod, path string, op *yaml.Node, base []ParameterDescriptor, defaultSecurity []string) (*EndpointDescriptor, error) {
	params, err := p.parameters(field(op, "parameters"), base)
	if err != nil {
		return nil, err
	}

	ep := &EndpointDescriptor{
		OperationID: text(field(op, "operationId")),
		Method:      method,
		Path:        path,
		Summary:     text(field(op, "summary")),
		Description: text(field(op, "description")),
		Tags:        stringList(field(op, "tags")),
		Parameters:  params,
		Security:    defaultSecurity,
	}
	if ep.OperationID == "" {
		ep.OperationID = p.uniqueID(SynthesizeOperationID(method, path))
	}
	if sec := field(op, "security"); sec != nil {
		ep.Security = securityNames(sec)
	}

	if rb := field(op, "requestBody"); rb != nil {
		if ep.RequestBody, err = p.requestBody(rb); err != nil {
			return nil, err
		}
	}

	err = pairs(field(op, "responses"), func(status string, r *yaml.Node) error {
		resp, err := p.response(status, r)
		if err != nil {
			return err
		}
		ep.Responses = append(ep.Responses, *resp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// parameters merges declared parameters over base: an entry with the same
// (in, name) replaces the inherited one in place, new ones are appended.
func (p *parser) parameters(list *yaml.Node, base []ParameterDescriptor) ([]ParameterDescriptor, error) {
	out := append([]ParameterDescriptor(nil), base...)
	for _, n := range items(list) {
		n, err := p.follow(n)
		if err != nil {
			return nil, err
		}
		pm := ParameterDescriptor{
			Name:        text(field(n, "name")),
			In:          text(field(n, "in")),
			Required:    boolean(field(n, "required")),
			Description: text(field(n, "description")),
		}
		if pm.In == "path" {
			pm.Required = true
		}

		schemaNode := field(n, "schema")
		if schemaNode == nil {
			if _, media := selectMedia(field(n, "content")); media != nil {
				schemaNode = field(media, "schema")
			}
		}
		if pm.Schema, err = p.res.Resolve(schemaNode, make(map[string]bool)); err != nil {
			return nil, err
		}
		pm.TypeLabel = TypeLabel(pm.Schema)

		replaced := false
		for i := range out {
			if out[i].In == pm.In && out[i].Name == pm.Name {
				out[i] = pm
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, pm)
		}
	}
	return out, nil
}

func (p *parser) requestBody(n *yaml.Node) (*RequestBodyDescriptor, error) {
	n, err := p.follow(n)
	if err != nil {
		return nil, err
	}
	rb := &RequestBodyDescriptor{
		Required:    boolean(field(n, "required")),
		Description: text(field(n, "description")),
	}
	ct, media := selectMedia(field(n, "content"))
	rb.ContentType = ct
	if media != nil {
		sn := field(media, "schema")
		if rb.Schema, err = p.res.Resolve(sn, make(map[string]bool)); err != nil {
			return nil, err
		}
		rb.SchemaName = refName(scalar(field(sn, "$ref")))
	}
	return rb, nil
}

func (p *parser) response(status string, n *yaml.Node) (*ResponseDescriptor, error) {
	n, err := p.follow(n)
	if err != nil {
		return nil, err
	}
	r := &ResponseDescriptor{Status: status, Description: text(field(n, "description"))}
	ct, media := selectMedia(field(n, "content"))
	r.ContentType = ct
	if media != nil {
		sn := field(media, "schema")
		if r.Schema, err = p.res.Resolve(sn, make(map[string]bool)); err != nil {
			return nil, err
		}
		r.SchemaName = refName(scalar(field(sn, "$ref")))
	}
	return r, nil
}

func (p *parser) authSchemes(n *yaml.Node) ([]AuthSchemeDescriptor, error) {
	var out []AuthSchemeDescriptor
	err := pairs(n, func(name string, v *yaml.Node) error {
		v, err := p.follow(v)
		if err != nil {
			return err
		}
		a := AuthSchemeDescriptor{
			Name:        name,
			Kind:        AuthKind(text(field(v, "type"))),
			Description: text(field(v, "description")),
		}
		switch a.Kind {
		case AuthAPIKey:
			a.In = text(field(v, "in"))
			a.ParamName = text(field(v, "name"))
		case AuthHTTP:
			a.Scheme = strings.ToLower(text(field(v, "scheme")))
			a.BearerFormat = text(field(v, "bearerFormat"))
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// follow resolves a component-level $ref (parameter, body, response, scheme).
func (p *parser) follow(n *yaml.Node) (*yaml.Node, error) {
	seen := make(map[string]bool)
	for {
		ref := scalar(field(n, "$ref"))
		if ref == "" {
			return n, nil
		}
		if seen[ref] {
			return nil, newError(ReferenceNotFound, ref, "reference chain loops back on itself")
		}
		seen[ref] = true
		target, err := p.res.Lookup(ref)
		if err != nil {
			return nil, err
		}
		n = target
	}
}

// reserveDeclaredIDs records every operationId the document declares, filtered
// or not, so no synthesized id can take one of them.
func (p *parser) reserveDeclaredIDs() {
	_ = pairs(field(p.doc.root, "paths"), func(_ string, item *yaml.Node) error {
		if ref := scalar(field(item, "$ref")); ref != "" {
			target, err := p.res.Lookup(ref)
			if err != nil {
				return nil
			}
			item = target
		}
		for _, method := range methodSlots {
			if id := text(field(field(item, string(method)), "operationId")); id != "" {
				p.ids[id] = true
			}
		}
		return nil
	})
}

// uniqueID disambiguates a synthesized id against every id already declared or
// assigned in the document by appending the smallest free counter from 2.
func (p *parser) uniqueID(id string) string {
	candidate := id
	for n := 2; p.ids[candidate]; n++ {
		candidate = fmt.Sprintf("%s%d", id, n)
	}
	p.ids[candidate] = true
	return candidate
}

// SynthesizeOperationID derives an id as {method}{PathSegments}: every literal
// path segment capitalized and concatenated, parameters skipped, "Resource"
// when nothing literal is left. GET /pets/{id} gives "getPets".
func SynthesizeOperationID(method HttpMethod, path string) string {
	caser := cases.Title(language.Und, cases.NoLower)
	var b strings.Builder
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || strings.HasPrefix(seg, "{") {
			continue
		}
		for _, word := range strings.FieldsFunc(seg, isSeparator) {
			b.WriteString(caser.String(word))
		}
	}
	name := b.String()
	if name == "" {
		name = "Resource"
	}
	return strings.ToLower(string(method)) + name
}

func isSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
}

// selectMedia prefers application/json, then any other JSON media type, then
// the first declared entry.
func selectMedia(content *yaml.Node) (string, *yaml.Node) {
	var (
		firstKey  string
		firstNode *yaml.Node
		jsonKey   string
		jsonNode  *yaml.Node
	)
	_ = pairs(content, func(key string, v *yaml.Node) error {
		if firstNode == nil {
			firstKey, firstNode = key, v
		}
		mt := strings.ToLower(strings.TrimSpace(strings.SplitN(key, ";", 2)[0]))
		switch {
		case mt == "application/json":
			if jsonKey != "application/json" {
				jsonKey, jsonNode = key, v
			}
		case jsonNode == nil && (strings.HasSuffix(mt, "+json") || strings.HasSuffix(mt, "/json")):
			jsonKey, jsonNode = key, v
		}
		return nil
	})
	if jsonNode != nil {
		return jsonKey, jsonNode
	}
	return firstKey, firstNode
}

func baseURL(servers *yaml.Node) string {
	list := items(servers)
	if len(list) == 0 {
		return DefaultBaseURL
	}
	u := text(field(list[0], "url"))
	if u == "" {
		return DefaultBaseURL
	}
	_ = pairs(field(list[0], "variables"), func(name string, v *yaml.Node) error {
		if def := text(field(v, "default")); def != "" {
			u = strings.ReplaceAll(u, "{"+name+"}", def)
		}
		return nil
	})
	return u
}

// securityNames flattens a list of security requirement objects into the
// ordered, de-duplicated scheme names they mention.
func securityNames(n *yaml.Node) []string {
	var names []string
	for _, req := range items(n) {
		_ = pairs(req, func(name string, _ *yaml.Node) error {
			names = append(names, name)
			return nil
		})
	}
	return dedupe(names)
}

func allowByTags(tags []string, cfg *parseConfig) bool {
	if len(cfg.includeTags) > 0 {
		ok := false
		for _, t := range tags {
			if _, yes := cfg.includeTags[t]; yes {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, t := range tags {
		if _, blocked := cfg.excludeTags[t]; blocked {
			return false
		}
	}
	return true
}

func collectSortedTags(endpoints []EndpointDescriptor) []string {
	set := make(map[string]struct{})
	for _, ep := range endpoints {
		for _, t := range ep.Tags {
			if t = strings.TrimSpace(t); t != "" {
				set[t] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func escapePointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}
