// internal/grounding/a11y/describe.go
package a11y

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/api/schemas"
	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

// DefaultHrefMaxLength bounds the href surfaced for unnamed links.
const DefaultHrefMaxLength = 100

var keptAttrTokens = []string{"value", "type", "href", "title", "alt", "placeholder", "disabled"}

var privateAriaPrefixes = []string{"label", "labelledby", "description", "describedby"}

// KeepAttribute reports whether an attribute name belongs in an element
// record. Matching is by substring: any name containing one of the kept
// tokens qualifies, as does any "aria-" occurrence not followed by a
// labelling or describing suffix.
func KeepAttribute(name string) bool {
	for _, tok := range keptAttrTokens {
		if strings.Contains(name, tok) {
			return true
		}
	}
	for i := 0; ; {
		idx := strings.Index(name[i:], "aria-")
		if idx < 0 {
			return false
		}
		rest := name[i+idx+len("aria-"):]
		private := false
		for _, p := range privateAriaPrefixes {
			if strings.HasPrefix(rest, p) {
				private = true
				break
			}
		}
		if !private {
			return true
		}
		i += idx + 1
	}
}

// Describer turns live elements into ElementRecords.
type Describer struct {
	page          Page
	source        Source
	hrefMaxLength int
	logger        *zap.Logger
}

// DescriberOption configures a Describer.
type DescriberOption func(*Describer)

// WithHrefMaxLength overrides the href truncation length.
func WithHrefMaxLength(n int) DescriberOption {
	return func(d *Describer) {
		if n > 0 {
			d.hrefMaxLength = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) DescriberOption {
	return func(d *Describer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDescriber builds a Describer. A nil source falls back to Computed.
func NewDescriber(page Page, source Source, opts ...DescriberOption) *Describer {
	if source == nil {
		source = NewComputed(page)
	}
	d := &Describer{
		page:          page,
		source:        source,
		hrefMaxLength: DefaultHrefMaxLength,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("describer")
	return d
}

// Source returns the accessibility source in use.
func (d *Describer) Source() Source { return d.source }

// Describe reads n into an ElementRecord. It never modifies the page.
func (d *Describer) Describe(ctx context.Context, n dom.Node) (schemas.ElementRecord, error) {
	rec := schemas.ElementRecord{
		Tag:        n.TagName(),
		Attributes: make(map[string]string),
	}

	id, _, err := d.page.Attribute(ctx, n, dom.MarkerAttr)
	if err != nil {
		return rec, fmt.Errorf("reading marker id: %w", err)
	}
	rec.ID = id

	role, ok, err := d.source.Role(ctx, n)
	if err != nil {
		return rec, fmt.Errorf("computing role: %w", err)
	}
	if ok {
		rec.Role = &role
	}
	if rec.AccessibleName, err = d.source.Name(ctx, n); err != nil {
		return rec, fmt.Errorf("computing accessible name: %w", err)
	}
	if rec.AccessibleDescription, err = d.source.Description(ctx, n); err != nil {
		return rec, fmt.Errorf("computing accessible description: %w", err)
	}

	if n.Namespace() == dom.NamespaceHTML && n.TagName() == "select" {
		if rec.Options, err = d.options(ctx, n); err != nil {
			return rec, err
		}
	}

	attrs, err := d.page.Attributes(ctx, n)
	if err != nil {
		return rec, fmt.Errorf("reading attributes: %w", err)
	}
	for _, a := range attrs {
		if KeepAttribute(a.Name) {
			rec.Attributes[a.Name] = a.Value
		}
	}

	typ, _, err := d.page.Attribute(ctx, n, "type")
	if err != nil {
		return rec, fmt.Errorf("reading type: %w", err)
	}
	password := strings.EqualFold(strings.TrimSpace(typ), "password")
	if dom.IsFormComponent(n) && !password {
		value, err := d.page.Value(ctx, n)
		if err != nil {
			return rec, fmt.Errorf("reading value: %w", err)
		}
		if value != "" {
			rec.Attributes["value"] = value
		}
	}
	if password {
		delete(rec.Attributes, "value")
	}

	if href, _, err := d.page.Attribute(ctx, n, "href"); err != nil {
		return rec, fmt.Errorf("reading href: %w", err)
	} else if href != "" {
		if rec.AccessibleName == "" && rec.AccessibleDescription == "" {
			rec.Attributes["href"] = truncate(href, d.hrefMaxLength)
		} else {
			delete(rec.Attributes, "href")
		}
	}
	d.logger.Debug("Described element.", zap.String("id", rec.ID), zap.String("tag", rec.Tag), zap.Int("attributes", len(rec.Attributes)))
	return rec, nil
}

func (d *Describer) options(ctx context.Context, n dom.Node) ([]string, error) {
	opts, err := d.page.QueryAll(ctx, n, "option")
	if err != nil {
		return nil, fmt.Errorf("listing options: %w", err)
	}
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		v, err := d.page.Value(ctx, o)
		if err != nil {
			return nil, fmt.Errorf("reading option value: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
