// internal/grounding/a11y/source.go
package a11y

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

// Source answers accessibility-tree questions about a live element. A
// browser-backed implementation is authoritative; Computed approximates one
// from DOM primitives.
type Source interface {
	// Role returns false when the element has no role.
	Role(ctx context.Context, n dom.Node) (string, bool, error)
	Name(ctx context.Context, n dom.Node) (string, error)
	Description(ctx context.Context, n dom.Node) (string, error)
	Disabled(ctx context.Context, n dom.Node) (bool, error)
	// Inaccessible reports elements excluded from the accessibility tree.
	Inaccessible(ctx context.Context, n dom.Node) (bool, error)
}

// Page is the capability subset Computed needs.
type Page interface {
	dom.Tree
	dom.Attributes
	dom.Layout
	Value(ctx context.Context, n dom.Node) (string, error)
}

// Computed derives accessibility data from attributes, labels and text.
type Computed struct {
	page Page
}

var _ Source = (*Computed)(nil)

// NewComputed wraps page.
func NewComputed(page Page) *Computed {
	return &Computed{page: page}
}

// -- Role --

var nameFromContent = map[string]bool{
	"button":           true,
	"cell":             true,
	"checkbox":         true,
	"columnheader":     true,
	"gridcell":         true,
	"heading":          true,
	"link":             true,
	"menuitem":         true,
	"menuitemcheckbox": true,
	"menuitemradio":    true,
	"option":           true,
	"radio":            true,
	"row":              true,
	"rowheader":        true,
	"switch":           true,
	"tab":              true,
	"tooltip":          true,
	"treeitem":         true,
}

var implicitRoles = map[string]string{
	"article":  "article",
	"aside":    "complementary",
	"button":   "button",
	"datalist": "listbox",
	"details":  "group",
	"dialog":   "dialog",
	"fieldset": "group",
	"figure":   "figure",
	"footer":   "contentinfo",
	"form":     "form",
	"h1":       "heading",
	"h2":       "heading",
	"h3":       "heading",
	"h4":       "heading",
	"h5":       "heading",
	"h6":       "heading",
	"header":   "banner",
	"hr":       "separator",
	"li":       "listitem",
	"main":     "main",
	"menu":     "list",
	"nav":      "navigation",
	"ol":       "list",
	"optgroup": "group",
	"option":   "option",
	"progress": "progressbar",
	"table":    "table",
	"tbody":    "rowgroup",
	"td":       "cell",
	"textarea": "textbox",
	"tfoot":    "rowgroup",
	"th":       "columnheader",
	"thead":    "rowgroup",
	"tr":       "row",
	"ul":       "list",
}

var inputRoles = map[string]string{
	"button":   "button",
	"checkbox": "checkbox",
	"email":    "textbox",
	"image":    "button",
	"number":   "spinbutton",
	"radio":    "radio",
	"range":    "slider",
	"reset":    "button",
	"search":   "searchbox",
	"submit":   "button",
	"tel":      "textbox",
	"text":     "textbox",
	"url":      "textbox",
}

func (c *Computed) attr(ctx context.Context, n dom.Node, name string) (string, bool, error) {
	v, ok, err := c.page.Attribute(ctx, n, name)
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", name, err)
	}
	return v, ok, nil
}

func (c *Computed) Role(ctx context.Context, n dom.Node) (string, bool, error) {
	explicit, _, err := c.attr(ctx, n, "role")
	if err != nil {
		return "", false, err
	}
	if fields := strings.Fields(explicit); len(fields) > 0 {
		return fields[0], true, nil
	}
	if n.Namespace() != dom.NamespaceHTML {
		return "", false, nil
	}
	tag := n.TagName()
	switch tag {
	case "a", "area":
		if _, ok, err := c.attr(ctx, n, "href"); err != nil || !ok {
			return "", false, err
		}
		return "link", true, nil
	case "img":
		alt, ok, err := c.attr(ctx, n, "alt")
		if err != nil {
			return "", false, err
		}
		if ok && alt == "" {
			return "presentation", true, nil
		}
		return "img", true, nil
	case "input":
		typ, _, err := c.attr(ctx, n, "type")
		if err != nil {
			return "", false, err
		}
		typ = strings.ToLower(strings.TrimSpace(typ))
		if typ == "" {
			typ = "text"
		}
		role, ok := inputRoles[typ]
		if !ok {
			return "", false, nil
		}
		if role == "textbox" || role == "searchbox" {
			if _, hasList, err := c.attr(ctx, n, "list"); err != nil {
				return "", false, err
			} else if hasList {
				return "combobox", true, nil
			}
		}
		return role, true, nil
	case "select":
		_, multiple, err := c.attr(ctx, n, "multiple")
		if err != nil {
			return "", false, err
		}
		size, _, err := c.attr(ctx, n, "size")
		if err != nil {
			return "", false, err
		}
		if multiple || (size != "" && size != "0" && size != "1") {
			return "listbox", true, nil
		}
		return "combobox", true, nil
	}
	role, ok := implicitRoles[tag]
	return role, ok, nil
}

// -- Name & Description --

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// referenced resolves an IDREF list attribute to the joined text of the
// referenced elements.
func (c *Computed) referenced(ctx context.Context, n dom.Node, name string) (string, error) {
	ids, ok, err := c.attr(ctx, n, name)
	if err != nil || !ok {
		return "", err
	}
	var parts []string
	for _, id := range strings.Fields(ids) {
		refs, err := c.page.QueryAll(ctx, nil, "[id="+dom.CSSString(id)+"]")
		if err != nil {
			return "", err
		}
		if len(refs) == 0 {
			continue
		}
		text, err := c.content(ctx, refs[0])
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// content is the collapsed text of n. Elements without text fall back to the
// aria-label and alt text of their descendants.
func (c *Computed) content(ctx context.Context, n dom.Node) (string, error) {
	text, err := c.page.TextContent(ctx, n)
	if err != nil {
		return "", err
	}
	if text = collapse(text); text != "" {
		return text, nil
	}
	labelled, err := c.page.QueryAll(ctx, n, "[aria-label], img[alt], svg title")
	if err != nil {
		return "", err
	}
	var parts []string
	for _, d := range labelled {
		var v string
		if d.TagName() == "title" {
			if v, err = c.page.TextContent(ctx, d); err != nil {
				return "", err
			}
		} else if v, _, err = c.attr(ctx, d, "aria-label"); err != nil {
			return "", err
		} else if v == "" {
			if v, _, err = c.attr(ctx, d, "alt"); err != nil {
				return "", err
			}
		}
		if v = collapse(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " "), nil
}

func isLabelable(n dom.Node) bool {
	if n.Namespace() != dom.NamespaceHTML {
		return false
	}
	switch n.TagName() {
	case "button", "input", "meter", "output", "progress", "select", "textarea":
		return true
	}
	return false
}

// labels returns the text of every <label> associated with n, explicit
// (for=id) labels first.
func (c *Computed) labels(ctx context.Context, n dom.Node) (string, error) {
	if !isLabelable(n) {
		return "", nil
	}
	var parts []string
	if id, ok, err := c.attr(ctx, n, "id"); err != nil {
		return "", err
	} else if ok && id != "" {
		found, err := c.page.QueryAll(ctx, nil, "label[for="+dom.CSSString(id)+"]")
		if err != nil {
			return "", err
		}
		for _, l := range found {
			text, err := c.content(ctx, l)
			if err != nil {
				return "", err
			}
			if text != "" {
				parts = append(parts, text)
			}
		}
	}
	wrapping, err := dom.NearestOfType(ctx, c.page, n, dom.HasTag("label"))
	if err != nil {
		return "", err
	}
	if wrapping != nil {
		text, err := c.content(ctx, wrapping)
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Name follows aria-labelledby, aria-label, associated labels, element
// content for name-from-content roles, then placeholder, title and alt.
func (c *Computed) Name(ctx context.Context, n dom.Node) (string, error) {
	name, _, err := c.name(ctx, n)
	return name, err
}

// name also reports whether the title attribute supplied the name.
func (c *Computed) name(ctx context.Context, n dom.Node) (string, bool, error) {
	if v, err := c.referenced(ctx, n, "aria-labelledby"); err != nil || v != "" {
		return v, false, err
	}
	if v, _, err := c.attr(ctx, n, "aria-label"); err != nil {
		return "", false, err
	} else if v = collapse(v); v != "" {
		return v, false, nil
	}
	if v, err := c.labels(ctx, n); err != nil || v != "" {
		return v, false, err
	}
	if n.Namespace() == dom.NamespaceHTML && n.TagName() == "input" {
		if v, err := c.inputName(ctx, n); err != nil || v != "" {
			return v, false, err
		}
	}
	if n.Namespace() == dom.NamespaceSVG && n.TagName() == "svg" {
		titles, err := c.page.QueryAll(ctx, n, "title")
		if err != nil {
			return "", false, err
		}
		if len(titles) > 0 {
			text, err := c.page.TextContent(ctx, titles[0])
			if err != nil {
				return "", false, err
			}
			if text = collapse(text); text != "" {
				return text, false, nil
			}
		}
	}
	role, _, err := c.Role(ctx, n)
	if err != nil {
		return "", false, err
	}
	if nameFromContent[role] || (n.Namespace() == dom.NamespaceHTML && n.TagName() == "summary") {
		if v, err := c.content(ctx, n); err != nil || v != "" {
			return v, false, err
		}
	}
	for _, fallback := range []string{"placeholder", "title", "alt"} {
		v, _, err := c.attr(ctx, n, fallback)
		if err != nil {
			return "", false, err
		}
		if v = collapse(v); v != "" {
			return v, fallback == "title", nil
		}
	}
	return "", false, nil
}

func (c *Computed) inputName(ctx context.Context, n dom.Node) (string, error) {
	typ, _, err := c.attr(ctx, n, "type")
	if err != nil {
		return "", err
	}
	switch strings.ToLower(typ) {
	case "button", "submit", "reset":
		v, ok, err := c.attr(ctx, n, "value")
		if err != nil {
			return "", err
		}
		if ok && collapse(v) != "" {
			return collapse(v), nil
		}
		switch strings.ToLower(typ) {
		case "submit":
			return "Submit", nil
		case "reset":
			return "Reset", nil
		}
	case "image":
		v, _, err := c.attr(ctx, n, "alt")
		if err != nil {
			return "", err
		}
		return collapse(v), nil
	}
	return "", nil
}

// Description follows aria-describedby, aria-description, then title when
// the title did not already supply the name.
func (c *Computed) Description(ctx context.Context, n dom.Node) (string, error) {
	if v, err := c.referenced(ctx, n, "aria-describedby"); err != nil || v != "" {
		return v, err
	}
	if v, _, err := c.attr(ctx, n, "aria-description"); err != nil {
		return "", err
	} else if v = collapse(v); v != "" {
		return v, nil
	}
	title, _, err := c.attr(ctx, n, "title")
	if err != nil {
		return "", err
	}
	if title = collapse(title); title == "" {
		return "", nil
	}
	_, fromTitle, err := c.name(ctx, n)
	if err != nil {
		return "", err
	}
	if fromTitle {
		return "", nil
	}
	return title, nil
}

// -- State --

var disableable = map[string]bool{
	"button":   true,
	"fieldset": true,
	"input":    true,
	"optgroup": true,
	"option":   true,
	"select":   true,
	"textarea": true,
}

func (c *Computed) Disabled(ctx context.Context, n dom.Node) (bool, error) {
	if n.Namespace() == dom.NamespaceHTML && disableable[n.TagName()] {
		if _, ok, err := c.attr(ctx, n, "disabled"); err != nil || ok {
			return ok, err
		}
	}
	v, _, err := c.attr(ctx, n, "aria-disabled")
	return v == "true", err
}

// Inaccessible is true when n or an ancestor is hidden, aria-hidden or not
// rendered, or when n itself is visibility:hidden.
func (c *Computed) Inaccessible(ctx context.Context, n dom.Node) (bool, error) {
	style, err := dom.Style(ctx, c.page, n, "visibility")
	if err != nil {
		return false, err
	}
	if style["visibility"] == "hidden" {
		return true, nil
	}
	for cur := n; cur != nil; {
		if _, ok, err := c.attr(ctx, cur, "hidden"); err != nil || ok {
			return ok, err
		}
		if v, _, err := c.attr(ctx, cur, "aria-hidden"); err != nil || v == "true" {
			return v == "true", err
		}
		style, err := dom.Style(ctx, c.page, cur, "display")
		if err != nil {
			return false, err
		}
		if style["display"] == "none" {
			return true, nil
		}
		if cur, err = c.page.Parent(ctx, cur); err != nil {
			return false, err
		}
	}
	return false, nil
}
