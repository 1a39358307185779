// internal/browser/dom/kind.go
package dom

import (
	"context"
	"fmt"
)

// InputKind classifies how an element accepts input. It is resolved once per
// element and then matched exhaustively by the input dispatcher.
type InputKind int

const (
	Unsupported InputKind = iota
	NativeInput
	NativeTextArea
	NativeSelect
	ContentEditable
)

func (k InputKind) String() string {
	switch k {
	case NativeInput:
		return "input"
	case NativeTextArea:
		return "textarea"
	case NativeSelect:
		return "select"
	case ContentEditable:
		return "contenteditable"
	default:
		return "unsupported"
	}
}

// ResolveInputKind inspects n once and reports its input variant.
func ResolveInputKind(ctx context.Context, attrs Attributes, n Node) (InputKind, error) {
	if n.Namespace() == NamespaceHTML {
		switch n.TagName() {
		case "input":
			return NativeInput, nil
		case "textarea":
			return NativeTextArea, nil
		case "select":
			return NativeSelect, nil
		}
	}
	editable, err := IsContentEditable(ctx, attrs, n)
	if err != nil {
		return Unsupported, err
	}
	if editable {
		return ContentEditable, nil
	}
	return Unsupported, nil
}

// IsContentEditable reports whether the contenteditable attribute enables
// editing on n itself. Inherited editability does not count.
func IsContentEditable(ctx context.Context, attrs Attributes, n Node) (bool, error) {
	v, ok, err := attrs.Attribute(ctx, n, "contenteditable")
	if err != nil {
		return false, fmt.Errorf("reading contenteditable: %w", err)
	}
	if !ok {
		return false, nil
	}
	switch v {
	case "", "true", "plaintext-only":
		return true, nil
	}
	return false, nil
}

// IsFormComponent reports the elements that carry a live value property.
func IsFormComponent(n Node) bool {
	if n.Namespace() != NamespaceHTML {
		return false
	}
	switch n.TagName() {
	case "input", "textarea", "select", "option":
		return true
	}
	return false
}
