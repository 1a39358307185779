// internal/browser/dom/page.go
package dom

import (
	"context"
)

// MarkerAttr carries the per-snapshot element id on the page.
const MarkerAttr = "data-marker-id"

// -- Node Identity --

// NodeKey identifies a live element for as long as it stays in the document.
// Keys are never reused within one page load and never survive a navigation.
type NodeKey int64

// Namespace is the XML namespace an element was created in.
type Namespace int

const (
	NamespaceHTML Namespace = iota
	NamespaceSVG
	NamespaceOther
)

// Node is an opaque handle to a live DOM element. The page owns the element;
// a Node only refers to it.
type Node interface {
	Key() NodeKey
	// TagName is the lower-case local name ("button", "svg", "path").
	TagName() string
	Namespace() Namespace
}

// Attr is a single name/value attribute pair.
type Attr struct {
	Name  string
	Value string
}

// -- Capability Interfaces --

// Tree exposes document structure.
type Tree interface {
	Body(ctx context.Context) (Node, error)
	DocumentElement(ctx context.Context) (Node, error)
	// Parent returns nil when n is the document element.
	Parent(ctx context.Context, n Node) (Node, error)
	// Children returns the element children of n in document order.
	Children(ctx context.Context, n Node) ([]Node, error)
	// QueryAll runs a CSS selector against scope, or the whole document when
	// scope is nil. Results are in document order.
	QueryAll(ctx context.Context, scope Node, selector string) ([]Node, error)
	Matches(ctx context.Context, n Node, selector string) (bool, error)
	IsConnected(ctx context.Context, n Node) (bool, error)
	TextContent(ctx context.Context, n Node) (string, error)
}

// Attributes reads and writes element attributes.
type Attributes interface {
	Attribute(ctx context.Context, n Node, name string) (string, bool, error)
	Attributes(ctx context.Context, n Node) ([]Attr, error)
	SetAttribute(ctx context.Context, n Node, name, value string) error
	RemoveAttribute(ctx context.Context, n Node, name string) error
}

// Layout exposes rendered geometry and computed styles.
type Layout interface {
	Viewport(ctx context.Context) (Viewport, error)
	// ComputedStyles returns one property map per node, in the order given.
	ComputedStyles(ctx context.Context, nodes []Node, props ...string) ([]map[string]string, error)
	ClientRects(ctx context.Context, n Node) ([]Rect, error)
	BoundingRect(ctx context.Context, n Node) (Rect, error)
	ScrollMetrics(ctx context.Context, n Node) (ScrollMetrics, error)
	// ElementFromPoint hit-tests viewport coordinates. It returns nil when
	// nothing is hit.
	ElementFromPoint(ctx context.Context, x, y float64) (Node, error)
	ScrollTo(ctx context.Context, x, y float64) error
}

// Overlay manages the annotation nodes placed on top of the page.
type Overlay interface {
	// InjectStyle adds a <style id=id> element unless one already exists.
	InjectStyle(ctx context.Context, id, css string) error
	AppendMarker(ctx context.Context, m Marker) error
	AppendMask(ctx context.Context, m Mask) error
	// RemoveAll detaches every element matching selector.
	RemoveAll(ctx context.Context, selector string) error
}

// Forms covers value access and form submission.
type Forms interface {
	Value(ctx context.Context, n Node) (string, error)
	// SetNativeValue assigns value through the element prototype's own value
	// setter, so frameworks that shadow the instance property still see the
	// change when the following input event fires.
	SetNativeValue(ctx context.Context, n Node, value string) error
	// RequestSubmit returns ErrUnsupported when the page has no requestSubmit.
	RequestSubmit(ctx context.Context, form Node) error
	Submit(ctx context.Context, form Node) error
}

// Input dispatches events and editing commands.
type Input interface {
	DispatchEvent(ctx context.Context, n Node, ev Event) error
	// Click invokes the element's native click(). Returns ErrUnsupported for
	// elements that have none (non-HTML namespaces).
	Click(ctx context.Context, n Node) error
	Focus(ctx context.Context, n Node) error
	// SelectContents replaces the document selection with a range covering
	// the contents of n.
	SelectContents(ctx context.Context, n Node) error
	ExecCommand(ctx context.Context, command, value string) error
}

// Observable reports page activity used to decide when the page has settled.
type Observable interface {
	ObserveActivity(ctx context.Context) (ActivityStream, error)
}

// Page is the full capability set the grounding core runs against.
type Page interface {
	Tree
	Attributes
	Layout
	Overlay
	Forms
	Input
	Observable
}

// -- Supporting Types --

// Viewport is a snapshot of window and document scroll/size metrics.
type Viewport struct {
	InnerWidth       float64 `json:"innerWidth"`
	InnerHeight      float64 `json:"innerHeight"`
	ScrollX          float64 `json:"scrollX"`
	ScrollY          float64 `json:"scrollY"`
	ClientTop        float64 `json:"clientTop"`
	DocScrollTop     float64 `json:"docScrollTop"`
	BodyScrollHeight float64 `json:"bodyScrollHeight"`
	BodyOffsetHeight float64 `json:"bodyOffsetHeight"`
	HTMLClientHeight float64 `json:"htmlClientHeight"`
	HTMLScrollHeight float64 `json:"htmlScrollHeight"`
	HTMLOffsetHeight float64 `json:"htmlOffsetHeight"`
}

// ScrollMetrics holds an element's vertical scroll state.
type ScrollMetrics struct {
	ScrollTop    float64 `json:"scrollTop"`
	ClientHeight float64 `json:"clientHeight"`
	ScrollHeight float64 `json:"scrollHeight"`
}

// Marker describes one overlay box. Vars are CSS custom properties.
type Marker struct {
	Class  string            `json:"class"`
	Attr   string            `json:"attr"`
	ID     string            `json:"id"`
	Top    float64           `json:"top"`
	Left   float64           `json:"left"`
	Width  float64           `json:"width"`
	Height float64           `json:"height"`
	ZIndex string            `json:"zIndex"`
	Vars   map[string]string `json:"vars"`
}

// Mask describes a full-viewport opaque canvas with transparent holes.
type Mask struct {
	ID     string  `json:"id"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Holes  []Rect  `json:"holes"`
}

// EventClass selects the DOM event constructor.
type EventClass string

const (
	ClassEvent         EventClass = "Event"
	ClassMouseEvent    EventClass = "MouseEvent"
	ClassPointerEvent  EventClass = "PointerEvent"
	ClassKeyboardEvent EventClass = "KeyboardEvent"
)

// Event is a synthetic DOM event.
type Event struct {
	Type     string     `json:"type"`
	Class    EventClass `json:"class"`
	Bubbles  bool       `json:"bubbles"`
	ClientX  float64    `json:"clientX,omitempty"`
	ClientY  float64    `json:"clientY,omitempty"`
	Which    int        `json:"which,omitempty"`
	Key      string     `json:"key,omitempty"`
	Code     string     `json:"code,omitempty"`
	KeyCode  int        `json:"keyCode,omitempty"`
	CharCode int        `json:"charCode,omitempty"`
}

// ActivityKind distinguishes activity sources.
type ActivityKind int

const (
	ActivityMutation ActivityKind = iota
	ActivityScroll
)

func (k ActivityKind) String() string {
	switch k {
	case ActivityMutation:
		return "mutation"
	case ActivityScroll:
		return "scroll"
	default:
		return "unknown"
	}
}

// Activity is one batch of page activity. For mutation batches BodyOnly is
// true when every record in the batch targeted <body> itself.
type Activity struct {
	Kind     ActivityKind
	BodyOnly bool
}

// ActivityStream delivers activity until closed. Close is safe to call more
// than once; the Events channel is closed afterwards.
type ActivityStream interface {
	Events() <-chan Activity
	Close() error
}
