// internal/execution/synthetic/synthetic_test.go
package synthetic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
	"github.com/xkilldash9x/pagegrounder/internal/browser/dom/domtest"
	"github.com/xkilldash9x/pagegrounder/internal/execution/synthetic"
)

const fixture = `<html><body>
<form id="search"><input id="q" name="q"><textarea id="notes"></textarea></form>
<input id="loose">
<select id="size"><option value="s">S</option><option value="m">M</option></select>
<div id="editor" contenteditable="true">old text</div>
<button id="go">Go</button>
<svg id="icon"><circle id="dot"></circle></svg>
</body></html>`

type sleeper struct {
	pauses []time.Duration
	err    error
}

func (s *sleeper) sleep(ctx context.Context, d time.Duration) error {
	s.pauses = append(s.pauses, d)
	return s.err
}

func newDispatcher(t *testing.T) (*domtest.Page, *synthetic.Dispatcher, *sleeper) {
	t.Helper()
	page := domtest.MustParse(fixture)
	sl := &sleeper{}
	d := synthetic.New(page, synthetic.WithSleep(sl.sleep), synthetic.WithLogger(zaptest.NewLogger(t)))
	return page, d, sl
}

func TestClick(t *testing.T) {
	ctx := context.Background()

	t.Run("HTMLElement", func(t *testing.T) {
		page, d, _ := newDispatcher(t)
		btn := page.MustNode("#go")
		page.SetRect(btn, dom.Rect{X: 10, Y: 20, Width: 100, Height: 40})

		require.NoError(t, d.Click(ctx, btn))
		assert.Equal(t, []string{"mousedown", "pointerdown", "click", "mouseup", "pointerup"}, page.EventTypes(btn))

		events := page.Events()
		require.Len(t, events, 5)
		assert.Equal(t, dom.ClassMouseEvent, events[0].Event.Class)
		assert.Equal(t, dom.ClassPointerEvent, events[1].Event.Class)
		assert.True(t, events[2].Native, "HTML elements use their own click()")
		for _, i := range []int{0, 1, 3, 4} {
			ev := events[i].Event
			assert.True(t, ev.Bubbles)
			assert.Equal(t, 1, ev.Which)
			assert.Equal(t, 60.0, ev.ClientX)
			assert.Equal(t, 40.0, ev.ClientY)
		}
	})

	t.Run("SVGElement", func(t *testing.T) {
		page, d, _ := newDispatcher(t)
		dot := page.MustNode("#dot")
		page.SetRect(dot, dom.Rect{X: 0, Y: 0, Width: 10, Height: 10})

		require.NoError(t, d.Click(ctx, dot))
		events := page.Events()
		require.Len(t, events, 5)
		assert.Equal(t, "click", events[2].Event.Type)
		assert.False(t, events[2].Native, "non-HTML elements get a synthesized click")
		assert.Equal(t, 5.0, events[2].Event.ClientX)
		assert.NotContains(t, page.Calls(), "click")
	})
}

func TestFill(t *testing.T) {
	ctx := context.Background()

	for _, sel := range []string{"#q", "#notes"} {
		t.Run(sel, func(t *testing.T) {
			page, d, sl := newDispatcher(t)
			n := page.MustNode(sel)

			require.NoError(t, d.Fill(ctx, n, "hello"))
			assert.Equal(t, []string{"setValue:hello", "click", "focus", "setValue:hello"}, page.Calls())
			assert.Equal(t, []string{"click", "focusin", "input", "change"}, page.EventTypes(n))
			assert.Equal(t, []time.Duration{synthetic.DefaultSettleDelay}, sl.pauses)

			v, err := page.Value(ctx, n)
			require.NoError(t, err)
			assert.Equal(t, "hello", v)
		})
	}

	t.Run("ContentEditable", func(t *testing.T) {
		page, d, sl := newDispatcher(t)
		editor := page.MustNode("#editor")

		require.NoError(t, d.Fill(ctx, editor, "new text"))
		assert.Equal(t, []string{"click", "focus", "selectContents", "execCommand:delete", "execCommand:insertText"}, page.Calls())
		assert.Equal(t, []string{"click", "focusin"}, page.EventTypes(editor))
		assert.Len(t, sl.pauses, 2)
		assert.Equal(t, "new text", page.Text(editor))
	})

	t.Run("UnsupportedTargets", func(t *testing.T) {
		page, d, _ := newDispatcher(t)
		for _, sel := range []string{"#size", "#go", "#dot"} {
			err := d.Fill(ctx, page.MustNode(sel), "x")
			assert.ErrorIs(t, err, dom.ErrUnsupportedTarget, sel)
		}
		assert.Empty(t, page.Calls())
		assert.Empty(t, page.Events())
	})

	t.Run("CancelledDuringDelay", func(t *testing.T) {
		page, d, sl := newDispatcher(t)
		sl.err = context.Canceled
		n := page.MustNode("#loose")

		err := d.Fill(ctx, n, "partial")
		assert.ErrorIs(t, err, context.Canceled)
		// Already dispatched steps stay in place.
		assert.Equal(t, []string{"setValue:partial", "click", "focus"}, page.Calls())
		assert.Equal(t, []string{"click", "focusin"}, page.EventTypes(n))
	})
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	page, d, _ := newDispatcher(t)
	size := page.MustNode("#size")

	require.NoError(t, d.Select(ctx, size, "m"))
	v, err := page.Value(ctx, size)
	require.NoError(t, err)
	assert.Equal(t, "m", v)
	assert.Equal(t, []string{"click", "focusin", "input", "change"}, page.EventTypes(size))

	for _, sel := range []string{"#q", "#notes", "#editor", "#go"} {
		assert.ErrorIs(t, d.Select(ctx, page.MustNode(sel), "m"), dom.ErrUnsupportedTarget, sel)
	}
}

func TestEnter(t *testing.T) {
	ctx := context.Background()
	keys := []string{"click", "focusin", "keydown", "keyup", "keypress"}

	t.Run("RequestSubmit", func(t *testing.T) {
		page, d, sl := newDispatcher(t)
		q := page.MustNode("#q")

		require.NoError(t, d.Enter(ctx, q))
		assert.Equal(t, []string{"requestSubmit", "click", "focus"}, page.Calls())
		assert.Equal(t, keys, page.EventTypes(q))
		assert.Len(t, sl.pauses, 1)

		last := page.Events()[4].Event
		assert.Equal(t, dom.ClassKeyboardEvent, last.Class)
		assert.Equal(t, "Enter", last.Key)
		assert.Equal(t, "Enter", last.Code)
		assert.Equal(t, 13, last.KeyCode)
		assert.Equal(t, 13, last.CharCode)
		assert.True(t, last.Bubbles)
	})

	t.Run("SubmitFallback", func(t *testing.T) {
		page, d, _ := newDispatcher(t)
		page.RequestSubmitUnsupported = true

		require.NoError(t, d.Enter(ctx, page.MustNode("#notes")))
		assert.Equal(t, []string{"submit", "click", "focus"}, page.Calls())
	})

	t.Run("NoForm", func(t *testing.T) {
		page, d, _ := newDispatcher(t)
		loose := page.MustNode("#loose")

		require.NoError(t, d.Enter(ctx, loose))
		assert.Equal(t, []string{"click", "focus"}, page.Calls())
		assert.Equal(t, keys, page.EventTypes(loose))
	})

	t.Run("UnsupportedTargets", func(t *testing.T) {
		page, d, _ := newDispatcher(t)
		for _, sel := range []string{"#size", "#editor", "#go"} {
			assert.ErrorIs(t, d.Enter(ctx, page.MustNode(sel)), dom.ErrUnsupportedTarget, sel)
		}
		assert.Empty(t, page.Calls())
	})
}

func TestDefaultSleepHonoursContext(t *testing.T) {
	page := domtest.MustParse(fixture)
	d := synthetic.New(page, synthetic.WithDelay(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Fill(ctx, page.MustNode("#loose"), "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestZeroDelaySkipsPause(t *testing.T) {
	page := domtest.MustParse(fixture)
	sl := &sleeper{}
	d := synthetic.New(page, synthetic.WithDelay(0), synthetic.WithSleep(sl.sleep))

	require.NoError(t, d.Fill(context.Background(), page.MustNode("#loose"), "x"))
	assert.Empty(t, sl.pauses)
}
