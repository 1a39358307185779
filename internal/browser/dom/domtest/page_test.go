// internal/browser/dom/domtest/page_test.go
package domtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

func TestQueryAllScope(t *testing.T) {
	ctx := context.Background()
	p := MustParse(`<html><body><select id="s"><option value="a">A</option><option>B</option></select><option id="stray">C</option></body></html>`)

	all, err := p.QueryAll(ctx, nil, "option")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	scoped, err := p.QueryAll(ctx, p.MustNode("#s"), "option")
	require.NoError(t, err)
	require.Len(t, scoped, 2)

	v, err := p.Value(ctx, scoped[1])
	require.NoError(t, err)
	assert.Equal(t, "B", v, "option value falls back to its text")

	_, err = p.QueryAll(ctx, nil, "[[")
	assert.Error(t, err)
}

func TestElementFromPoint(t *testing.T) {
	ctx := context.Background()
	p := MustParse(`<html><body><div id="under"></div><div id="over"></div><div id="ghost"></div></body></html>`)
	under, over, ghost := p.MustNode("#under"), p.MustNode("#over"), p.MustNode("#ghost")
	p.SetRect(under, dom.Rect{X: 0, Y: 0, Width: 100, Height: 100})
	p.SetRect(over, dom.Rect{X: 50, Y: 50, Width: 100, Height: 100})
	p.SetRect(ghost, dom.Rect{X: 0, Y: 0, Width: 200, Height: 200})
	p.SetStyle(ghost, "pointer-events", "none")

	hit, err := p.ElementFromPoint(ctx, 75, 75)
	require.NoError(t, err)
	assert.Equal(t, over.Key(), hit.Key(), "later document order paints on top")

	p.SetStyle(under, "z-index", "10")
	hit, err = p.ElementFromPoint(ctx, 75, 75)
	require.NoError(t, err)
	assert.Equal(t, under.Key(), hit.Key(), "higher z-index wins")

	hit, err = p.ElementFromPoint(ctx, 500, 500)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestComputedStyleInheritance(t *testing.T) {
	ctx := context.Background()
	p := MustParse(`<html><body><div style="cursor: pointer; z-index: 3"><span id="s">x</span></div><a id="a" href="/">a</a></body></html>`)

	styles, err := p.ComputedStyles(ctx, []dom.Node{p.MustNode("#s"), p.MustNode("#a")}, "cursor", "z-index")
	require.NoError(t, err)
	assert.Equal(t, "pointer", styles[0]["cursor"])
	assert.Equal(t, "auto", styles[0]["z-index"], "z-index is not inherited")
	assert.Equal(t, "pointer", styles[1]["cursor"])
}

func TestActivityStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := MustParse(`<html><body><div id="list"></div></body></html>`)

	s, err := p.ObserveActivity(ctx)
	require.NoError(t, err)

	_, err = p.Append(p.MustNode("#list"), `<p>new</p>`)
	require.NoError(t, err)
	p.Mutate(p.MustNode("body"))
	p.Scroll()

	want := []dom.Activity{
		{Kind: dom.ActivityMutation},
		{Kind: dom.ActivityMutation, BodyOnly: true},
		{Kind: dom.ActivityScroll},
	}
	for _, w := range want {
		select {
		case got := <-s.Events():
			assert.Equal(t, w, got)
		case <-time.After(time.Second):
			t.Fatal("activity not delivered")
		}
	}

	cancel()
	require.Eventually(t, func() bool { return p.ActiveStreams() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-s.Events()
	assert.False(t, open)
	assert.NoError(t, s.Close(), "close after cancel is a no-op")
}

func TestExecCommand(t *testing.T) {
	ctx := context.Background()
	p := MustParse(`<html><body><div id="ed" contenteditable>old text</div></body></html>`)
	ed := p.MustNode("#ed")

	require.NoError(t, p.Focus(ctx, ed))
	require.NoError(t, p.SelectContents(ctx, ed))
	require.NoError(t, p.ExecCommand(ctx, "delete", ""))
	assert.Equal(t, "", p.Text(ed))
	require.NoError(t, p.ExecCommand(ctx, "insertText", "new"))
	assert.Equal(t, "new", p.Text(ed))
	assert.Error(t, p.ExecCommand(ctx, "bold", ""))
}

func TestLoadReplacesDocument(t *testing.T) {
	ctx := context.Background()
	p := MustParse(`<html><body><button id="b">Old</button></body></html>`)
	old := p.MustNode("#b")

	require.NoError(t, p.Load(`<html><body><button id="b">New</button></body></html>`))

	connected, err := p.IsConnected(ctx, old)
	require.NoError(t, err)
	assert.False(t, connected)
	_, err = p.TextContent(ctx, old)
	assert.ErrorIs(t, err, dom.ErrTargetNotFound)

	fresh := p.MustNode("#b")
	assert.NotEqual(t, old.Key(), fresh.Key(), "keys are not reused across documents")
	assert.Equal(t, "New", p.Text(fresh))
}
