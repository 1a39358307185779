// internal/browser/cdp/page_test.go
package cdp

import (
	"strings"
	"testing"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

func TestHelpersScriptEmbedded(t *testing.T) {
	require.NotEmpty(t, helpersScript)
	for _, fn := range []string{"queryAll", "appendMarker", "appendMask", "observe", "unobserve", "setNativeValue", "element"} {
		assert.Contains(t, helpersScript, fn+":", fn)
	}
	assert.Contains(t, helpersScript, staleMarker)
	assert.Contains(t, helpersScript, "epoch * KEY_SPAN + next++", "keys carry a per-document epoch")
}

func TestExpression(t *testing.T) {
	expr, err := expression("queryAll", []any{nil, `a[href="x"]`})
	require.NoError(t, err)
	assert.Contains(t, expr, `g.queryAll(null, "a[href=\"x\"]")`)
	assert.Contains(t, expr, missingMarker)

	expr, err = expression("body", nil)
	require.NoError(t, err)
	assert.Contains(t, expr, "g.body()")

	expr, err = expression("appendMarker", []any{dom.Marker{Class: "lc-marker", ID: "3", Vars: map[string]string{"--bg-color": "red"}}})
	require.NoError(t, err)
	assert.True(t, strings.Contains(expr, `"class":"lc-marker"`), expr)
	assert.True(t, strings.Contains(expr, `"--bg-color":"red"`), expr)

	_, err = expression("bad", []any{func() {}})
	assert.Error(t, err)
}

func TestNodeRef(t *testing.T) {
	var nilRef *nodeRef
	assert.Nil(t, nilRef.node())

	n := (&nodeRef{K: 7, T: "path", N: "svg"}).node()
	assert.Equal(t, dom.NodeKey(7), n.Key())
	assert.Equal(t, "path", n.TagName())
	assert.Equal(t, dom.NamespaceSVG, n.Namespace())

	assert.Equal(t, dom.NamespaceHTML, (&nodeRef{K: 1, T: "div", N: "html"}).node().Namespace())
	assert.Equal(t, dom.NamespaceOther, (&nodeRef{K: 2, T: "math", N: "other"}).node().Namespace())

	got := nodes([]*nodeRef{{K: 1, T: "a", N: "html"}, nil, {K: 3, T: "b", N: "html"}})
	require.Len(t, got, 2)
	assert.Equal(t, dom.NodeKey(3), got[1].Key())
}

func TestAXValues(t *testing.T) {
	assert.Equal(t, "button", axString(&accessibility.Value{Value: []byte(`"button"`)}))
	assert.Equal(t, "", axString(nil))
	assert.Equal(t, "", axString(&accessibility.Value{Value: []byte(`12`)}))
	assert.True(t, axBool(&accessibility.Value{Value: []byte(`true`)}))
	assert.False(t, axBool(&accessibility.Value{Value: []byte(`"true"`)}))

	node := &accessibility.Node{Properties: []*accessibility.Property{
		{Name: accessibility.PropertyNameFocusable, Value: &accessibility.Value{Value: []byte(`true`)}},
		{Name: accessibility.PropertyNameDisabled, Value: &accessibility.Value{Value: []byte(`true`)}},
	}}
	v, ok := property(node, accessibility.PropertyNameDisabled)
	require.True(t, ok)
	assert.True(t, axBool(v))
	_, ok = property(node, accessibility.PropertyNameHidden)
	assert.False(t, ok)
}
