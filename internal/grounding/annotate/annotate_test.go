// internal/grounding/annotate/annotate_test.go
package annotate_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/image/bmp"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
	"github.com/xkilldash9x/pagegrounder/internal/browser/dom/domtest"
	"github.com/xkilldash9x/pagegrounder/internal/grounding/annotate"
)

func solid(c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBase64(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestPageBrightness(t *testing.T) {
	white := pngBase64(t, solid(color.White))

	var bmpBuf bytes.Buffer
	require.NoError(t, bmp.Encode(&bmpBuf, solid(color.Black)))

	tests := []struct {
		name       string
		screenshot string
		want       int
	}{
		{"Empty", "", 100},
		{"White", white, 100},
		{"DataURL", "data:image/png;base64," + white, 100},
		{"Black", pngBase64(t, solid(color.Black)), 0},
		{"Gray", pngBase64(t, solid(color.RGBA{128, 128, 128, 255})), 50},
		{"Red", pngBase64(t, solid(color.RGBA{255, 0, 0, 255})), 30},
		{"Bitmap", base64.StdEncoding.EncodeToString(bmpBuf.Bytes()), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := annotate.PageBrightness(tt.screenshot)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("Undecodable", func(t *testing.T) {
		for _, bad := range []string{"not base64!", base64.StdEncoding.EncodeToString([]byte("plain text")), "data:image/png;base64"} {
			_, err := annotate.PageBrightness(bad)
			assert.ErrorIs(t, err, annotate.ErrImageDecode, bad)
		}
	})
}

func TestBrightnessBand(t *testing.T) {
	tests := []struct {
		brightness   int
		lower, upper int
	}{
		{0, 90, 100},
		{20, 60, 100},
		{44, 12, 100},
		{45, 0, 78},
		{100, 0, 50},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.brightness), func(t *testing.T) {
			lower, upper := annotate.BrightnessBand(tt.brightness)
			assert.Equal(t, tt.lower, lower)
			assert.Equal(t, tt.upper, upper)
		})
	}
	assert.True(t, annotate.IsDark(44))
	assert.False(t, annotate.IsDark(45))
}

func TestRandomBrightnessStaysInBand(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for b := 0; b <= 100; b++ {
		lower, upper := annotate.BrightnessBand(b)
		for i := 0; i < 50; i++ {
			v := annotate.RandomBrightness(rng, b)
			require.GreaterOrEqual(t, v, lower, "brightness %d", b)
			require.Less(t, v, upper, "brightness %d", b)
		}
	}
}

var hslPattern = regexp.MustCompile(`^hsl\((\d+), (\d+)%, (\d+)%\)$`)

func annotatedPage(t *testing.T) *domtest.Page {
	t.Helper()
	page := domtest.MustParse(`<html><body>
<div id="layer" style="z-index: 5"><button id="a">A</button></div>
<a id="b" href="#">B</a>
</body></html>`)
	vp := domtest.DefaultViewport
	vp.ScrollY = 100
	page.SetViewport(vp)
	page.SetRect(page.MustNode("#a"),
		dom.Rect{X: 10, Y: 20, Width: 30, Height: 40},
		dom.Rect{X: 50, Y: 20, Width: 0, Height: 40},
		dom.Rect{X: 10, Y: 70, Width: 15, Height: 10},
	)
	page.SetRect(page.MustNode("#b"), dom.Rect{X: 100, Y: 100, Width: 50, Height: 20})
	return page
}

func TestMark(t *testing.T) {
	ctx := context.Background()
	page := annotatedPage(t)
	a := annotate.New(page, annotate.WithRand(rand.New(rand.NewSource(1))), annotate.WithLogger(zaptest.NewLogger(t)))

	require.NoError(t, a.MarkAll(ctx, []dom.Node{page.MustNode("#a"), page.MustNode("#b")}, 100))

	markers := page.Markers()
	require.Len(t, markers, 3, "empty rects get no marker")

	first := markers[0]
	assert.Equal(t, annotate.ClassName, first.Class)
	assert.Equal(t, dom.MarkerAttr, first.Attr)
	assert.Equal(t, "0", first.ID)
	assert.Equal(t, 120.0, first.Top)
	assert.Equal(t, 10.0, first.Left)
	assert.Equal(t, 30.0, first.Width)
	assert.Equal(t, 40.0, first.Height)
	assert.Equal(t, "5", first.ZIndex)
	assert.Equal(t, "#fff", first.Vars["--text-color"])

	// Every box of one element shares a colour.
	assert.Equal(t, first.Vars, markers[1].Vars)
	assert.Equal(t, "0", markers[1].ID)
	assert.Equal(t, 170.0, markers[1].Top)

	last := markers[2]
	assert.Equal(t, "1", last.ID)
	assert.Equal(t, "auto", last.ZIndex)

	for _, m := range markers {
		parts := hslPattern.FindStringSubmatch(m.Vars["--bg-color"])
		require.NotNil(t, parts, m.Vars["--bg-color"])
		hue, _ := strconv.Atoi(parts[1])
		sat, _ := strconv.Atoi(parts[2])
		light, _ := strconv.Atoi(parts[3])
		assert.Less(t, hue, 360)
		assert.Less(t, sat, 100)
		assert.Less(t, light, 50)
	}

	injected := 0
	for _, c := range page.Calls() {
		if c == "injectStyle:"+annotate.StyleID {
			injected++
		}
	}
	assert.Equal(t, 1, injected, "stylesheet is injected once per page")
}

func TestMarkDarkPage(t *testing.T) {
	page := annotatedPage(t)
	a := annotate.New(page)
	require.NoError(t, a.Mark(context.Background(), page.MustNode("#b"), 4, 10))

	markers := page.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, "4", markers[0].ID)
	assert.Equal(t, "#000", markers[0].Vars["--text-color"])
	parts := hslPattern.FindStringSubmatch(markers[0].Vars["--bg-color"])
	require.NotNil(t, parts)
	light, _ := strconv.Atoi(parts[3])
	assert.GreaterOrEqual(t, light, 80)
}

func TestMask(t *testing.T) {
	page := annotatedPage(t)
	a := annotate.New(page)
	require.NoError(t, a.Mask(context.Background(), []dom.Node{page.MustNode("#b")}))

	masks := page.Masks()
	require.Len(t, masks, 1)
	assert.Equal(t, annotate.MaskID, masks[0].ID)
	assert.Equal(t, 1280.0, masks[0].Width)
	assert.Equal(t, 720.0, masks[0].Height)
	assert.Equal(t, []dom.Rect{{X: 100, Y: 100, Width: 50, Height: 20}}, masks[0].Holes)
}

func TestClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	page := annotatedPage(t)
	a := annotate.New(page)

	pristine := page.HTML()
	require.NoError(t, a.Clear(ctx))
	assert.Equal(t, pristine, page.HTML(), "clearing a clean page changes nothing")

	nodes := []dom.Node{page.MustNode("#a"), page.MustNode("#b")}
	for i, n := range nodes {
		require.NoError(t, page.SetAttribute(ctx, n, dom.MarkerAttr, strconv.Itoa(i)))
	}
	require.NoError(t, a.MarkAll(ctx, nodes, 100))
	require.NoError(t, a.Mask(ctx, nodes))

	require.NoError(t, a.Clear(ctx))
	cleared := page.HTML()
	assert.Empty(t, page.Markers())
	assert.Empty(t, page.Masks())
	marked, err := page.QueryAll(ctx, nil, "["+dom.MarkerAttr+"]")
	require.NoError(t, err)
	assert.Empty(t, marked)

	require.NoError(t, a.Clear(ctx))
	assert.Equal(t, cleared, page.HTML())
}
