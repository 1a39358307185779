// internal/browser/default_allocator_options_test.go
package browser

import (
	"runtime"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/pagegrounder/internal/config"
)

func TestAllocatorFlags(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{Headless: true})
		assert.Equal(t, false, flags["enable-automation"])
		assert.Equal(t, true, flags["headless"])
		assert.Equal(t, true, flags["disable-gpu"])
		assert.Equal(t, false, flags["ignore-certificate-errors"])
		assert.Equal(t, "AutomationControlled", flags["disable-blink-features"])
	})

	t.Run("HeadedKeepsGPU", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{Headless: false})
		assert.Equal(t, false, flags["headless"])
		assert.Equal(t, false, flags["disable-gpu"])
	})

	t.Run("IgnoreTLSErrors", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{IgnoreTLSErrors: true})
		assert.Equal(t, true, flags["ignore-certificate-errors"])
	})

	t.Run("CustomArgs", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{
			Headless: true,
			Args:     []string{"--lang=de-DE", "mute-audio", "--headless=new", "--", "proxy-server=http://p:8080"},
		})
		assert.Equal(t, "de-DE", flags["lang"])
		assert.Equal(t, true, flags["mute-audio"])
		assert.Equal(t, "new", flags["headless"], "args override built-in flags")
		assert.Equal(t, "http://p:8080", flags["proxy-server"])
		assert.NotContains(t, flags, "")
	})

	t.Run("ContainerFlags", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{})
		_, ok := flags["no-sandbox"]
		assert.Equal(t, runtime.GOOS == "linux", ok)
	})
}

func TestBuildAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)
	cfg := config.BrowserConfig{Headless: true}
	flags := len(allocatorFlags(cfg))
	assert.Len(t, buildAllocatorOptions(cfg), base+flags)

	cfg.ExecPath = "/opt/chrome/chrome"
	cfg.Viewport = map[string]int{"width": 800, "height": 600}
	assert.Len(t, buildAllocatorOptions(cfg), base+flags+2)

	cfg.Viewport = map[string]int{"width": 800}
	assert.Len(t, buildAllocatorOptions(cfg), base+flags+1, "an incomplete viewport is ignored")
}
