// internal/grounding/annotate/brightness.go
package annotate

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/rand"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrImageDecode reports a screenshot that could not be decoded.
var ErrImageDecode = errors.New("screenshot decode failed")

// DefaultBrightness is assumed when no screenshot is supplied.
const DefaultBrightness = 100

const darkThreshold = 45

// darkLowerCap keeps the dark band non-empty on fully black pages.
const darkLowerCap = 90

// PageBrightness returns the mean perceived brightness of a screenshot on a
// 0-100 scale. The screenshot is base64, optionally wrapped in a data URL.
func PageBrightness(screenshot string) (int, error) {
	if screenshot == "" {
		return DefaultBrightness, nil
	}
	img, err := decodeScreenshot(screenshot)
	if err != nil {
		return 0, err
	}
	return Brightness(img), nil
}

func decodeScreenshot(screenshot string) (image.Image, error) {
	payload := screenshot
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, fmt.Errorf("%w: malformed data URL", ErrImageDecode)
		}
		payload = payload[comma+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return img, nil
}

// Brightness averages 0.3r + 0.59g + 0.11b over every pixel, scaled to
// 0-100 and floored. An empty image is treated as fully bright.
func Brightness(img image.Image) int {
	b := img.Bounds()
	if b.Empty() {
		return DefaultBrightness
	}
	// Weights are kept in hundredths so the floor is exact.
	var total int64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			total += 30*int64(c.R) + 59*int64(c.G) + 11*int64(c.B)
		}
	}
	return int(total / (255 * int64(b.Dx()) * int64(b.Dy())))
}

// IsDark reports whether a page brightness counts as dark.
func IsDark(brightness int) bool {
	return brightness < darkThreshold
}

// BrightnessBand returns the half-open range [lower, upper) marker
// lightness is drawn from, chosen to contrast with the page.
func BrightnessBand(brightness int) (lower, upper int) {
	if IsDark(brightness) {
		return min(100-brightness*2, darkLowerCap), 100
	}
	return 0, 100 - brightness/2
}

// RandomBrightness draws a lightness inside BrightnessBand.
func RandomBrightness(rng *rand.Rand, brightness int) int {
	lower, upper := BrightnessBand(brightness)
	return int(math.Trunc(rng.Float64()*float64(upper-lower) + float64(lower)))
}
