package augment

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// FixedNames is the non-random augmentation set, in a fixed, stable order.
var FixedNames = []string{"original", "mirror_horizontal", "mirror_vertical", "gaussian_blur"}

// Apply runs one named augmentation against the source image, always
// resizing the result back to the original dimensions. For
// "random_combo_k" names, params must come from DeriveParams using the
// same seed tuple the caller used to pick k; otherwise params is ignored.
func Apply(src image.Image, name string, params Params) (image.Image, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	switch name {
	case "original":
		return src, nil
	case "mirror_horizontal":
		return mirrorHorizontal(src), nil
	case "mirror_vertical":
		return mirrorVertical(src), nil
	case "gaussian_blur":
		return boxBlur(src, 1.0), nil
	default:
		return randomCombo(src, params, w, h)
	}
}

func randomCombo(src image.Image, p Params, origW, origH int) (image.Image, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	cropW := int(math.Round(float64(w) * p.CropRatio))
	cropH := int(math.Round(float64(h) * p.CropRatio))
	if cropW < 1 || cropH < 1 {
		return nil, fmt.Errorf("augment: degenerate crop for ratio %v", p.CropRatio)
	}
	x0 := (w - cropW) / 2
	y0 := (h - cropH) / 2
	cropRect := image.Rect(bounds.Min.X+x0, bounds.Min.Y+y0, bounds.Min.X+x0+cropW, bounds.Min.Y+y0+cropH)

	cropped := image.NewRGBA(image.Rect(0, 0, cropW, cropH))
	draw.Draw(cropped, cropped.Bounds(), src, cropRect.Min, draw.Src)

	rotated := rotate(cropped, p.RotationDeg)
	modulated := modulate(rotated, p.SaturationMul, p.BrightnessMul, p.HueShiftDeg)

	var final image.Image = modulated
	if p.HasExtraBlur {
		final = boxBlur(final, p.ExtraBlurSigma)
	}

	// Always resize back to the original dimensions.
	out := image.NewRGBA(image.Rect(0, 0, origW, origH))
	draw.CatmullRom.Scale(out, out.Bounds(), final, final.Bounds(), draw.Over, nil)
	return out, nil
}

func mirrorHorizontal(src image.Image) image.Image {
	b := src.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			mx := b.Max.X - 1 - (x - b.Min.X)
			out.Set(x, y, src.At(mx, y))
		}
	}
	return out
}

func mirrorVertical(src image.Image) image.Image {
	b := src.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		my := b.Max.Y - 1 - (y - b.Min.Y)
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, src.At(x, my))
		}
	}
	return out
}

// boxBlur approximates a Gaussian blur with a small number of box-blur
// passes, whose radius grows with sigma. Not a bit-identical reproduction
// of a true Gaussian kernel, just a visually close and fast stand-in.
func boxBlur(src image.Image, sigma float64) image.Image {
	radius := int(math.Round(sigma * 2))
	if radius < 1 {
		radius = 1
	}
	b := src.Bounds()
	cur := toRGBA(src)
	for pass := 0; pass < 3; pass++ {
		cur = boxBlurPass(cur, radius)
	}
	out := image.NewRGBA(b)
	draw.Draw(out, b, cur, cur.Bounds().Min, draw.Src)
	return out
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, src, b.Min, draw.Src)
	return out
}

func boxBlurPass(src *image.RGBA, radius int) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(b)
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sr, sg, sb, sa, n float64
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					px, py := x+dx, y+dy
					if px < 0 || py < 0 || px >= w || py >= h {
						continue
					}
					r, g, bl, a := src.At(b.Min.X+px, b.Min.Y+py).RGBA()
					sr += float64(r >> 8)
					sg += float64(g >> 8)
					sb += float64(bl >> 8)
					sa += float64(a >> 8)
					n++
				}
			}
			out.Set(b.Min.X+x, b.Min.Y+y, color.RGBA{
				R: uint8(sr / n), G: uint8(sg / n), B: uint8(sb / n), A: uint8(sa / n),
			})
		}
	}
	return out
}

// rotate performs a nearest-neighbor rotation around the image center,
// keeping the original canvas size (edges fall outside become transparent
// black, consistent with the "resize back to original dims" step that
// follows in the caller). A small angle range (±6°) keeps cropping loss
// negligible in practice.
func rotate(src image.Image, degrees float64) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(b)
	rad := degrees * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	cx, cy := float64(w)/2, float64(h)/2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			srcX := cos*dx + sin*dy + cx
			srcY := -sin*dx + cos*dy + cy
			ix, iy := int(math.Round(srcX)), int(math.Round(srcY))
			if ix < 0 || iy < 0 || ix >= w || iy >= h {
				continue
			}
			out.Set(b.Min.X+x, b.Min.Y+y, src.At(b.Min.X+ix, b.Min.Y+iy))
		}
	}
	return out
}

// modulate applies saturation/brightness multipliers and an integer-degree
// hue shift in HSV space.
func modulate(src image.Image, satMul, brightMul float64, hueShiftDeg int) image.Image {
	b := src.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := src.At(x, y).RGBA()
			h, s, v := rgbToHSV(float64(r>>8), float64(g>>8), float64(bl>>8))
			h = math.Mod(h+float64(hueShiftDeg)+360, 360)
			s = clamp01(s * satMul / 100)
			v = clamp01(v * brightMul / 100)
			nr, ng, nb := hsvToRGB(h, s*100, v*100)
			out.Set(x, y, color.RGBA{R: uint8(nr), G: uint8(ng), B: uint8(nb), A: uint8(a >> 8)})
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func rgbToHSV(r, g, bl float64) (h, s, v float64) {
	r /= 255
	g /= 255
	bl /= 255
	max := math.Max(r, math.Max(g, bl))
	min := math.Min(r, math.Min(g, bl))
	delta := max - min
	v = max * 100
	if max <= 0 {
		return 0, 0, 0
	}
	s = (delta / max) * 100
	if delta == 0 {
		h = 0
	} else if max == r {
		h = 60 * math.Mod((g-bl)/delta, 6)
	} else if max == g {
		h = 60 * ((bl-r)/delta + 2)
	} else {
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

func hsvToRGB(h, s, v float64) (r, g, b float64) {
	s /= 100
	v /= 100
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c
	var r1, g1, b1 float64
	switch {
	case h < 60:
		r1, g1, b1 = c, x, 0
	case h < 120:
		r1, g1, b1 = x, c, 0
	case h < 180:
		r1, g1, b1 = 0, c, x
	case h < 240:
		r1, g1, b1 = 0, x, c
	case h < 300:
		r1, g1, b1 = x, 0, c
	default:
		r1, g1, b1 = c, 0, x
	}
	return (r1 + m) * 255, (g1 + m) * 255, (b1 + m) * 255
}
