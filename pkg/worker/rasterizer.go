// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
)

// RenderOptions carries the pixel parameters of one rasterization.
type RenderOptions struct {
	Width     int
	Height    int
	ImageType string
	Grayscale bool
	BitDepth  int
	Rotate    int
}

// Rasterizer turns rendered HTML into encoded image bytes. The pipeline
// receives one at construction; tests inject a stub.
type Rasterizer interface {
	Rasterize(ctx context.Context, html string, opts RenderOptions) ([]byte, error)
}

// EnvBrowserPath overrides the headless browser binary.
const EnvBrowserPath = "C2I_BROWSER_PATH"

const defaultBrowserPath = "chromium"

// BrowserRasterizer shells out to a headless Chromium for the screenshot,
// then applies rotation, grayscale, and encoding in-process.
type BrowserRasterizer struct {
	binary string
}

// NewBrowserRasterizer creates a rasterizer using the binary from
// C2I_BROWSER_PATH, falling back to "chromium" on PATH.
func NewBrowserRasterizer() *BrowserRasterizer {
	binary := os.Getenv(EnvBrowserPath)
	if binary == "" {
		binary = defaultBrowserPath
	}
	return &BrowserRasterizer{binary: binary}
}

// Rasterize writes the HTML to a scratch file, screenshots it at the
// configured extents, and post-processes the pixels.
func (r *BrowserRasterizer) Rasterize(ctx context.Context, html string, opts RenderOptions) ([]byte, error) {
	scratch, err := os.MkdirTemp("", "calendar2image-raster-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	pagePath := filepath.Join(scratch, "page.html")
	if err := os.WriteFile(pagePath, []byte(html), 0o600); err != nil {
		return nil, fmt.Errorf("writing page: %w", err)
	}
	shotPath := filepath.Join(scratch, "shot.png")

	cmd := exec.CommandContext(ctx, r.binary,
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--hide-scrollbars",
		"--default-background-color=FFFFFFFF",
		fmt.Sprintf("--window-size=%d,%d", opts.Width, opts.Height),
		"--screenshot="+shotPath,
		"file://"+pagePath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("headless browser failed: %w (stderr: %s)", err, stderr.String())
	}

	shot, err := os.ReadFile(shotPath)
	if err != nil {
		return nil, fmt.Errorf("reading screenshot: %w", err)
	}
	return Postprocess(shot, opts)
}

// Postprocess decodes a PNG screenshot and applies rotation, grayscale
// quantization, and the target encoding.
func Postprocess(pngData []byte, opts RenderOptions) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}

	img := rotate(src, opts.Rotate)
	if opts.Grayscale {
		img = grayscale(img, opts.BitDepth)
	}

	var out bytes.Buffer
	switch opts.ImageType {
	case "jpg":
		if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("encoding jpg: %w", err)
		}
	default:
		if err := png.Encode(&out, img); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	}
	return out.Bytes(), nil
}

// rotate turns the image clockwise by 0, 90, 180 or 270 degrees.
func rotate(src image.Image, degrees int) image.Image {
	if degrees%360 == 0 {
		return src
	}
	b := src.Bounds()

	var dst *image.RGBA
	switch degrees % 360 {
	case 90, 270:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	default:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px, py := x-b.Min.X, y-b.Min.Y
			switch degrees % 360 {
			case 90:
				dst.Set(b.Dy()-1-py, px, src.At(x, y))
			case 180:
				dst.Set(b.Dx()-1-px, b.Dy()-1-py, src.At(x, y))
			case 270:
				dst.Set(py, b.Dx()-1-px, src.At(x, y))
			}
		}
	}
	return dst
}

// grayscale converts to gray, quantized to 2^bitDepth levels for bit depths
// below 8. E-paper targets typically use 1 or 4.
func grayscale(src image.Image, bitDepth int) image.Image {
	b := src.Bounds()
	dst := image.NewGray(b)

	levels := 256
	if bitDepth >= 1 && bitDepth < 8 {
		levels = 1 << bitDepth
	}
	step := 255.0 / float64(levels-1)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(src.At(x, y)).(color.Gray)
			if levels < 256 {
				quant := float64(int(float64(g.Y)/step+0.5)) * step
				g.Y = uint8(quant + 0.5)
			}
			dst.SetGray(x, y, g)
		}
	}
	return dst
}
