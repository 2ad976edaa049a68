// Command gen-frames writes synthetic camera frames for dev mode.
//
// Each frame is a solid-color JPEG keyed to one of the trained sign classes,
// so a fixture model with color-keyed weights produces a predictable label
// sequence.
//
// Usage:
//
//	go run ./cmd/tools/gen-frames [flags]
//
// Flags:
//
//	-out    Output directory (default: fixtures/frames)
//	-size   Frame edge length in pixels (default: 64)
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
)

var palette = []struct {
	name string
	fill color.RGBA
}{
	{"stop", color.RGBA{R: 220, G: 30, B: 30, A: 255}},
	{"give-way", color.RGBA{R: 230, G: 200, B: 40, A: 255}},
	{"turn-left", color.RGBA{R: 40, G: 60, B: 220, A: 255}},
	{"turn-right", color.RGBA{R: 40, G: 200, B: 220, A: 255}},
	{"nothing", color.RGBA{R: 120, G: 120, B: 120, A: 255}},
}

func main() {
	out := flag.String("out", "fixtures/frames", "Output directory")
	size := flag.Int("size", 64, "Frame edge length in pixels")
	flag.Parse()

	if err := os.MkdirAll(*out, 0755); err != nil {
		log.Fatalf("Failed to create output dir: %v", err)
	}

	for i, p := range palette {
		img := image.NewRGBA(image.Rect(0, 0, *size, *size))
		for y := 0; y < *size; y++ {
			for x := 0; x < *size; x++ {
				img.Set(x, y, p.fill)
			}
		}

		path := filepath.Join(*out, fmt.Sprintf("%02d-%s.jpg", i, p.name))
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", path, err)
		}
		if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
			f.Close()
			log.Fatalf("Failed to encode %s: %v", path, err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("Failed to close %s: %v", path, err)
		}
		log.Printf("wrote %s", path)
	}
}
