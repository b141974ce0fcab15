package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/imaging"
)

func gray(v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func writeStack(t *testing.T, fs afero.Fs, dir string) {
	t.Helper()
	depth := image.NewGray(image.Rect(0, 0, 2, 2))
	depth.Pix = []uint8{255, 0, 0, 255}
	files := map[string]image.Image{
		"depthmap.png": depth,
		"near.png":     gray(10),
		"far.png":      gray(20),
	}
	for name, img := range files {
		if err := imaging.SavePNG(fs, filepath.Join(dir, name), img); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPackInfoExtract(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeStack(t, fs, "/stack")
	ctx := context.Background()

	if err := run(ctx, fs, nil, "pack", []string{"-q", "-compression", "zstd", "/stack", "/out.gc"}); err != nil {
		t.Fatalf("pack error = %v", err)
	}

	var out bytes.Buffer
	if err := run(ctx, fs, &out, "info", []string{"/out.gc"}); err != nil {
		t.Fatalf("info error = %v", err)
	}
	for _, want := range []string{"simple_array_stack", "compression: zstd", "lookup:      2x2, 2 distinct keys", "frames:      2"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("info output missing %q:\n%s", want, out.String())
		}
	}

	if err := run(ctx, fs, nil, "extract", []string{"/out.gc", "/extracted"}); err != nil {
		t.Fatalf("extract error = %v", err)
	}
	for _, name := range []string{"0.png", "1.png", "depthmap.png"} {
		if ok, _ := afero.Exists(fs, filepath.Join("/extracted", name)); !ok {
			t.Errorf("extract did not write %s", name)
		}
	}
}

func TestPackImageArrayStack(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeStack(t, fs, "/stack")
	ctx := context.Background()

	if err := run(ctx, fs, nil, "pack", []string{"-q", "-type", "image_array_stack", "/stack", "/out.gc"}); err != nil {
		t.Fatalf("pack error = %v", err)
	}
	var out bytes.Buffer
	if err := run(ctx, fs, &out, "info", []string{"/out.gc"}); err != nil {
		t.Fatalf("info error = %v", err)
	}
	if !strings.Contains(out.String(), "type:        image_array_stack") {
		t.Errorf("info output = %s", out.String())
	}
}

func TestPackColor(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()
	if err := imaging.SavePNG(fs, "/photo.png", gray(40)); err != nil {
		t.Fatal(err)
	}

	if err := run(ctx, fs, nil, "color", []string{"-type", "rescaled_color_image", "/photo.png", "/photo.gc"}); err != nil {
		t.Fatalf("color error = %v", err)
	}
	var out bytes.Buffer
	if err := run(ctx, fs, &out, "info", []string{"/photo.gc"}); err != nil {
		t.Fatalf("info error = %v", err)
	}
	for _, want := range []string{"type:        rescaled_color_image", "frames:      1", "frame size:  2x2"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("info output missing %q:\n%s", want, out.String())
		}
	}

	if err := run(ctx, fs, nil, "color", []string{"-type", "sepia", "/photo.png", "/bad.gc"}); err == nil {
		t.Error("color with an unknown type should fail")
	}
}

func TestRunErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	tests := []struct {
		name  string
		cmd   string
		args  []string
		usage bool
	}{
		{"Unknown command", "unpack", nil, true},
		{"Pack missing output", "pack", []string{"/stack"}, true},
		{"Pack plain file", "pack", []string{"/file.txt", "/out.gc"}, false},
		{"Info missing file", "info", []string{"/none.gc"}, false},
		{"Lytro without focus folder", "lytro", []string{"/depth", "/out.gc"}, true},
		{"Color missing output", "color", []string{"/photo.png"}, true},
		{"Color missing image", "color", []string{"/photo.png", "/out.gc"}, false},
	}
	afero.WriteFile(fs, "/file.txt", []byte("x"), 0644)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(ctx, fs, &bytes.Buffer{}, tt.cmd, tt.args)
			if err == nil {
				t.Fatal("expected an error")
			}
			if errors.Is(err, errUsage) != tt.usage {
				t.Errorf("run() error = %v; usage error = %v", err, tt.usage)
			}
		})
	}
}
