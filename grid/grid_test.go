package grid

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestFromRowsRejectsRagged(t *testing.T) {
	if _, err := FromRows([][]float64{{1, 2}, {3}}); err == nil {
		t.Error("FromRows() with ragged rows should fail")
	}
}

func TestMeanAcrossChannels(t *testing.T) {
	g := New(1, 2, 3)
	g.Set(0, 1, 0, 10)
	g.Set(0, 1, 1, 20)
	g.Set(0, 1, 2, 60)

	if got := g.Mean(0, 1); got != 30 {
		t.Errorf("Mean(0, 1) = %v; want 30", got)
	}
	if got := g.Mean(0, 0); got != 0 {
		t.Errorf("Mean(0, 0) = %v; want 0", got)
	}
}

func TestNormalized(t *testing.T) {
	tests := []struct {
		name     string
		rows     [][]float64
		expected []uint8
	}{
		{"Ramp", [][]float64{{0, 1}, {2, 3}}, []uint8{0, 85, 170, 255}},
		{"Offset", [][]float64{{10, 20}}, []uint8{0, 255}},
		{"Flat", [][]float64{{7, 7}, {7, 7}}, []uint8{0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MustFromRows(tt.rows).Normalized()
			if len(got) != len(tt.expected) {
				t.Fatalf("Normalized() len = %d; want %d", len(got), len(tt.expected))
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Normalized()[%d] = %d; want %d", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestUnique(t *testing.T) {
	g := MustFromRows([][]float64{{40, 10}, {10, 25}})
	values, inverse := g.Unique()

	wantValues := []float64{10, 25, 40}
	if len(values) != len(wantValues) {
		t.Fatalf("Unique() values = %v; want %v", values, wantValues)
	}
	for i := range values {
		if values[i] != wantValues[i] {
			t.Errorf("Unique() values[%d] = %v; want %v", i, values[i], wantValues[i])
		}
	}

	want := MustFromRows([][]float64{{2, 0}, {0, 1}})
	if !inverse.Equal(want) {
		t.Errorf("Unique() inverse = %v; want %v", inverse.Data, want.Data)
	}
}

func TestUniqueNaN(t *testing.T) {
	nan := math.NaN()
	g := MustFromRows([][]float64{{nan, 5}, {nan, 1}})
	values, inverse := g.Unique()

	if len(values) != 3 || values[0] != 1 || values[1] != 5 || !math.IsNaN(values[2]) {
		t.Fatalf("Unique() values = %v; want [1 5 NaN]", values)
	}
	want := MustFromRows([][]float64{{2, 1}, {2, 0}})
	if !inverse.Equal(want) {
		t.Errorf("Unique() inverse = %v; want %v", inverse.Data, want.Data)
	}
	if !g.HasNaN() || MustFromRows([][]float64{{1}}).HasNaN() {
		t.Error("HasNaN() mismatch")
	}
}

func TestImageRoundTripGray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 10)
	}

	g := FromImage(img)
	if g.Rows != 2 || g.Cols != 3 || g.Channels != 1 {
		t.Fatalf("FromImage() shape = %dx%dx%d; want 2x3x1", g.Rows, g.Cols, g.Channels)
	}
	if got := g.At(1, 2, 0); got != 50 {
		t.Errorf("At(1, 2, 0) = %v; want 50", got)
	}

	back, ok := g.ToImage().(*image.Gray)
	if !ok {
		t.Fatal("ToImage() of single channel grid should be *image.Gray")
	}
	for i := range img.Pix {
		if back.Pix[i] != img.Pix[i] {
			t.Errorf("ToImage() pix[%d] = %d; want %d", i, back.Pix[i], img.Pix[i])
		}
	}
}

func TestFromImageRGB(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 30, G: 60, B: 90, A: 255})

	g := FromImage(img)
	if g.Channels != 3 {
		t.Fatalf("FromImage() channels = %d; want 3", g.Channels)
	}
	if got := g.Mean(0, 0); got != 60 {
		t.Errorf("Mean(0, 0) = %v; want 60", got)
	}
}

func TestToImageClamps(t *testing.T) {
	g := MustFromRows([][]float64{{-5, 300}})
	img := g.ToImage().(*image.Gray)
	if img.Pix[0] != 0 || img.Pix[1] != 255 {
		t.Errorf("ToImage() pix = %v; want [0 255]", img.Pix)
	}
}
