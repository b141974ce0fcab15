package gcio

import (
	"bytes"
	"fmt"
	"image"
	"sort"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/MichaelMauderer/Gazer/grid"
	"github.com/MichaelMauderer/Gazer/imaging"
)

// ImageStackType is the container type whose frames are stored as PNG.
const ImageStackType = "image_array_stack"

// MaxFrameKey bounds frame keys read from a container. Frames are held in a
// slice indexed by key, so the largest key decides the allocation.
const MaxFrameKey = 1 << 16

type stackBody struct {
	LookupTable []byte            `bson:"lookup_table"`
	Frames      map[string][]byte `bson:"frames"`
}

func encodeBody(st *Stack, encodeFrame func(image.Image) ([]byte, error)) ([]byte, error) {
	lut, err := EncodeArray(st.LookupTable, DTypeFloat64)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lookup table: %w", err)
	}
	body := stackBody{LookupTable: lut, Frames: make(map[string][]byte, len(st.Frames))}
	for i, f := range st.Frames {
		if f == nil {
			continue
		}
		data, err := encodeFrame(f)
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame %d: %w", i, err)
		}
		body.Frames[strconv.Itoa(i)] = data
	}
	return bson.Marshal(body)
}

func decodeBody(data []byte, decodeFrame func([]byte) (image.Image, error)) (*Stack, error) {
	var body stackBody
	if err := bson.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	if body.LookupTable == nil {
		return nil, fmt.Errorf("%w: lookup table missing", ErrBadArray)
	}
	lut, err := DecodeArray(body.LookupTable)
	if err != nil {
		return nil, fmt.Errorf("failed to decode lookup table: %w", err)
	}

	keys := make([]int, 0, len(body.Frames))
	for k := range body.Frames {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("invalid frame key %q", k)
		}
		if i >= MaxFrameKey {
			return nil, fmt.Errorf("frame key %d exceeds the limit of %d", i, MaxFrameKey-1)
		}
		keys = append(keys, i)
	}
	sort.Ints(keys)

	var stack []image.Image
	if len(keys) > 0 {
		stack = make([]image.Image, keys[len(keys)-1]+1)
	}
	for _, i := range keys {
		img, err := decodeFrame(body.Frames[strconv.Itoa(i)])
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %d: %w", i, err)
		}
		stack[i] = img
	}
	return &Stack{LookupTable: lut, Frames: stack}, nil
}

// SimpleArrayStack stores the lookup table and frames as raw arrays. 16-bit
// grey frames are stored as uint16 and read back as image.Gray16.
type SimpleArrayStack struct{}

// Encode implements Codec.
func (SimpleArrayStack) Encode(st *Stack) ([]byte, error) {
	return encodeBody(st, func(img image.Image) ([]byte, error) {
		dtype := DTypeUint8
		if _, ok := img.(*image.Gray16); ok {
			dtype = DTypeUint16
		}
		return EncodeArray(grid.FromImage(img), dtype)
	})
}

// Decode implements Codec.
func (SimpleArrayStack) Decode(data []byte) (*Stack, error) {
	return decodeBody(data, func(b []byte) (image.Image, error) {
		g, kind, err := decodeArray(b)
		if err != nil {
			return nil, err
		}
		if kind == "u2" && g.Channels == 1 {
			return g.ToImage16(), nil
		}
		return g.ToImage(), nil
	})
}

// ImageArrayStack stores the lookup table as a raw array and frames as PNG.
type ImageArrayStack struct{}

// Encode implements Codec.
func (ImageArrayStack) Encode(st *Stack) ([]byte, error) {
	return encodeBody(st, imaging.EncodePNG)
}

// Decode implements Codec.
func (ImageArrayStack) Decode(data []byte) (*Stack, error) {
	return decodeBody(data, func(b []byte) (image.Image, error) {
		return imaging.Decode(bytes.NewReader(b))
	})
}

// ColorImage stores a single image as PNG, the whole body being the image
// file. Decoding yields a stack with a zero lookup table and Processor set.
type ColorImage struct {
	Processor string
}

// Encode implements Codec.
func (c ColorImage) Encode(st *Stack) ([]byte, error) {
	if len(st.Frames) == 0 || st.Frames[0] == nil {
		return nil, fmt.Errorf("%s needs an image", c.Processor)
	}
	return imaging.EncodePNG(st.Frames[0])
}

// Decode implements Codec.
func (c ColorImage) Decode(data []byte) (*Stack, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &Stack{
		LookupTable: grid.New(b.Dy(), b.Dx(), 1),
		Frames:      []image.Image{img},
		Processor:   c.Processor,
	}, nil
}
