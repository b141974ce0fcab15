// Package gcio reads and writes gc container files.
//
// A container is a BSON document
//
//	{encoder, version, compression, type, data}
//
// where data is the (optionally compressed) body produced by the codec
// registered for type.
package gcio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/MichaelMauderer/Gazer/colorscene"
	"github.com/MichaelMauderer/Gazer/frames"
	"github.com/MichaelMauderer/Gazer/grid"
	"github.com/MichaelMauderer/Gazer/interpolator"
	"github.com/MichaelMauderer/Gazer/lookup"
	"github.com/MichaelMauderer/Gazer/scene"
)

// Values written into the wrapper.
const (
	EncoderName = "gazer"
	Version     = "0.1"
)

var (
	// ErrUnknownType is returned when no codec is registered for a container type.
	ErrUnknownType = errors.New("unknown container type")
	// ErrNotFound is returned when a scene source does not exist.
	ErrNotFound = errors.New("scene not found")
)

// Wrapper is the outer container document.
type Wrapper struct {
	Encoder     string `bson:"encoder"`
	Version     string `bson:"version"`
	Compression string `bson:"compression"`
	Type        string `bson:"type"`
	Data        []byte `bson:"data"`
}

// Stack is the decoded content of a container: a lookup table and frames
// ordered by key. Processor names the colorscene type of a still image
// container and is empty for image stacks.
type Stack struct {
	LookupTable *grid.Grid
	Frames      []image.Image
	Processor   string
}

// StackFromScene collects the lookup table and frames of s.
func StackFromScene(s *scene.Scene) (*Stack, error) {
	lut := s.Table().Grid()
	if lut == nil {
		return nil, errors.New("scene has no lookup table")
	}
	st := &Stack{LookupTable: lut, Frames: s.Frames()}
	if p := s.Processor(); p != nil {
		st.Processor = p.Type()
	}
	return st, nil
}

// Scene builds a scene over the stack.
func (st *Stack) Scene(interp interpolator.Interpolator) (*scene.Scene, error) {
	if st.Processor == "" {
		return scene.New(frames.NewArrayStack(st.Frames), lookup.NewArray(st.LookupTable), interp), nil
	}
	if len(st.Frames) == 0 || st.Frames[0] == nil {
		return nil, fmt.Errorf("%s container has no image", st.Processor)
	}
	p, err := colorscene.New(st.Processor, st.Frames[0], colorscene.DefaultWindow)
	if err != nil {
		return nil, err
	}
	return scene.NewProcessed(p, interp), nil
}

// Codec converts a Stack to and from a container body.
type Codec interface {
	Encode(st *Stack) ([]byte, error)
	Decode(data []byte) (*Stack, error)
}

// Registry maps container types to codecs.
type Registry map[string]Codec

// DefaultRegistry returns a new registry with the built-in codecs.
func DefaultRegistry() Registry {
	return Registry{
		scene.Type:               SimpleArrayStack{},
		ImageStackType:           ImageArrayStack{},
		colorscene.TypeHistogram: ColorImage{Processor: colorscene.TypeHistogram},
		colorscene.TypeRescaled:  ColorImage{Processor: colorscene.TypeRescaled},
	}
}

// Lookup returns the codec for typ.
func (r Registry) Lookup(typ string) (Codec, error) {
	c, ok := r[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return c, nil
}

// WriteOptions selects the container type and compression.
type WriteOptions struct {
	Type        string
	Compression string
}

// DecodeStack parses a container into its stack. On error no stack is returned.
func DecodeStack(data []byte, reg Registry) (*Stack, *Wrapper, error) {
	var w Wrapper
	if err := bson.Unmarshal(data, &w); err != nil {
		return nil, nil, fmt.Errorf("failed to decode container: %w", err)
	}
	codec, err := reg.Lookup(w.Type)
	if err != nil {
		return nil, nil, err
	}
	body, err := Decompress(w.Compression, w.Data)
	if err != nil {
		return nil, nil, err
	}
	st, err := codec.Decode(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s body: %w", w.Type, err)
	}
	return st, &w, nil
}

// Read decodes a scene from r. Decode failures never yield a partial scene.
func Read(r io.Reader, reg Registry, interp interpolator.Interpolator) (*scene.Scene, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read container: %w", err)
	}
	st, _, err := DecodeStack(data, reg)
	if err != nil {
		return nil, err
	}
	return st.Scene(interp)
}

// EncodeStack builds a container for st.
func EncodeStack(st *Stack, reg Registry, opts WriteOptions) ([]byte, error) {
	typ := opts.Type
	if typ == "" {
		typ = st.Processor
	}
	if typ == "" {
		typ = scene.Type
	}
	compression := opts.Compression
	if compression == "" {
		compression = CompressionNone
	}
	codec, err := reg.Lookup(typ)
	if err != nil {
		return nil, err
	}
	body, err := codec.Encode(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s body: %w", typ, err)
	}
	body, err = Compress(compression, body)
	if err != nil {
		return nil, err
	}
	w := Wrapper{
		Encoder:     EncoderName,
		Version:     Version,
		Compression: compression,
		Type:        typ,
		Data:        body,
	}
	out, err := bson.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode container: %w", err)
	}
	return out, nil
}

// Write encodes s into w.
func Write(w io.Writer, s *scene.Scene, reg Registry, opts WriteOptions) error {
	st, err := StackFromScene(s)
	if err != nil {
		return err
	}
	data, err := EncodeStack(st, reg, opts)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, bytes.NewReader(data))
	return err
}

// ReadFile decodes the container at path.
func ReadFile(fs afero.Fs, path string, reg Registry, interp interpolator.Interpolator) (*scene.Scene, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, reg, interp)
}

// WriteFile encodes s into a new file at path.
func WriteFile(fs afero.Fs, path string, s *scene.Scene, reg Registry, opts WriteOptions) error {
	st, err := StackFromScene(s)
	if err != nil {
		return err
	}
	data, err := EncodeStack(st, reg, opts)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
