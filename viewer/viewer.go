// Package viewer drives a scene from a gaze source and serves the result to
// a browser. One goroutine (Run) owns the live scene; HTTP handlers only see
// the canvas and status snapshots.
package viewer

import (
	"context"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/MichaelMauderer/Gazer/frames"
	"github.com/MichaelMauderer/Gazer/gaze"
	"github.com/MichaelMauderer/Gazer/imaging"
	"github.com/MichaelMauderer/Gazer/importqueue"
	"github.com/MichaelMauderer/Gazer/scene"
	"github.com/MichaelMauderer/Gazer/stream"
)

// DefaultTick is the render interval used when none is configured.
const DefaultTick = 16 * time.Millisecond

// Status is a snapshot of the viewer state.
type Status struct {
	SceneID  string        `json:"scene_id,omitempty"`
	State    scene.State   `json:"state"`
	Depth    float64       `json:"depth"`
	Frame    int           `json:"frame"`
	HasFrame bool          `json:"has_frame"`
	Gaze     gaze.Position `json:"gaze"`
	Frames   int           `json:"frames"`
}

// Viewer binds a gaze source, a scene and a canvas.
type Viewer struct {
	source  gaze.Source
	canvas  *frames.Canvas
	tick    time.Duration
	swap    chan *scene.Scene
	results <-chan importqueue.Result

	// Owned by Run.
	scene     *scene.Scene
	frameKey  float64
	drawnGaze gaze.Position
	drawn     bool

	mu       sync.RWMutex
	status   Status
	depthPNG []byte
}

// New returns a viewer rendering to canvas every tick.
func New(source gaze.Source, canvas *frames.Canvas, tick time.Duration) *Viewer {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Viewer{
		source: source,
		canvas: canvas,
		tick:   tick,
		swap:   make(chan *scene.Scene, 4),
	}
}

// Attach makes Run activate every scene delivered on results. Call it
// before Run.
func (v *Viewer) Attach(results <-chan importqueue.Result) {
	v.results = results
}

// SetScene hands s to the Run goroutine.
func (v *Viewer) SetScene(s *scene.Scene) {
	v.swap <- s
}

// Canvas returns the surface frames are drawn on.
func (v *Viewer) Canvas() *frames.Canvas {
	return v.canvas
}

// Status returns the latest snapshot.
func (v *Viewer) Status() Status {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.status
}

// DepthPNG returns the PNG encoded depth image of the active scene, or nil.
func (v *Viewer) DepthPNG() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.depthPNG
}

// Run renders until ctx is done.
func (v *Viewer) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-v.swap:
			v.activate(s)
		case res := <-v.results:
			log.Printf("Import %s finished, showing scene %s", res.ID, res.Scene.ID)
			v.activate(res.Scene)
		case <-ticker.C:
			v.step()
		}
	}
}

// activate replaces the live scene and shows its first frame.
func (v *Viewer) activate(s *scene.Scene) {
	v.scene = s
	v.drawn = false
	if s == nil {
		v.replace(Status{}, nil)
		return
	}

	depthPNG, err := imaging.EncodePNG(s.DepthImage())
	if err != nil {
		log.Printf("Failed to encode depth image: %v", err)
	}

	keys := s.Manager().Keys()
	st := Status{SceneID: s.ID.String(), State: s.State(), Frames: len(keys)}
	if len(keys) > 0 {
		if img, ok := s.ImageAt(float64(keys[0])); ok {
			if err := v.canvas.Present(img); err != nil {
				log.Printf("Failed to present frame %d: %v", keys[0], err)
			} else {
				st.Frame, st.HasFrame = keys[0], true
			}
		}
	}
	v.replace(st, depthPNG)
}

// step runs one frame: newest gaze sample, depth lookup, interpolation and
// drawing when the frame changed. Processed scenes also redraw when the
// gaze moved.
func (v *Viewer) step() {
	s := v.scene
	if s == nil {
		return
	}
	if sample, ok := v.source.NewestSample(); ok {
		s.UpdateGaze(sample.Pos)
	}
	depth, ok := s.CurrentDepth()
	if !ok {
		return
	}

	st := v.Status()
	st.State = s.State()
	st.Depth = depth
	st.Gaze, _ = s.Gaze()

	key := math.Trunc(depth)
	if v.drawn && key == v.frameKey && (s.Processor() == nil || st.Gaze == v.drawnGaze) {
		v.publish(st)
		return
	}
	img, ok := s.Frame(depth)
	if !ok {
		v.publish(st)
		return
	}
	if err := v.canvas.Present(img); err != nil {
		log.Printf("Failed to present frame %v: %v", key, err)
		return
	}
	v.frameKey = key
	v.drawnGaze = st.Gaze
	v.drawn = true
	st.Frame, st.HasFrame = int(key), true
	v.publish(st)

	stream.Broadcast(stream.Message{Type: stream.TypeFrame, Msg: strconv.FormatFloat(depth, 'f', -1, 64)})
}

func (v *Viewer) publish(st Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = st
}

func (v *Viewer) replace(st Status, depthPNG []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = st
	v.depthPNG = depthPNG
}
