package viewer

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MichaelMauderer/Gazer/auth"
	"github.com/MichaelMauderer/Gazer/gaze"
	"github.com/MichaelMauderer/Gazer/gaze/wsgaze"
	"github.com/MichaelMauderer/Gazer/importqueue"
	"github.com/MichaelMauderer/Gazer/library"
	"github.com/MichaelMauderer/Gazer/renderer"
	"github.com/MichaelMauderer/Gazer/stream"
)

// JPEGQuality is used for /frame?format=jpeg.
const JPEGQuality = 85

// Server exposes a Viewer over HTTP.
type Server struct {
	Title  string
	Viewer *Viewer
	// Sink receives pointer samples from POST /gaze and /ws/gaze.
	Sink *gaze.Latest
	// Queue and Opener enable /imports. Both may be nil.
	Queue  *importqueue.Queue
	Opener *Opener
	// History enables /recent and /suggest. May be nil.
	History *sql.DB
	// Auth, when set, requires a tracker token on /ws/gaze.
	Auth *auth.Service
}

// PageData is passed to the viewer template.
type PageData struct {
	Title   string
	Width   int
	Height  int
	Status  Status
	Imports []importqueue.Job
}

// GazeRequest is the body of POST /gaze. X and Y are canvas pixels unless
// Normalized is set.
type GazeRequest struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Normalized bool    `json:"normalized"`
}

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// OpenRequest is the body of POST /imports.
type OpenRequest struct {
	Path string `json:"path"`
}

// Routes registers the viewer endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/", renderer.ApplyMiddlewares(s.homeHandler))
	mux.HandleFunc("/frame", s.frameHandler)
	mux.HandleFunc("/depth", s.depthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/gaze", renderer.CORS(http.HandlerFunc(s.gazeHandler)))
	var ws http.Handler = wsgaze.NewServer(s.Sink)
	if s.Auth != nil {
		ws = s.Auth.RequireToken(ws)
		mux.HandleFunc("/auth/token", renderer.CORS(http.HandlerFunc(s.tokenHandler)))
	}
	mux.Handle("/ws/gaze", ws)
	mux.HandleFunc("/events", stream.StreamHandler)
	mux.HandleFunc("/imports", renderer.ApplyMiddlewares(s.importsHandler))
	mux.HandleFunc("/imports/{id}/cancel", renderer.ApplyMiddlewares(s.cancelHandler))
	mux.HandleFunc("/imports/clear", renderer.ApplyMiddlewares(s.clearHandler))
	mux.HandleFunc("/recent", renderer.ApplyMiddlewares(s.recentHandler))
	mux.HandleFunc("/suggest", renderer.ApplyMiddlewares(s.suggestHandler))
	mux.HandleFunc("/health", s.healthHandler)
}

// Handler returns a mux serving all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Routes(mux)
	return mux
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	width, height := s.Viewer.Canvas().Size()
	data := PageData{
		Title:  s.Title,
		Width:  width,
		Height: height,
		Status: s.Viewer.Status(),
	}
	if s.Queue != nil {
		data.Imports = s.Queue.GetJobs()
	}
	if err := renderer.Templates().ExecuteTemplate(w, "viewer", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) frameHandler(w http.ResponseWriter, r *http.Request) {
	canvas := s.Viewer.Canvas()
	var (
		data        []byte
		err         error
		contentType = "image/png"
	)
	if r.URL.Query().Get("format") == "jpeg" {
		data, err = canvas.SnapshotJPEG(JPEGQuality)
		contentType = "image/jpeg"
	} else {
		data, err = canvas.Snapshot()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeImage(w, contentType, data)
}

func (s *Server) depthHandler(w http.ResponseWriter, r *http.Request) {
	data := s.Viewer.DepthPNG()
	if data == nil {
		http.Error(w, "no scene loaded", http.StatusNotFound)
		return
	}
	writeImage(w, "image/png", data)
}

func writeImage(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Viewer.Status())
}

func (s *Server) gazeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Use POST", http.StatusMethodNotAllowed)
		return
	}
	var req GazeRequest
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	pos := gaze.Position{X: req.X, Y: req.Y}
	if !req.Normalized {
		pos = gaze.PointerToNormalized(req.X, req.Y, s.Viewer.Canvas().DrawnRect())
	}
	s.Sink.Push(gaze.Sample{Timestamp: time.Now(), Pos: pos})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Use POST", http.StatusMethodNotAllowed)
		return
	}
	var req TokenRequest
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	tok, err := s.Auth.Login(req.Name, req.Secret)
	if errors.Is(err, auth.ErrInvalidCreds) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) importsHandler(w http.ResponseWriter, r *http.Request) {
	if s.Queue == nil {
		http.Error(w, "imports disabled", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Queue.GetJobs())
	case http.MethodPost:
		if s.Opener == nil {
			http.Error(w, "imports disabled", http.StatusNotFound)
			return
		}
		var req OpenRequest
		if err := readJSONBody(r, &req); err != nil || req.Path == "" {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		id := s.Queue.Add(req.Path, s.Opener.ImportFunc(req.Path))
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	default:
		http.Error(w, "Use GET or POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Use POST", http.StatusMethodNotAllowed)
		return
	}
	if s.Queue == nil {
		http.Error(w, "imports disabled", http.StatusNotFound)
		return
	}
	if err := s.Queue.Cancel(r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Import cancelled successfully"))
}

func (s *Server) clearHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Use POST", http.StatusMethodNotAllowed)
		return
	}
	if s.Queue == nil {
		http.Error(w, "imports disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": s.Queue.ClearFinished()})
}

func (s *Server) recentHandler(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := library.GetRecent(s.History, 25)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if items == nil {
			items = []library.SceneItem{}
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodDelete:
		path := r.URL.Query().Get("path")
		if path == "" {
			removed, err := library.ForgetMissing(s.History)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
			return
		}
		if err := library.Forget(s.History, path); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": 1})
	default:
		http.Error(w, "Use GET or DELETE", http.StatusMethodNotAllowed)
	}
}

func (s *Server) suggestHandler(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	paths, err := library.SuggestPaths(s.History, r.URL.Query().Get("q"), 10)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, paths)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"stream":  stream.GetStats(),
		"scene":   s.Viewer.Status().SceneID,
		"frames":  s.Viewer.Canvas().Presented(),
		"samples": s.Sink.Received(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func readJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, v)
}
