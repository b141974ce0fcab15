// Package renderer holds the viewer's embedded HTML templates and the HTTP
// middleware shared by its handlers.
package renderer

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	templates *template.Template
	once      sync.Once
)

// --------------------------------------------------------------------
// Template embedding
// --------------------------------------------------------------------

//go:embed templates/*.go.html
var templatesFS embed.FS

const templateGlob = "templates/*.go.html"

// formatTime is a helper function that can be called from templates.
// Example usage in template: {{ formatTime .CreatedAt }}
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("Jan 2, 2006 15:04:05")
}

// formatPercent renders a 0..100 progress value.
func formatPercent(p float64) string {
	return fmt.Sprintf("%.0f%%", p)
}

// stateClass turns an import state into a CSS class, e.g. "import-inprogress".
func stateClass(state fmt.Stringer) string {
	return "import-" + strings.ToLower(state.String())
}

// cancellable reports whether an import in state can still be cancelled.
func cancellable(state fmt.Stringer) bool {
	switch state.String() {
	case "Pending", "InProgress":
		return true
	}
	return false
}

// jsonFunc marshals an object to JSON for use in templates
func jsonFunc(v interface{}) (template.JS, error) {
	a, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return template.JS(a), nil
}

// initTemplates initializes the templates. Called only once.
func initTemplates() *template.Template {
	tmpl, err := template.New("").
		Funcs(template.FuncMap{
			"formatTime":    formatTime,
			"formatPercent": formatPercent,
			"stateClass":    stateClass,
			"cancellable":   cancellable,
			"json":          jsonFunc,
		}).
		ParseFS(templatesFS, templateGlob)
	if err != nil {
		log.Fatalf("Error parsing embedded templates: %v", err)
	}
	return tmpl
}

// Templates returns the singleton instance of the parsed templates.
func Templates() *template.Template {
	once.Do(func() { templates = initTemplates() })
	return templates
}

// --------------------------------------------------------------------
// Middleware helpers
// --------------------------------------------------------------------

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func Logger(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Println(time.Since(start), r.Method, r.URL.Path, rec.status)
	}
}

func CORS(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enableCors(&w)
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	}
}

// ApplyMiddlewares wraps handler with CORS and request logging.
func ApplyMiddlewares(handler http.HandlerFunc) http.HandlerFunc {
	return Logger(CORS(handler))
}

func enableCors(w *http.ResponseWriter) {
	h := (*w).Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, Content-Length")
	h.Set("Access-Control-Expose-Headers", "Content-Length")
}
