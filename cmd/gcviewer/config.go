package main

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"

	"github.com/MichaelMauderer/Gazer/appconfig"
	"github.com/MichaelMauderer/Gazer/interpolator"
	"github.com/MichaelMauderer/Gazer/renderer"
)

type updateConfigRequest struct {
	Interpolator *interpolator.Options `json:"interpolator"`
	ScenesDir    string                `json:"scenesDir"`
}

// configHandler shows the active config and updates the settings that apply
// without a restart. Interpolator changes take effect for the next scene.
func configHandler(cfgPath string) http.HandlerFunc {
	return renderer.ApplyMiddlewares(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"configPath": cfgPath,
				"config":     appconfig.Get(),
			})
		case http.MethodPost:
			var req updateConfigRequest
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil || json.Unmarshal(body, &req) != nil {
				http.Error(w, "bad json", http.StatusBadRequest)
				return
			}

			oldCfg := appconfig.Get()
			newCfg := oldCfg
			if req.Interpolator != nil {
				if _, err := interpolator.New(*req.Interpolator); err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				newCfg.Interpolator = *req.Interpolator
			}
			if strings.TrimSpace(req.ScenesDir) != "" {
				newCfg.ScenesDir = strings.TrimSpace(req.ScenesDir)
			}

			savedPath, err := appconfig.SaveTo(cfgPath, newCfg)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":     "ok",
				"configPath": savedPath,
				"changed":    !reflect.DeepEqual(oldCfg, newCfg),
			})
		default:
			http.Error(w, "Use GET or POST", http.StatusMethodNotAllowed)
		}
	})
}

// browseURL turns a listen address into a URL a browser can open.
func browseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}
