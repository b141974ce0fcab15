// Command gcviewer serves a gaze-contingent depth of field viewer. The page
// treats the mouse pointer as the gaze point; eye trackers can push samples
// to /gaze or /ws/gaze instead.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/afero"
	_ "modernc.org/sqlite"

	"github.com/MichaelMauderer/Gazer/appconfig"
	"github.com/MichaelMauderer/Gazer/auth"
	"github.com/MichaelMauderer/Gazer/downloads"
	"github.com/MichaelMauderer/Gazer/frames"
	"github.com/MichaelMauderer/Gazer/gaze"
	"github.com/MichaelMauderer/Gazer/gcio"
	"github.com/MichaelMauderer/Gazer/importqueue"
	"github.com/MichaelMauderer/Gazer/interpolator"
	"github.com/MichaelMauderer/Gazer/library"
	"github.com/MichaelMauderer/Gazer/stream"
	"github.com/MichaelMauderer/Gazer/viewer"
)

func initDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}
	if err := library.InitializeSchema(db); err != nil {
		log.Printf("Warning: failed to initialize database schema: %v", err)
	}

	log.Printf("Connected to SQLite database at: %s", dbPath)
	return db, nil
}

// startScene returns arg, or the last opened scene when arg is empty and that
// scene still exists.
func startScene(db *sql.DB, arg string) string {
	if arg != "" {
		return arg
	}
	last, ok, err := library.GetPref(db, library.PrefLastScene)
	if err != nil {
		log.Printf("Warning: failed to read last scene: %v", err)
		return ""
	}
	if !ok || !library.CheckFileExists(last) {
		return ""
	}
	log.Printf("Reopening %s", last)
	return last
}

// newInterpolator reads the interpolator settings at open time so changes to
// the config apply to the next scene.
func newInterpolator() interpolator.Interpolator {
	interp, err := interpolator.New(appconfig.Get().Interpolator)
	if err != nil {
		log.Printf("Warning: %v, using linear interpolation", err)
		return interpolator.NewLinear(0, 1)
	}
	return interp
}

func main() {
	configPath := flag.String("config", "", "config file (default: platform data dir)")
	addr := flag.String("addr", "", "listen address (overrides config)")
	open := flag.Bool("open", false, "open the viewer in the default browser")
	addTracker := flag.String("add-tracker", "", "register a remote tracker as name:secret and exit")
	removeTracker := flag.String("remove-tracker", "", "remove a registered tracker and exit")
	listTrackers := flag.Bool("list-trackers", false, "list registered trackers and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: gcviewer [flags] [scene.gc | folder | archive | s3://bucket/key | https://...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var (
		cfg     appconfig.Config
		cfgFile string
		err     error
	)
	if *configPath != "" {
		cfg, cfgFile, err = appconfig.LoadFrom(*configPath)
	} else {
		cfg, cfgFile, err = appconfig.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Using config: %s", cfgFile)
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	db, err := initDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	authSvc := auth.NewService(db, cfg.Auth.JWTSecret)
	if err := authSvc.InitializeSchema(); err != nil {
		log.Fatalf("Failed to initialize tracker auth: %v", err)
	}
	if handled, err := manageTrackers(authSvc, os.Stdout, *addTracker, *removeTracker, *listTrackers); err != nil {
		log.Fatalf("%v", err)
	} else if handled {
		return
	}

	// ––– import queue and runners –––
	queue := importqueue.NewQueueWithDB(db)
	log.Printf("Import queue initialized. Known imports: %d", len(queue.GetJobs()))
	runner := importqueue.NewRunner(queue, cfg.ImportConcurrency)

	// ––– gaze input –––
	var filter gaze.Filter
	if cfg.Smoothing.Enabled {
		filter = gaze.NewSmoother(cfg.Smoothing.Kalman)
		log.Println("Gaze smoothing enabled")
	}
	sink := gaze.NewLatest(filter)

	// ––– scene loading –––
	fs := afero.NewOsFs()
	reg := gcio.DefaultRegistry()
	loaders := gcio.DefaultLoaders(fs, reg, newInterpolator)
	if cfg.S3.Region != "" || cfg.S3.Endpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		src, err := gcio.NewS3Source(ctx, cfg.S3)
		cancel()
		if err != nil {
			log.Printf("Warning: S3 source disabled: %v", err)
		} else {
			loaders[gcio.SchemeS3] = src.Loader(reg, newInterpolator)
			log.Println("S3 source enabled")
		}
	}
	opener := &viewer.Opener{
		Fs:           fs,
		Loaders:      loaders,
		NewInterp:    newInterpolator,
		DepthMapName: cfg.DepthMapName,
		TempDir:      cfg.ImportTempDir,
		LazyFrames:   cfg.FrameCacheSize,
		Lookup:       cfg.Lookup,
		Downloader:   &downloads.Downloader{Fs: fs},
		History:      db,
	}

	// ––– viewer –––
	canvas := frames.NewCanvas(cfg.CanvasWidth, cfg.CanvasHeight)
	v := viewer.New(sink, canvas, time.Duration(cfg.TickMillis)*time.Millisecond)
	v.Attach(queue.Results())

	if path := startScene(db, flag.Arg(0)); path != "" {
		queue.Add(path, opener.ImportFunc(path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := v.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Viewer stopped: %v", err)
		}
	}()

	server := &viewer.Server{
		Title:   "Gazer",
		Viewer:  v,
		Sink:    sink,
		Queue:   queue,
		Opener:  opener,
		History: db,
	}
	if cfg.Auth.Enabled {
		server.Auth = authSvc
		log.Println("Tracker authentication enabled for /ws/gaze")
	}
	mux := http.NewServeMux()
	server.Routes(mux)
	mux.HandleFunc("/config", configHandler(cfgFile))

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gcviewer: %v", err)
		}
	}()
	url := browseURL(cfg.ListenAddr)
	log.Printf("Viewer listening on %s", url)
	if *open {
		if err := browser.OpenURL(url); err != nil {
			log.Printf("Warning: failed to open browser: %v", err)
		}
	}

	<-ctx.Done()
	log.Println("Shutting down viewer...")

	runner.Shutdown()
	stream.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Println("Viewer stopped")
}
