// Command gcpack converts between focal stacks on disk and gc containers.
//
//	gcpack pack [-type T] [-compression C] [-depth NAME] <folder|archive> <out.gc>
//	gcpack extract [-reveal] <in.gc> <folder>
//	gcpack info <in.gc>
//	gcpack lytro [-threshold F] -focus <folder> [-base NAME] <depth-folder> <out.gc>
//	gcpack color [-type T] [-compression C] <image> <out.gc>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/colorscene"
	"github.com/MichaelMauderer/Gazer/gcio"
	"github.com/MichaelMauderer/Gazer/imaging"
	"github.com/MichaelMauderer/Gazer/importer"
	"github.com/MichaelMauderer/Gazer/platform"
	"github.com/MichaelMauderer/Gazer/scene"
)

var errUsage = errors.New("usage")

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s <pack|extract|info|lytro|color> [flags] args...\n", filepath.Base(os.Args[0]))
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, afero.NewOsFs(), os.Stdout, os.Args[1], os.Args[2:])
	if errors.Is(err, errUsage) {
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func run(ctx context.Context, fs afero.Fs, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "pack":
		return packCmd(ctx, fs, args)
	case "extract":
		return extractCmd(fs, args)
	case "info":
		return infoCmd(fs, out, args)
	case "lytro":
		return lytroCmd(ctx, fs, args)
	case "color":
		return colorCmd(fs, args)
	default:
		return errUsage
	}
}

func logProgress(p importer.Progress) {
	log.Printf("[%s] %.0f%% %s", p.Stage, p.Percent, p.Message)
}

func packCmd(ctx context.Context, fs afero.Fs, args []string) error {
	flags := flag.NewFlagSet("pack", flag.ContinueOnError)
	typ := flags.String("type", scene.Type, "container type: "+scene.Type+" | "+gcio.ImageStackType)
	compression := flags.String("compression", gcio.CompressionGzip, "body compression: none | gzip | zstd")
	depthName := flags.String("depth", importer.DefaultDepthMapName, "depth map file name inside the folder")
	quiet := flags.Bool("q", false, "no progress output")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		return errUsage
	}
	in, outPath := flags.Arg(0), flags.Arg(1)

	opts := importer.Options{DepthMapName: *depthName, TempDir: platform.GetTempDir()}
	if !*quiet {
		opts.Progress = logProgress
	}

	var (
		data scene.DOFData
		err  error
	)
	if isDir, _ := afero.IsDir(fs, in); isDir {
		data, err = importer.DirToDOFData(ctx, fs, in, opts)
	} else if importer.IsArchivePath(in) {
		data, err = importer.ArchiveToDOFData(ctx, fs, in, opts)
	} else {
		return fmt.Errorf("%s is neither a folder nor a supported archive (%s)", in, strings.Join(importer.ArchiveExtensions, ", "))
	}
	if err != nil {
		return err
	}

	s, err := scene.FromDOFData(data, nil)
	if err != nil {
		return err
	}
	if err := gcio.WriteFile(fs, outPath, s, gcio.DefaultRegistry(), gcio.WriteOptions{Type: *typ, Compression: *compression}); err != nil {
		return err
	}
	log.Printf("Wrote %s (%d frames)", outPath, len(s.Frames()))
	return nil
}

func extractCmd(fs afero.Fs, args []string) error {
	flags := flag.NewFlagSet("extract", flag.ContinueOnError)
	reveal := flags.Bool("reveal", false, "open the output folder when done")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		return errUsage
	}
	in, dir := flags.Arg(0), flags.Arg(1)
	if err := gcio.ExtractFileToStack(fs, in, dir, gcio.DefaultRegistry()); err != nil {
		return err
	}
	log.Printf("Extracted %s to %s", in, dir)
	if *reveal {
		if err := platform.OpenFile(dir); err != nil {
			log.Printf("Warning: failed to open %s: %v", dir, err)
		}
	}
	return nil
}

func infoCmd(fs afero.Fs, out io.Writer, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	data, err := afero.ReadFile(fs, args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	st, w, err := gcio.DecodeStack(data, gcio.DefaultRegistry())
	if err != nil {
		return err
	}
	rows, cols := st.LookupTable.Rows, st.LookupTable.Cols
	keys, _ := st.LookupTable.Unique()
	fmt.Fprintf(out, "encoder:     %s %s\n", w.Encoder, w.Version)
	fmt.Fprintf(out, "type:        %s\n", w.Type)
	fmt.Fprintf(out, "compression: %s\n", w.Compression)
	fmt.Fprintf(out, "lookup:      %dx%d, %d distinct keys\n", rows, cols, len(keys))
	fmt.Fprintf(out, "frames:      %d\n", len(st.Frames))
	if len(st.Frames) > 0 {
		b := st.Frames[0].Bounds()
		fmt.Fprintf(out, "frame size:  %dx%d\n", b.Dx(), b.Dy())
	}
	return nil
}

func lytroCmd(ctx context.Context, fs afero.Fs, args []string) error {
	flags := flag.NewFlagSet("lytro", flag.ContinueOnError)
	depthName := flags.String("depth", "depth", "depth map base name (<name>.bmp and <name>.jsn)")
	focus := flags.String("focus", "", "folder holding the rendered focus images")
	base := flags.String("base", "", "focus image base name (<base>_f_<lambda>.jpg)")
	threshold := flags.Float64("threshold", importer.DefaultPlaneThreshold, "share of pixels a depth plane needs")
	compression := flags.String("compression", gcio.CompressionGzip, "body compression: none | gzip | zstd")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 || *focus == "" {
		return errUsage
	}
	depthDir, outPath := flags.Arg(0), flags.Arg(1)

	depth, meta, err := importer.LoadDepth(fs, depthDir, *depthName)
	if err != nil {
		return err
	}
	renderer := importer.FocusDir{Fs: fs, Dir: *focus, Base: *base}
	data, err := importer.LytroStack(ctx, depth, meta, *threshold, renderer)
	if err != nil {
		return err
	}
	s, err := scene.FromDOFData(data, nil)
	if err != nil {
		return err
	}
	if err := gcio.WriteFile(fs, outPath, s, gcio.DefaultRegistry(), gcio.WriteOptions{Compression: *compression}); err != nil {
		return err
	}
	log.Printf("Wrote %s (%d focal planes)", outPath, len(data.Frames))
	return nil
}

func colorCmd(fs afero.Fs, args []string) error {
	flags := flag.NewFlagSet("color", flag.ContinueOnError)
	typ := flags.String("type", colorscene.TypeHistogram, "scene type: "+strings.Join(colorscene.Types(), " | "))
	compression := flags.String("compression", gcio.CompressionNone, "body compression: none | gzip | zstd")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		return errUsage
	}
	in, outPath := flags.Arg(0), flags.Arg(1)

	img, err := imaging.Load(fs, in)
	if err != nil {
		return err
	}
	p, err := colorscene.New(*typ, img, colorscene.DefaultWindow)
	if err != nil {
		return err
	}
	s := scene.NewProcessed(p, nil)
	if err := gcio.WriteFile(fs, outPath, s, gcio.DefaultRegistry(), gcio.WriteOptions{Compression: *compression}); err != nil {
		return err
	}
	b := img.Bounds()
	log.Printf("Wrote %s (%s, %dx%d)", outPath, *typ, b.Dx(), b.Dy())
	return nil
}
