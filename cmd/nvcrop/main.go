// Package main provides the nvcrop command line exporter.
//
// Usage:
//
//	nvcrop [flags] <source> [source2]
//
// Images are exported as stills. Videos (.mp4, .mov, .webm, .m4v, .mkv)
// are exported as MP4 with the source audio when it has any.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"github.com/maauso/nvcrop/internal/bootstrap"
	"github.com/maauso/nvcrop/internal/config"
	"github.com/maauso/nvcrop/internal/geometry"
	"github.com/maauso/nvcrop/internal/grading"
	"github.com/maauso/nvcrop/internal/job"
	"github.com/maauso/nvcrop/internal/render"
	"github.com/maauso/nvcrop/internal/still"
)

var videoExts = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".webm": true,
	".m4v":  true,
	".mkv":  true,
}

// circleFlags is one subject's crop. A non-positive radius selects the
// default circle for the source, clamped to fit it.
type circleFlags struct {
	x, y, r  float64
	rotation int
}

func (c circleFlags) resolve(w, h int) (geometry.Circle, geometry.Rotation, error) {
	rot, err := geometry.ParseRotation(c.rotation)
	if err != nil {
		return geometry.Circle{}, 0, err
	}
	if c.r <= 0 {
		rw, rh := geometry.RotatedDimensions(w, h, rot)
		fw, fh := float64(rw), float64(rh)
		return geometry.ConstrainCircle(geometry.InitialCircle(fw, fh), fw, fh), rot, nil
	}
	return geometry.Circle{X: c.x, Y: c.y, Radius: c.r}, rot, nil
}

type options struct {
	sources  []string
	output   string
	envFile  string
	verbose  bool
	format   string
	publish  bool
	subjects [2]circleFlags
	render   render.Options
	grade    grading.ColorGrading
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("nvcrop", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: nvcrop [flags] <source> [source2]")
		fs.PrintDefaults()
	}

	var (
		o                              options
		aspect, layout, edge, phosphor string
	)
	fs.StringVar(&o.output, "o", "", "output file (default: next to the source)")
	fs.StringVar(&o.envFile, "env", "", "load settings from this .env file")
	fs.BoolVar(&o.verbose, "v", false, "log progress details")
	fs.StringVar(&o.format, "format", "png", "still format (png|jpeg)")
	fs.BoolVar(&o.publish, "s3", false, "upload a finished video to S3")
	fs.Float64Var(&o.subjects[0].x, "x", 0, "circle center x in source pixels")
	fs.Float64Var(&o.subjects[0].y, "y", 0, "circle center y in source pixels")
	fs.Float64Var(&o.subjects[0].r, "r", 0, "circle radius (0 picks a centered circle)")
	fs.IntVar(&o.subjects[0].rotation, "rot", 0, "source rotation (0|90|180|270)")
	fs.Float64Var(&o.subjects[1].x, "x2", 0, "second circle center x")
	fs.Float64Var(&o.subjects[1].y, "y2", 0, "second circle center y")
	fs.Float64Var(&o.subjects[1].r, "r2", 0, "second circle radius")
	fs.IntVar(&o.subjects[1].rotation, "rot2", 0, "second source rotation")
	fs.StringVar(&aspect, "aspect", string(geometry.AspectStory), "canvas aspect (9:16|1:1)")
	fs.StringVar(&layout, "layout", string(geometry.LayoutSingle), "layout (single|dual-vertical|dual-horizontal)")
	fs.StringVar(&edge, "edge", string(render.EdgeHard), "edge style (hard|feathered)")
	fs.StringVar(&phosphor, "phosphor", string(render.PhosphorGreen), "feathered glow color (green|white)")
	fs.Float64Var(&o.grade.Brightness, "brightness", 1, "brightness (0.5-1.5)")
	fs.Float64Var(&o.grade.Contrast, "contrast", 1, "contrast (0.5-2)")
	fs.Float64Var(&o.grade.Saturation, "saturation", 1, "saturation (0-2)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	o.sources = fs.Args()
	o.render = render.Options{
		Aspect:   geometry.AspectRatio(aspect),
		Layout:   geometry.Layout(layout),
		Edge:     render.EdgeStyle(edge),
		Phosphor: render.Phosphor(phosphor),
	}
	if !o.grade.IsIdentity() {
		g := o.grade
		o.render.Grading = &g
	}

	want := o.render.Layout.Subjects()
	if len(o.sources) != want {
		fs.Usage()
		return nil, fmt.Errorf("layout %q needs %d source(s), got %d", layout, want, len(o.sources))
	}
	return &o, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	var files []string
	if opts.envFile != "" {
		files = append(files, opts.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !opts.verbose {
		cfg.LogLevel = "warn"
	}
	logger := cfg.NewLoggerTo(stderr)
	slog.SetDefault(logger)

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if videoExts[strings.ToLower(filepath.Ext(opts.sources[0]))] {
		return exportVideo(ctx, deps, opts, stdout, stderr)
	}
	return exportStill(ctx, deps.Stills, opts, stdout)
}

func exportStill(ctx context.Context, stills *still.Exporter, opts *options, stdout io.Writer) error {
	subjects := make([]render.Subject, 0, len(opts.sources))
	for i, path := range opts.sources {
		img, err := still.Load(path)
		if err != nil {
			return err
		}
		subject, err := newSubject(img, opts.subjects[i])
		if err != nil {
			return err
		}
		subjects = append(subjects, subject)
	}

	res, err := stills.Export(ctx, still.Request{
		BaseName: filepath.Base(opts.sources[0]),
		Subjects: subjects,
		Options:  opts.render,
		Format:   still.Format(opts.format),
	})
	if err != nil {
		return err
	}

	out := outputPath(opts, res.Filename)
	if err := os.WriteFile(out, res.Data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(stdout, "wrote %s (%dx%d)\n", out, res.Width, res.Height)
	return nil
}

func newSubject(img image.Image, c circleFlags) (render.Subject, error) {
	b := img.Bounds()
	circle, rot, err := c.resolve(b.Dx(), b.Dy())
	if err != nil {
		return render.Subject{}, err
	}
	return render.Subject{Source: img, Circle: circle, Rotation: rot}, nil
}

func exportVideo(ctx context.Context, deps *bootstrap.Dependencies, opts *options, stdout, stderr io.Writer) error {
	src, err := deps.Processor.OpenVideo(ctx, opts.sources[0])
	if err != nil {
		return err
	}
	defer src.Close()

	circle, rot, err := opts.subjects[0].resolve(src.Width, src.Height)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(stderr),
		progressbar.OptionSetDescription("Preparing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Close()

	out, err := deps.Videos.Export(ctx, job.VideoInput{
		Source:   src,
		BaseName: filepath.Base(opts.sources[0]),
		Circle:   circle,
		Rotation: rot,
		Options:  opts.render,
		Publish:  opts.publish,
	}, func(percent int, message string) {
		bar.Describe(message)
		_ = bar.Set(percent)
	})
	if err != nil {
		return err
	}
	if out.Status != job.StatusComplete {
		return errors.New("export cancelled")
	}
	_ = bar.Finish()

	path := outputPath(opts, out.Download.Filename)
	if err := os.WriteFile(path, out.Download.Data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	audio := "no audio"
	if out.HasAudio {
		audio = "with audio"
	}
	fmt.Fprintf(stdout, "wrote %s (%s)\n", path, audio)
	if out.Download.URL != "" {
		fmt.Fprintf(stdout, "published %s\n", out.Download.URL)
	}
	return nil
}

// outputPath returns -o when set, otherwise name next to the first source.
func outputPath(opts *options, name string) string {
	if opts.output != "" {
		return opts.output
	}
	return filepath.Join(filepath.Dir(opts.sources[0]), name)
}
