package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/floatbase/internal/report"
	"github.com/banshee-data/floatbase/internal/security"
	"github.com/banshee-data/floatbase/internal/telemetry"
	"github.com/banshee-data/floatbase/internal/version"
)

var (
	dbPath   = flag.String("db", "floatbase.db", "Telemetry database")
	runID    = flag.String("run", "", "Run id to render (default: most recent)")
	outDir   = flag.String("out", "report", "Output directory")
	format   = flag.String("format", "html", "Output format: html or png")
	title    = flag.String("title", "", "Page title for html output")
	list     = flag.Bool("list", false, "List recorded runs and exit")
	maxPoint = flag.Int("max-points", 0, "Maximum samples per html series (0 uses the default)")
	showVer  = flag.Bool("version", false, "Print version and exit")
)

var errNoRuns = errors.New("no runs recorded")

// selectRun returns want when it names a recorded run, or the most recent
// run when want is empty.
func selectRun(runs []telemetry.Run, want string) (telemetry.Run, error) {
	if len(runs) == 0 {
		return telemetry.Run{}, errNoRuns
	}
	if want == "" {
		return runs[0], nil
	}
	for _, r := range runs {
		if r.ID == want {
			return r, nil
		}
	}
	return telemetry.Run{}, fmt.Errorf("run %q not found", want)
}

func render(store *telemetry.Store, run telemetry.Run, dir, kind string) ([]string, error) {
	ticks, err := store.Ticks(run.ID)
	if err != nil {
		return nil, fmt.Errorf("load ticks: %w", err)
	}
	switch kind {
	case "png":
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return report.RenderPNG(ticks, dir)
	case "html":
		events, err := store.Events(run.ID)
		if err != nil {
			return nil, fmt.Errorf("load events: %w", err)
		}
		path, err := security.OutputPath(dir, "run-"+run.ID, ".html")
		if err != nil {
			return nil, err
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		t := *title
		if t == "" {
			t = fmt.Sprintf("floatbase run %s (%s)", run.ID, run.Source)
		}
		err = report.RenderHTML(f, ticks, events, report.HTMLOptions{Title: t, MaxPoints: *maxPoint})
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", kind)
	}
}

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String("fb-report"))
		return
	}

	store, err := telemetry.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *dbPath, err)
	}
	defer store.Close()

	runs, err := store.Runs()
	if err != nil {
		log.Fatalf("failed to list runs: %v", err)
	}
	if *list {
		for _, r := range runs {
			fmt.Printf("%s\t%s\t%s\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Source)
		}
		return
	}

	run, err := selectRun(runs, *runID)
	if err != nil {
		log.Fatalf("%v", err)
	}
	files, err := render(store, run, *outDir, *format)
	if err != nil {
		log.Fatalf("failed to render run %s: %v", run.ID, err)
	}
	for _, f := range files {
		log.Printf("wrote %s", f)
	}
}
