package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/floatbase/internal/api"
	"github.com/banshee-data/floatbase/internal/config"
	"github.com/banshee-data/floatbase/internal/fusion"
	"github.com/banshee-data/floatbase/internal/monitoring"
	"github.com/banshee-data/floatbase/internal/pipeline"
	"github.com/banshee-data/floatbase/internal/sensorio"
	"github.com/banshee-data/floatbase/internal/telemetry"
	"github.com/banshee-data/floatbase/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Estimator configuration (JSON)")
	input       = flag.String("input", "", "Recorded frames, one JSON object per line")
	port        = flag.String("port", "", "Serial device streaming JSON frames")
	baud        = flag.Int("baud", sensorio.DefaultBaudRate, "Serial baud rate")
	dbPath      = flag.String("db", "", "Telemetry database (empty disables recording)")
	listen      = flag.String("listen", ":8080", "HTTP listen address (empty disables)")
	grpcListen  = flag.String("grpc", "", "gRPC health listen address (empty disables)")
	pace        = flag.Bool("pace", false, "Replay frames at the configured cycle period")
	hold        = flag.Bool("hold", false, "Keep serving after the input is exhausted")
	listPorts   = flag.Bool("list-ports", false, "List serial devices and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
	verbose     = flag.Bool("v", false, "Log every published event")
)

type frameSource interface {
	sensorio.Source
	Close() error
}

func openSource(inputPath, portPath string, baudRate int) (frameSource, string, error) {
	switch {
	case inputPath != "" && portPath != "":
		return nil, "", errors.New("-input and -port are mutually exclusive")
	case inputPath != "":
		f, err := os.Open(inputPath)
		if err != nil {
			return nil, "", err
		}
		return sensorio.NewJSONLinesSource(f), inputPath, nil
	case portPath != "":
		src, err := sensorio.OpenSerial(portPath, sensorio.PortOptions{BaudRate: baudRate})
		if err != nil {
			return nil, "", err
		}
		return src, portPath, nil
	default:
		return nil, "", errors.New("one of -input or -port is required")
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("floatbase"))
		return
	}
	if *listPorts {
		ports, err := sensorio.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	monitoring.SetVerbose(*verbose)

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run owns every resource it opens; they are released on each return path.
func run() error {
	fileCfg, err := config.LoadEstimatorConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := fusion.FromConfig(fileCfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	observer, err := fusion.NewObserver(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create observer: %w", err)
	}

	var grpcLis net.Listener
	if *grpcListen != "" {
		grpcLis, err = net.Listen("tcp", *grpcListen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", *grpcListen, err)
		}
		defer grpcLis.Close()
	}

	src, sourceName, err := openSource(*input, *port, *baud)
	if err != nil {
		return fmt.Errorf("failed to open frame source: %w", err)
	}
	defer src.Close()

	health := api.NewHealth()
	runCfg := pipeline.Config{Source: src, Observer: observer, Health: health}
	if *pace {
		runCfg.Pace = fileCfg.GetCyclePeriod()
	}

	if *dbPath != "" {
		store, err := telemetry.Open(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to open telemetry database: %w", err)
		}
		defer store.Close()
		runID, err := store.StartRun(sourceName, fileCfg)
		if err != nil {
			return fmt.Errorf("failed to start run: %w", err)
		}
		log.Printf("recording run %s into %s", runID, *dbPath)
		runCfg.Sink = store.Sink(runID)
	}

	runner, err := pipeline.NewRunner(runCfg)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// estimation loop; cancelling ctx also closes the source
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil {
			log.Printf("pipeline stopped: %v", err)
			stop()
			return
		}
		st := runner.Stats()
		log.Printf("pipeline done: frames=%d faults=%d overruns=%d", st.Frames, st.Faults, st.Overruns)
		if !*hold {
			stop()
		}
	}()

	if *listen != "" {
		var solver api.SolverControl
		if s := observer.Solver(); s != nil {
			solver = s
		}
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(api.NewServer(observer, solver).ServeMux()),
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("HTTP server error: %v", err)
					stop()
				}
			}()

			<-ctx.Done()
			log.Println("shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
			}
		}()
	}

	if grpcLis != nil {
		grpcServer := api.NewGRPCServer(health)

		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				<-ctx.Done()
				grpcServer.Stop()
			}()
			if err := grpcServer.Serve(grpcLis); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
	}

	wg.Wait()
	log.Printf("floatbase stopped in state %s", observer.State())
	return nil
}
