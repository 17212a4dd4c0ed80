package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/VishwanathaRgitgit/DeepAir/internal/api"
	"github.com/VishwanathaRgitgit/DeepAir/internal/config"
	"github.com/VishwanathaRgitgit/DeepAir/internal/console"
	"github.com/VishwanathaRgitgit/DeepAir/internal/durability"
	"github.com/VishwanathaRgitgit/DeepAir/internal/ingest"
	"github.com/VishwanathaRgitgit/DeepAir/internal/livestate"
	"github.com/VishwanathaRgitgit/DeepAir/internal/metrics"
	"github.com/VishwanathaRgitgit/DeepAir/internal/monitoring"
	"github.com/VishwanathaRgitgit/DeepAir/internal/negotiator"
	"github.com/VishwanathaRgitgit/DeepAir/internal/predict"
	"github.com/VishwanathaRgitgit/DeepAir/internal/sds011"
	"github.com/VishwanathaRgitgit/DeepAir/internal/serialport"
	"github.com/VishwanathaRgitgit/DeepAir/internal/supervisor"
	"github.com/VishwanathaRgitgit/DeepAir/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON or YAML config file (defaults apply when empty)")
	devMode     = flag.Bool("dev", false, "Run against a simulated sensor instead of a serial device")
	devInterval = flag.Duration("dev-interval", time.Second, "Frame interval of the simulated sensor")
	showVersion = flag.Bool("version", false, "Print version and exit")

	// Overrides of config file values; see configOverrides.
	ports           = flag.String("ports", "", "Comma-separated serial ports to probe (empty auto-detects)")
	listen          = flag.String("listen", ":5000", "HTTP listen address")
	csvPath         = flag.String("csv-path", "live_air_quality.csv", "CSV log path")
	sqlitePath      = flag.String("sqlite-path", "", "Optional SQLite log path")
	windowSize      = flag.Int("window-size", 30, "Number of readings kept for the live view")
	staleAfter      = flag.Duration("stale-after", 10*time.Second, "Age after which the latest reading is stale")
	consoleInterval = flag.Duration("console-interval", 0, "Redraw the terminal view at this interval (0 disables)")
	predictorName   = flag.String("predictor", "none", "Next-value predictor: none, trend or mean")
	predictorWindow = flag.Int("predictor-window", 10, "Readings the predictor looks at")
	strictFrames    = flag.Bool("strict-frames", false, "Drop frames with a bad checksum or tail instead of flagging them")
	verbose         = flag.Bool("verbose", false, "Enable debug logging")
	verboseShort    = flag.Bool("v", false, "Shorthand for -verbose")
)

type override struct {
	flag, key string
	value     func() string
}

// configOverrides maps command line flags onto config keys. Only flags
// given on the command line are applied.
var configOverrides = []override{
	{"ports", "ports", func() string { return *ports }},
	{"listen", "listen", func() string { return *listen }},
	{"csv-path", "csv_path", func() string { return *csvPath }},
	{"sqlite-path", "sqlite_path", func() string { return *sqlitePath }},
	{"window-size", "window_size", func() string { return strconv.Itoa(*windowSize) }},
	{"stale-after", "stale_after", func() string { return staleAfter.String() }},
	{"console-interval", "console_interval", func() string { return consoleInterval.String() }},
	{"predictor", "predictor", func() string { return *predictorName }},
	{"predictor-window", "predictor_window", func() string { return strconv.Itoa(*predictorWindow) }},
	{"strict-frames", "strict_frames", func() string { return strconv.FormatBool(*strictFrames) }},
	{"verbose", "verbose", func() string { return strconv.FormatBool(*verbose) }},
	{"v", "verbose", func() string { return strconv.FormatBool(*verboseShort) }},
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	monitoring.SetVerbose(cfg.GetVerbose())
	log.Printf("%s starting", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, stop, cfg))
}

func loadConfig() (*config.Config, error) {
	cfg := config.Empty()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, o := range configOverrides {
		if !set[o.flag] {
			continue
		}
		if err := cfg.Set(o.key, o.value()); err != nil {
			return nil, fmt.Errorf("-%s: %w", o.flag, err)
		}
	}
	return cfg, nil
}

// run wires the pipeline and blocks until ctx is cancelled or the sensor
// is lost for good. It returns the process exit code.
func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config) int {
	live := livestate.New(cfg.GetWindowSize())
	m := metrics.New()

	logs, adminRoutes, err := openLogs(cfg)
	if err != nil {
		log.Printf("durability: %v", err)
		return 1
	}
	defer func() {
		if err := logs.Close(); err != nil {
			log.Printf("durability: close: %v", err)
		}
	}()

	predictor, err := predict.New(cfg.GetPredictor(), cfg.GetPredictorWindow())
	if err != nil {
		log.Printf("predict: %v", err)
		return 1
	}

	policy := sds011.Permissive
	if cfg.GetStrictFrames() {
		policy = sds011.Strict
	}
	neg := &negotiator.Negotiator{
		Options:     serialport.PortOptions{BaudRate: cfg.GetBaudRate()},
		SettleDelay: cfg.GetSettleDelay(),
		Decoder:     sds011.DecoderOptions{Policy: policy, MaxQuiet: cfg.GetMaxQuiet()},
	}
	candidates := cfg.GetPorts()
	if *devMode {
		log.Printf("dev mode: simulating an SDS011 every %s", *devInterval)
		neg.Factory = serialport.FactoryFunc(func(string, serialport.PortOptions) (serialport.SerialPorter, error) {
			return serialport.NewSimulatedSensor(*devInterval, func(pm25, pm10 float64) []byte {
				return sds011.EncodeDataFrame(pm25, pm10, 0xA1B2)
			}), nil
		})
		candidates = []string{"simulated"}
	}

	sup := supervisor.New(neg, ingest.Deps{
		Live:      live,
		Log:       logs,
		Predictor: predictor,
		Metrics:   m,
	}, supervisor.Config{
		Candidates:         candidates,
		HandshakeTimeout:   cfg.GetHandshakeTimeout(),
		RediscoverAttempts: uint(cfg.GetRediscoverAttempts()),
		RediscoverDelay:    cfg.GetRediscoverDelay(),
		Ingest: ingest.Config{
			ReadTimeout: cfg.GetReadTimeout(),
			Backoff:     cfg.GetBackoff(),
		},
	})

	srv := api.NewServer(api.Options{
		Live:        live,
		StaleAfter:  cfg.GetStaleAfter(),
		Metrics:     m,
		Stats:       sup.Stats,
		AdminRoutes: adminRoutes,
	})

	var exitCode atomic.Int32
	var wg sync.WaitGroup

	// Sensor goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop()
		err := sup.Run(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, negotiator.ErrNoSensorFound):
			log.Printf("no SDS011 sensor found: %v", err)
			log.Printf("please check:")
			log.Printf("  1. sensor connected via USB")
			log.Printf("  2. USB-to-serial driver installed (CH340 or CP210x)")
			log.Printf("  3. sensor powered on")
			log.Printf("  4. try a different USB port, or pass -ports explicitly")
			exitCode.Store(1)
		default:
			log.Printf("sensor: %v", err)
			exitCode.Store(1)
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(ctx, cfg.GetListen()); err != nil {
			log.Printf("HTTP server: %v", err)
			exitCode.Store(1)
			stop()
		}
	}()

	if interval := cfg.GetConsoleInterval(); interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := console.Run(ctx, os.Stdout, live, interval, cfg.GetStaleAfter(), nil); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("console: %v", err)
			}
		}()
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return int(exitCode.Load())
}

// openLogs opens the CSV log and, when configured, the SQLite log. The
// returned routes expose the SQLite log under /debug/.
func openLogs(cfg *config.Config) (durability.Log, []func(*http.ServeMux) error, error) {
	var logs []durability.Log
	var routes []func(*http.ServeMux) error

	closeAll := func() {
		for _, l := range logs {
			l.Close()
		}
	}

	if path := cfg.GetCSVPath(); path != "" {
		csvLog, err := durability.OpenCSV(path)
		if err != nil {
			return nil, nil, err
		}
		logs = append(logs, csvLog)
		log.Printf("logging readings to %s", path)
	}
	if path := cfg.GetSQLitePath(); path != "" {
		sqliteLog, err := durability.OpenSQLite(path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		logs = append(logs, sqliteLog)
		routes = append(routes, sqliteLog.AttachAdminRoutes)
		log.Printf("logging readings to %s (session %s)", path, sqliteLog.SessionID())
	}

	all := durability.Multi(logs...)
	if err := all.EnsureHeader(); err != nil {
		all.Close()
		return nil, nil, err
	}
	return all, routes, nil
}
