package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rubot-data/signpilot/internal/api"
	"github.com/rubot-data/signpilot/internal/bus"
	"github.com/rubot-data/signpilot/internal/config"
	"github.com/rubot-data/signpilot/internal/db"
	"github.com/rubot-data/signpilot/internal/drive"
	"github.com/rubot-data/signpilot/internal/fsutil"
	"github.com/rubot-data/signpilot/internal/odom"
	"github.com/rubot-data/signpilot/internal/signs"
	"github.com/rubot-data/signpilot/internal/timeutil"
	"github.com/rubot-data/signpilot/internal/vision"
)

var (
	devMode       = flag.Bool("dev", false, "Run in dev mode (mock odometry, fixture frames)")
	listen        = flag.String("listen", ":8080", "Listen address")
	configPath    = flag.String("config", "", "Path to JSON config file")
	odomPort      = flag.String("odom-port", "/dev/ttyUSB0", "Odometry serial port (ignored in dev mode)")
	framesDir     = flag.String("frames-dir", "fixtures/frames", "Fixture frame directory (dev mode only)")
	migrationsDir = flag.String("migrations", "migrations", "Migrations directory (migrate subcommand)")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
	}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Subcommands run against the opened database and exit.
	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "migrate":
			runMigrateCommand(database, args[1:], *migrationsDir)
			return
		default:
			log.Fatalf("Unknown command: %s", args[0])
		}
	}

	osfs := fsutil.OSFileSystem{}

	labels, err := signs.LoadLabels(osfs, cfg.GetLabelsPath())
	if err != nil {
		log.Fatalf("Failed to load labels: %v", err)
	}
	log.Printf("loaded %d labels from %s", len(labels), cfg.GetLabelsPath())

	classifier, err := signs.LoadModel(osfs, cfg.GetModelPath())
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}

	if err := vision.EnsureCaptureDirs(osfs, cfg.GetCaptureDir(), labels); err != nil {
		log.Fatalf("Failed to create capture dirs: %v", err)
	}

	b := bus.New()
	defer b.Close()

	pipeline := vision.NewPipeline(vision.PipelineConfig{
		Classifier:      classifier,
		Publisher:       b,
		Clock:           timeutil.RealClock{},
		DebugInterval:   cfg.GetDebugInterval(),
		CaptureInterval: cfg.GetCaptureInterval(),
	})

	state := drive.NewCommandState()
	loop := drive.NewLoop(drive.LoopConfig{
		State:     state,
		Publisher: b,
		Tick:      cfg.GetTickInterval(),
		Tuning: &drive.Tuning{
			ForwardSpeed: cfg.GetForwardSpeed(),
			TurnRate:     cfg.GetTurnRate(),
		},
		ThrottleWindow: cfg.GetLogThrottleWindow(),
	})

	var source *odom.Source
	if *devMode {
		source = odom.NewMockSource("0.00,0.00,0.00", 500*time.Millisecond, b)
	} else {
		source, err = odom.OpenSource(*odomPort, odom.PortOptions{}, b)
		if err != nil {
			log.Fatalf("Failed to open odometry port: %v", err)
		}
	}
	defer source.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// odometry monitor routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor odometry port: %v", err)
		}
		log.Print("odometry routine terminated")
	}()

	// perception routine: frames in, labels out
	frameID, frames := b.Subscribe(bus.TopicFrames, 8)
	toggleID, toggles := b.Subscribe(bus.TopicCaptureToggle, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer b.Unsubscribe(frameID)
		defer b.Unsubscribe(toggleID)
		if err := pipeline.Run(ctx, frames, toggles); err != nil && err != context.Canceled {
			log.Printf("perception pipeline stopped: %v", err)
		}
		log.Print("perception routine terminated")
	}()

	// behavior loop routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("behavior loop stopped: %v", err)
		}
		log.Print("behavior routine terminated")
	}()

	// route labels and poses to the behavior loop
	labelID, labelCh := b.Subscribe(bus.TopicLabels, 8)
	poseID, poseCh := b.Subscribe(bus.TopicPose, 8)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer b.Unsubscribe(labelID)
		defer b.Unsubscribe(poseID)
		for {
			select {
			case msg := <-labelCh:
				if label, ok := msg.Payload.(signs.Label); ok {
					loop.HandleLabel(label)
				}
			case msg := <-poseCh:
				if pose, ok := msg.Payload.(odom.Pose); ok {
					loop.HandlePose(pose.X, pose.Y)
				}
			case <-ctx.Done():
				log.Print("routing routine terminated")
				return
			}
		}
	}()

	// observation log routine: record detections and commands
	detID, detCh := b.Subscribe(bus.TopicDetections, 16)
	velID, velCh := b.Subscribe(bus.TopicVelocity, 16)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer b.Unsubscribe(detID)
		defer b.Unsubscribe(velID)
		for {
			select {
			case msg := <-detCh:
				if d, ok := msg.Payload.(signs.Detection); ok {
					if err := database.RecordDetection(int64(d.Frame), string(d.Label), d.Confidence); err != nil {
						log.Printf("failed to record detection: %v", err)
					}
				}
			case msg := <-velCh:
				if v, ok := msg.Payload.(drive.Velocity); ok {
					// The loop read the same cell this tick; Get here is
					// the closest available cause label.
					if err := database.RecordCommand(string(state.Get()), v.LinearX, v.AngularZ); err != nil {
						log.Printf("failed to record command: %v", err)
					}
				}
			case <-ctx.Done():
				log.Print("observation log routine terminated")
				return
			}
		}
	}()

	// dev mode: publish fixture frames at camera cadence
	if *devMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := publishFixtureFrames(ctx, b, *framesDir); err != nil {
				log.Printf("fixture frame routine stopped: %v", err)
			}
		}()
	}

	// HTTP server routine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(b, database, state, loop, pipeline).ServeMux()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Print("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Print("Graceful shutdown complete")
}

// publishFixtureFrames cycles through the encoded images in dir, publishing
// one every 200ms so the pipeline has traffic in dev mode.
func publishFixtureFrames(ctx context.Context, b *bus.Bus, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read fixtures dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("no fixture frames in %s", dir)
	}
	sort.Strings(paths)
	log.Printf("publishing %d fixture frames from %s", len(paths), dir)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			data, err := os.ReadFile(paths[seq%uint64(len(paths))])
			if err != nil {
				log.Printf("failed to read fixture frame: %v", err)
				continue
			}
			seq++
			b.Publish(bus.TopicFrames, bus.Frame{Data: data, Seq: seq, Time: time.Now()})
		}
	}
}

func runMigrateCommand(database *db.DB, args []string, migrationsDir string) {
	if len(args) < 1 {
		fmt.Println("Usage: signpilot migrate <up|down|version>")
		os.Exit(1)
	}

	switch args[0] {
	case "up":
		if err := database.MigrateUp(migrationsDir); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Print("migrations applied")
	case "down":
		if err := database.MigrateDown(migrationsDir); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Print("migration rolled back")
	case "version":
		version, dirty, err := database.MigrateVersion(migrationsDir)
		if err != nil {
			log.Fatalf("Failed to read migration version: %v", err)
		}
		log.Printf("migration version %d (dirty=%v)", version, dirty)
	default:
		fmt.Printf("Unknown migrate action: %s\n", args[0])
		os.Exit(1)
	}
}
