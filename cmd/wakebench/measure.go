package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cstatelab/wakebench/pkg/config"
	"github.com/cstatelab/wakebench/pkg/device"
	_ "github.com/cstatelab/wakebench/pkg/device/hrtimer" // Register timer device
	_ "github.com/cstatelab/wakebench/pkg/device/nic"     // Register NIC device
	"github.com/cstatelab/wakebench/pkg/engine"
	"github.com/cstatelab/wakebench/pkg/stats"
	"github.com/cstatelab/wakebench/pkg/store"
)

var (
	measureDevice     string
	measureDeviceOpts map[string]string
	measureCPU        int
	measureLDist      string
	measureCount      uint64
	measureTimeLimit  time.Duration
	measureInclude    string
	measureExclude    string
	measureKeepFilt   bool
	measureDirtyCache bool
	measureDirtySize  int
	measureCalibWin   time.Duration
	measureIntrFocus  bool
	measureForce      bool
	measureRetries    int
	measureExtend     string
	measureConfigFile string
	measureStats      bool
	measureStatsEvery time.Duration
)

func createMeasureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Run a wake latency measurement session",
		Long: `Arm a delayed-event device, let the measured CPU go idle, and record
how long the CPU takes to resume execution after the event fires.

Examples:
  # 10000 datapoints on CPU 0 with the timer device
  wakebench measure --device hrt --cpu 0 --ldist 50us,5ms --count 10000

  # Fixed launch distance, drop noisy wakes, keep the raw rows anyway
  wakebench measure --device hrt --ldist 100us --count 1000 \
    --exclude "WakeLatency > 500000" --keep-filtered

  # NIC-backed source on a card that carries no live traffic
  wakebench measure --device ndl --device-opt pci=0000:03:00.0 \
    --ldist 1ms --time-limit 2m`,
		RunE: runMeasure,
	}

	cmd.Flags().StringVarP(&measureDevice, "device", "D", "hrt", "Delayed-event device ID")
	cmd.Flags().StringToStringVar(&measureDeviceOpts, "device-opt", nil, "Backend option (key=value, e.g. pci=0000:03:00.0)")
	cmd.Flags().IntVar(&measureCPU, "cpu", 0, "Measured CPU")
	cmd.Flags().StringVarP(&measureLDist, "ldist", "l", "", "Launch distance: value or min,max range (ns/us/ms/s suffixes)")
	cmd.Flags().Uint64VarP(&measureCount, "count", "c", 0, "Target number of kept datapoints (0 = unlimited)")
	cmd.Flags().DurationVarP(&measureTimeLimit, "time-limit", "T", 0, "Wall-clock time limit (0 = unlimited)")
	cmd.Flags().StringVar(&measureInclude, "include", "", "Keep only datapoints matching this expression")
	cmd.Flags().StringVar(&measureExclude, "exclude", "", "Drop datapoints matching this expression")
	cmd.Flags().BoolVar(&measureKeepFilt, "keep-filtered", false, "Write filtered-out datapoints to the sink anyway")
	cmd.Flags().BoolVar(&measureDirtyCache, "dirty-cache", false, "Dirty the CPU cache before every cycle")
	cmd.Flags().IntVar(&measureDirtySize, "dirty-cache-size", 0, "Cache-dirtying buffer size in bytes (0 = default)")
	cmd.Flags().DurationVar(&measureCalibWin, "calib-window", 0, "Clock calibration sample window (0 = default 10s)")
	cmd.Flags().BoolVar(&measureIntrFocus, "intr-focus", false, "Capture interrupt latency as well")
	cmd.Flags().BoolVar(&measureForce, "force", false, "Override the device busy check")
	cmd.Flags().IntVar(&measureRetries, "max-retries", 0, "Per-cycle capture-fault retry budget (0 = default)")
	cmd.Flags().StringVar(&measureExtend, "extend", "", "Extend an existing session's result toward --count")
	cmd.Flags().StringVar(&measureConfigFile, "config", "", "TOML configuration file (flags override)")
	cmd.Flags().BoolVar(&measureStats, "stats", false, "Collect CPU utilization/frequency alongside the session")
	cmd.Flags().DurationVar(&measureStatsEvery, "stats-interval", 0, "Statistics sampling interval (0 = default)")

	return cmd
}

func runMeasure(cmd *cobra.Command, _ []string) error {
	cfg := config.Config{}
	if measureConfigFile != "" {
		if err := config.Load(measureConfigFile, &cfg); err != nil {
			return err
		}
	}

	applyMeasureFlags(cmd, &cfg)

	if err := cfg.Normalize(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := store.Open(getDBPath())
	if err != nil {
		return fmt.Errorf("failed to open results database: %w", err)
	}
	defer db.Close()

	// Extending a prior result: its kept rows count toward --count.
	if measureExtend != "" {
		offset, err := db.KeptCount(measureExtend)
		if err != nil {
			return err
		}
		cfg.StartOffset = offset
		fmt.Printf("Extending session %s: %d kept datapoints counted toward target\n",
			measureExtend, offset)
	}

	dev, err := device.Get(cfg.DeviceID, cfg.CPU, cfg.DeviceOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\nAvailable devices:\n", err)
		for _, info := range device.Scan() {
			fmt.Fprintf(os.Stderr, "  %-6s %s\n", info.ID, info.Description)
		}
		return err
	}

	rec, err := db.CreateSession(cfg.DeviceID, cfg.CPU, cfg.LDistMin, cfg.LDistMax)
	if err != nil {
		return err
	}

	return runSession(cfg, dev, db, rec.ID)
}

func applyMeasureFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("device") || cfg.DeviceID == "" {
		cfg.DeviceID = measureDevice
	}
	if f.Changed("device-opt") {
		cfg.DeviceOpts = measureDeviceOpts
	}
	if f.Changed("cpu") {
		cfg.CPU = measureCPU
	}
	if f.Changed("ldist") {
		cfg.LDist = measureLDist
	}
	if f.Changed("count") {
		cfg.Count = measureCount
	}
	if f.Changed("time-limit") {
		cfg.TimeLimit = measureTimeLimit
	}
	if f.Changed("include") {
		cfg.Include = measureInclude
	}
	if f.Changed("exclude") {
		cfg.Exclude = measureExclude
	}
	if f.Changed("keep-filtered") {
		cfg.KeepFiltered = measureKeepFilt
	}
	if f.Changed("dirty-cache") {
		cfg.DirtyCache = measureDirtyCache
	}
	if f.Changed("dirty-cache-size") {
		cfg.DirtyCacheSize = measureDirtySize
	}
	if f.Changed("calib-window") {
		cfg.CalibWindow = measureCalibWin
	}
	if f.Changed("intr-focus") {
		cfg.IntrFocus = measureIntrFocus
	}
	if f.Changed("force") {
		cfg.Force = measureForce
	}
	if f.Changed("max-retries") {
		cfg.MaxRetries = measureRetries
	}
	if f.Changed("stats") {
		cfg.Stats = measureStats
	}
	if f.Changed("stats-interval") {
		cfg.StatsInterval = measureStatsEvery
	}
}

func runSession(cfg config.Config, dev device.Device, db *store.DB, sessionID string) error {
	sink := db.Sink(sessionID)

	var hooks engine.StatsHooks
	if cfg.Stats {
		hooks = stats.New(cfg.CPU, cfg.StatsInterval,
			func(at time.Time, pct, mhz float64) error {
				return db.InsertStatsSample(sessionID, at, pct, mhz)
			})
	}

	session, err := engine.Start(cfg, dev, sink, hooks)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s: device %s, CPU %d, launch distance [%d, %d] ns\n",
		sessionID, cfg.DeviceID, cfg.CPU, cfg.LDistMin, cfg.LDistMax)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := session.Run(ctx)
	p := session.Progress()

	if err := db.FinishSession(sessionID, p.Kept, p.Total, p.Discarded, runErr); err != nil {
		log.Printf("failed to record session outcome: %v", err)
	}

	fmt.Printf("Done: %d kept, %d total, %d discarded, %s elapsed\n",
		p.Kept, p.Total, p.Discarded, p.Elapsed.Round(time.Millisecond))
	return runErr
}
