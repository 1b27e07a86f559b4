package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"osek/internal/job"
	"osek/internal/machine"
	"osek/internal/sched"
)

func main() {
	cfgPath := flag.String("config", "os.yml", "OS configuration file")
	ticks := flag.Uint64("ticks", 100, "shut down after this many ticks (0 = run until interrupted)")
	csvPath := flag.String("csv", "", "write the event trace to this CSV file")
	mode := flag.String("mode", sched.DefaultAppMode, "application mode to start")
	verbose := flag.Bool("v", false, "log pre/post task hooks")
	flag.Parse()

	logger := log.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000000"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	// Read the configuration
	cfg, err := sched.Load(*cfgPath)
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	demo := &job.Demo{}
	tables, err := sched.Build(cfg, demo.Registry())
	if err != nil {
		log.WithError(err).WithField("path", *cfgPath).Fatal("config")
	}
	appMode, ok := tables.AppMode(*mode)
	if !ok {
		log.WithField("mode", *mode).Fatal("unknown application mode")
	}

	rec := sched.NewRecorder(logger)
	names := make([]string, len(tables.Tasks))
	for i, t := range tables.Tasks {
		names[i] = t.Name
	}
	rec.SetTaskNames(names)
	if *csvPath != "" {
		if err := rec.EnableCSVLogging(*csvPath); err != nil {
			log.WithError(err).Fatal("csv")
		}
	}
	defer rec.Close()

	m, err := machine.New(tables, demo.Bodies(),
		[]sched.Option{
			sched.WithTracer(rec),
			sched.WithHooks(machine.LogHooks{Logger: logger}),
		},
		machine.WithTickInterval(time.Duration(cfg.TickMS)*time.Millisecond),
		machine.WithTickLimit(*ticks),
		machine.WithLogger(logger),
	)
	if err != nil {
		log.WithError(err).Fatal("kernel")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.WithFields(log.Fields{
		"session":     rec.Session(),
		"tasks":       len(tables.Tasks),
		"conformance": tables.Conformance,
		"checking":    tables.Checking,
	}).Info("OS start")
	if err := m.Run(ctx, appMode); err != nil && ctx.Err() == nil {
		logger.WithError(err).Warn("OS stopped")
	}
	logger.WithFields(log.Fields{
		"ticks":      m.Kernel().Ticks(),
		"dropped":    m.Clock().Dropped(),
		"switches":   m.Switches(),
		"ready":      m.Kernel().ReadyTasks(),
		"cycles":     demo.Cycles.Load(),
		"logged":     demo.Logged.Load(),
		"heartbeats": demo.Heartbeats.Load(),
	}).Info("OS summary")
}
