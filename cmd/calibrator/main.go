// Command calibrator wires up the pressure controller, turbo monitor,
// DAQ reader and, optionally, an unattended calibration run: the
// top-level construction the rest of the repository implements, per
// spec.md §6's "configuration is loaded at startup and applied to
// component constructors".
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pressurecal/busx"
	"pressurecal/config"
	"pressurecal/control"
	"pressurecal/daq"
	"pressurecal/learnstore"
	"pressurecal/model"
	"pressurecal/resultlog"
	"pressurecal/sequencer"
	"pressurecal/transport"
	"pressurecal/turbo"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	configPath := flag.String("config", "calibrator.yaml", "path to the operator configuration file")
	autoRun := flag.Bool("auto-run", false, "run the calibration sequencer to completion and exit")
	tracePath := flag.String("trace", "", "optional per-sample NDJSON debug trace path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
	}

	inletLink, err := transport.OpenSerial(cfg.InletPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.InletPort).Msg("failed to open inlet controller")
	}
	outletLink, err := transport.OpenSerial(cfg.OutletPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.OutletPort).Msg("failed to open outlet controller")
	}
	turboLink, err := transport.OpenSerial(cfg.TurboPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.TurboPort).Msg("failed to open turbo controller")
	}

	inletPort := transport.NewPort("inlet", inletLink)
	outletPort := transport.NewPort("outlet", outletLink)
	turboPort := transport.NewPort("turbo", turboLink)
	if err := inletPort.Init(cfg.FS); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize inlet controller full scale")
	}
	if err := outletPort.Init(cfg.FS); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize outlet controller full scale")
	}

	bus := busx.NewBus(32)
	controlConn := bus.NewConnection("control")
	turboConn := bus.NewConnection("turbo")
	seqConn := bus.NewConnection("sequencer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller := control.NewController(inletPort, outletPort, controlConn, cfg.FS)

	turboMonitor := turbo.NewMonitor(turboPort, turboConn)
	go turboMonitor.Run(ctx)

	log.Info().Msg("waiting for turbo pump to reach nominal speed")
	switch turboMonitor.WaitReady(ctx, controller.EStopChan()) {
	case turbo.ReadyEStop, turbo.ReadyCanceled:
		log.Fatal().Msg("turbo pump did not reach ready state")
	}

	go controller.RunPoller(ctx)
	go controller.RunAdaptiveLoop(ctx)
	go runManualCommands(ctx, controller, controlConn)
	go watchTurboReadiness(ctx, controller, controlConn)

	daqReader, err := daq.NewTCPReader(cfg.DAQAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.DAQAddr).Msg("failed to connect to DAQ reader")
	}
	go daqReader.Run(ctx)

	if *tracePath != "" {
		trace, err := resultlog.NewTraceWriter(*tracePath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open trace file")
		}
		go runTrace(ctx, controller, trace)
	}

	store, err := learnstore.Load(cfg.LearnedStore)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load learned-position store")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("shutdown requested, emergency-stopping")
		controller.EStop()
		cancel()
	}()

	if !*autoRun {
		log.Info().Msg("calibrator ready, auto-run disabled; waiting for external commands")
		<-ctx.Done()
		return
	}

	duts := make([]sequencer.DUT, 0, len(cfg.DUTs))
	for _, d := range cfg.DUTs {
		duts = append(duts, sequencer.DUT{Channel: d.Channel, FS: d.FS})
	}
	results := resultlog.NewResultWriter(cfg.ResultPath, len(duts))
	seq := sequencer.New(controller, daqReader, store, results, seqConn, cfg.FS, duts)

	log.Info().Float64("fs", cfg.FS).Int("duts", len(duts)).Msg("starting calibration run")
	if err := seq.Run(ctx); err != nil {
		log.Error().Err(err).Msg("calibration run ended with an error")
		os.Exit(1)
	}

	diagnoses := seq.Diagnose()
	for _, d := range duts {
		diag := diagnoses[d.Channel]
		if diag.Pass() {
			log.Info().Int("channel", d.Channel).Msg("DUT passed")
			continue
		}
		for _, reason := range diag.Suggestions() {
			log.Warn().Int("channel", d.Channel).Msg(reason)
		}
	}
}

// runManualCommands serves the manual operator console's one-shot
// requests (spec.md §5), replying with model.Option[string]: the error
// text on rejection, an empty Option on success.
func runManualCommands(ctx context.Context, c *control.Controller, conn *busx.Connection) {
	sub := conn.Subscribe(busx.ManualCommand())
	defer conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			cmd, ok := msg.Payload.(model.ManualCommand)
			if !ok {
				continue
			}
			var result model.Option[string]
			switch cmd.Action {
			case "set_pressure":
				if err := c.SetPressure(cmd.Arg, model.None[float64]()); err != nil {
					result = model.Some(err.Error())
				}
			case "set_outlet_position":
				if err := c.SetOutletPositionManual(cmd.Arg); err != nil {
					result = model.Some(err.Error())
				}
			case "estop":
				c.EStop()
			case "resume":
				c.Resume()
			default:
				result = model.Some("unknown action")
			}
			conn.Reply(msg, result, false)
		}
	}
}

// watchTurboReadiness keeps the controller's adaptive loop suspended
// whenever the turbo pump isn't at speed, per spec.md §4.4 responsibility
// 4 and the §2 data-flow note that adaptive control holds during pump
// unreadiness: turbo.Monitor publishes model.TurboStatus as retained
// telemetry on the same bus the controller publishes Snapshot on, so this
// just filters the shared topic for the payload type it cares about.
func watchTurboReadiness(ctx context.Context, c *control.Controller, conn *busx.Connection) {
	sub := conn.Subscribe(busx.Telemetry())
	defer conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			status, ok := msg.Payload.(model.TurboStatus)
			if !ok {
				continue
			}
			c.SetTurboReady(status.AtSpeed && !status.Standby)
		}
	}
}

func runTrace(ctx context.Context, c *control.Controller, trace *resultlog.TraceWriter) {
	defer trace.Close()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pressure, _ := c.CurrentPressure().Get()
			inletPos, outletPos := c.ValvePositions()
			ip, _ := inletPos.Get()
			op, _ := outletPos.Get()
			_ = trace.Write(resultlog.TraceSample{
				TimestampUnixNano: time.Now().UnixNano(),
				Pressure:          pressure,
				InletPos:          ip,
				OutletPos:         op,
			})
		}
	}
}
