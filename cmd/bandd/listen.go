package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"bandwire/pkg/bridge/foxglove"
	"bandwire/pkg/config"
	"bandwire/pkg/engine"
	"bandwire/pkg/logger"
	"bandwire/pkg/metrics"
	"bandwire/pkg/transport"
)

func runListen(args []string, stdout io.Writer, stderr io.Writer) int {
	return runPipelineCommand("listen", args, stdout, stderr, nil)
}

func runReplay(args []string, stdout io.Writer, stderr io.Writer) int {
	return runPipelineCommand("replay", args, stdout, stderr, func(cfg *config.Config) error {
		if cfg.Source.Kind != config.SourcePCAP {
			return errors.New("replay needs --pcap or source.kind = \"pcap\"")
		}
		return nil
	})
}

func runPipelineCommand(name string, args []string, stdout io.Writer, stderr io.Writer, check func(*config.Config) error) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var flags pipelineFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := flags.load(fs)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if check != nil {
		if err := check(&cfg); err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
	}

	log, err := logger.New(stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintln(stderr, "logging:", err)
		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	p := newPipeline(cfg, log)
	return exitCode(stderr, p.run(ctx, stdout, p.reporterComponent()))
}

type component func(ctx context.Context) error

// pipeline owns the receive path and its consumers for one process.
type pipeline struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	hub      *engine.Hub
	receiver *engine.Receiver
	watched  map[string]*engine.LatestSlot
}

func newPipeline(cfg config.Config, log *slog.Logger) *pipeline {
	m := metrics.New()
	hub := engine.NewHub()
	return &pipeline{
		cfg:     cfg,
		logger:  log,
		metrics: m,
		hub:     hub,
		receiver: engine.NewReceiver(hub,
			engine.WithLogger(log),
			engine.WithObserver(m),
		),
		watched: make(map[string]*engine.LatestSlot),
	}
}

// subscribe hands a named consumer its own slot and tracks its drops.
func (p *pipeline) subscribe(consumer string) *engine.LatestSlot {
	slot := p.hub.Subscribe()
	p.watched[consumer] = slot
	return slot
}

// run starts the source, the configured consumers and extra. The first
// component to return stops the others; a finite source such as a pcap
// replay therefore ends the process once it is exhausted.
func (p *pipeline) run(ctx context.Context, stdout io.Writer, extra ...component) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	components := []component{p.runSource}

	if p.cfg.Record.Path != "" {
		record, closeRecord, err := p.recordComponent(stdout)
		if err != nil {
			return err
		}
		defer closeRecord()
		components = append(components, record)
	}
	if p.cfg.Foxglove.Enabled {
		components = append(components, p.foxgloveComponent())
	}
	if p.cfg.Metrics.Addr != "" {
		addr := p.cfg.Metrics.Addr
		components = append(components, func(ctx context.Context) error {
			p.logger.Info("serving metrics", "addr", addr)
			return p.metrics.Serve(ctx, addr)
		})
	}
	components = append(components, extra...)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range components {
		g.Go(func() error {
			defer cancel()
			return c(gctx)
		})
	}
	return g.Wait()
}

func (p *pipeline) runSource(ctx context.Context) error {
	src := p.cfg.Source
	switch src.Kind {
	case config.SourceUDP:
		return transport.ListenUDP(ctx, src.UDPAddr, p.receiver.Handle,
			transport.WithUDPReadTimeout(src.ReadTimeoutDuration()),
			transport.WithUDPBufferSize(src.Buf),
			transport.WithUDPReceiveBuffer(src.RcvBuf),
			transport.WithUDPLogger(p.logger),
		)
	case config.SourceTCP:
		p.logger.Info("connecting to stream source", "addr", src.TCPAddr)
		l := transport.StartListener(ctx, src.TCPAddr, p.receiver.Handle,
			transport.WithReconnectInterval(src.ReconnectDuration()),
			transport.WithReadTimeout(src.ReadTimeoutDuration()),
			transport.WithErrorHandler(func(err error) {
				p.logger.Warn("stream source", "addr", src.TCPAddr, "err", err)
			}),
		)
		<-l.Done()
		return nil
	case config.SourcePCAP:
		opts := []transport.ReplayOption{
			transport.WithReplayPort(src.PCAPPort),
			transport.WithReplayLogger(p.logger),
		}
		if src.Realtime {
			opts = append(opts, transport.WithRealtime(src.Speed))
		}
		p.logger.Info("replaying capture", "path", src.PCAPPath, "port", src.PCAPPort, "realtime", src.Realtime)
		n, err := transport.ReplayPCAPFile(ctx, src.PCAPPath, p.receiver.Handle, opts...)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("replay: %w", err)
		}
		p.logger.Info("replay finished", "datagrams", n)
		return nil
	default:
		return fmt.Errorf("unsupported source kind %q", src.Kind)
	}
}

func (p *pipeline) recordComponent(stdout io.Writer) (component, func(), error) {
	out := stdout
	closeFn := func() {}
	if path := p.cfg.Record.Path; path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open record file: %w", err)
		}
		out = file
		closeFn = func() { _ = file.Close() }
	}

	writer := logger.NewJSONLWriter(out)
	slot := p.subscribe("record")
	interval := p.cfg.Record.IntervalDuration()
	return func(ctx context.Context) error {
		defer p.hub.Unsubscribe(slot)
		if err := writer.Consume(ctx, slot, interval); err != nil {
			return fmt.Errorf("record: %w", err)
		}
		return nil
	}, closeFn, nil
}

func (p *pipeline) foxgloveComponent() component {
	fc := p.cfg.Foxglove
	srv := foxglove.NewServer(foxglove.Config{
		WSAddr:    fc.WSAddr,
		Name:      fc.Name,
		Topic:     fc.Topic,
		RateTopic: fc.RateTopic,
		Interval:  fc.IntervalDuration(),
	}, p.hub,
		foxglove.WithStats(p.receiver.Stats),
		foxglove.WithLogger(p.logger),
	)
	return srv.Run
}

func (p *pipeline) reporterComponent() component {
	r := newReporter(p.receiver, p.subscribe("stats"), p.metrics, p.logger, p.cfg.Stats.IntervalDuration())
	r.watched = p.watched
	return r.run
}
