package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pvbeek/componentnetwork/config"
	"github.com/pvbeek/componentnetwork/connections"
	"github.com/pvbeek/componentnetwork/datarecording"
	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/idgen"
	"github.com/pvbeek/componentnetwork/ingress"
	"github.com/pvbeek/componentnetwork/logging"
	"github.com/pvbeek/componentnetwork/metrics"
	"github.com/pvbeek/componentnetwork/monitoring"
	"github.com/pvbeek/componentnetwork/network"
	"github.com/pvbeek/componentnetwork/pipeline"
)

const shutdownTimeout = 10 * time.Second

// app owns everything a command builds: the connections named by the
// configuration, the components bound to them and the servers around them.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer

	registry *prometheus.Registry
	metrics  *metrics.ConnectionMetrics
	ingress  *ingress.Registry
	nc       *nats.Conn
	recorder datarecording.DataRecorder
	monitor  *monitoring.Monitor

	conns map[string]network.Connection

	// comps are started in order and stopped in reverse order.
	comps []network.Component

	source *pipeline.Source
}

func newApp(cfg *config.Config, logger *slog.Logger, stdout io.Writer) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := metrics.NewConnectionMetrics(reg)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		stdout:   stdout,
		registry: reg,
		metrics:  m,
		ingress: ingress.NewRegistry().
			WithLogger(logger),
		conns: make(map[string]network.Connection),
	}, nil
}

// connection returns the connection called name, creating it on first use.
// An empty name gives a nil connection.
func (a *app) connection(name string) (network.Connection, error) {
	if name == "" {
		return nil, nil
	}

	if conn, found := a.conns[name]; found {
		return conn, nil
	}

	cfg, found := a.cfg.Connection(name)
	if !found {
		return nil, cnerrors.WrapInvalid(
			fmt.Errorf("%w: unknown connection %s", cnerrors.ErrInvalidConfig, name),
			"cnet", "connection", "look up "+name)
	}

	if cfg.Kind == connections.KindNATS {
		if err := a.connectNATS(); err != nil {
			return nil, err
		}
	}

	conn, err := connections.New(cfg, connections.Deps{
		Ingress: a.ingress,
		NATS:    a.nc,
		Logger:  a.logger,
		IngressServer: ingress.ServerConfig{
			RateLimit:   a.cfg.Ingress.RateLimit,
			Burst:       a.cfg.Ingress.Burst,
			CORSOrigins: a.cfg.Ingress.CORSOrigins,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := a.metrics.Observe(conn); err != nil {
		return nil, cnerrors.Wrap(err, "cnet", "connection", "observe "+name)
	}

	if a.logger.Enabled(context.Background(), slog.LevelDebug) {
		conn.AcceptHook(network.NewMsgLogger(a.logger))
	}

	a.conns[name] = conn

	return conn, nil
}

func (a *app) connectNATS() error {
	if a.nc != nil {
		return nil
	}

	url := a.cfg.NATS.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, nats.Name("cnet"))
	if err != nil {
		return cnerrors.WrapTransient(err, "cnet", "connectNATS", "connect to "+url)
	}

	a.nc = nc

	return nil
}

// buildLog adds a Log component listening on conn, with the sinks the
// configuration asks for.
func (a *app) buildLog(conn network.Connection) error {
	if conn == nil {
		return nil
	}

	builder := logging.MakeBuilder().WithLogger(a.logger)

	if a.cfg.Log.Record != "" {
		recorder, err := datarecording.New(a.cfg.Log.Record)
		if err != nil {
			return err
		}
		a.recorder = recorder

		sink, err := datarecording.NewRecorderSink(recorder)
		if err != nil {
			return err
		}
		if a.cfg.Log.SequentialIDs {
			sink.WithIDGenerator(idgen.NewSequential())
		}
		builder = builder.WithSink(sink)
	}

	if a.cfg.Log.Structured {
		builder = builder.WithSink(logging.NewSlogSink(a.logger))
	}

	if a.cfg.Log.Stdout {
		builder = builder.WithSink(logging.NewWriterSink(a.stdout))
	}

	comp, err := builder.Build("Log", conn)
	if err != nil {
		return err
	}

	a.comps = append(a.comps, comp)

	return nil
}

// buildRing adds the Source, Relay and Terminal of the ring. Without a
// forward connection the Relay answers the Source itself and no Terminal is
// built.
func (a *app) buildRing() error {
	ring := a.cfg.Ring

	names := []string{ring.Out, ring.Forward, ring.Feedback, ring.Log}
	conns := make([]network.Connection, len(names))
	for i, name := range names {
		conn, err := a.connection(name)
		if err != nil {
			return err
		}
		conns[i] = conn
	}
	out, forward, feedback, logConn := conns[0], conns[1], conns[2], conns[3]

	if err := a.buildLog(logConn); err != nil {
		return err
	}

	if forward != nil {
		terminal, err := pipeline.MakeTerminalBuilder().
			WithLogger(a.logger).
			Build("Terminal", pipeline.TerminalConnections{
				In:       forward,
				Feedback: feedback,
				Log:      logConn,
			})
		if err != nil {
			return err
		}
		a.comps = append(a.comps, terminal)
	} else if feedback != nil {
		a.logger.Warn("feedback connection has no sender without a forward connection",
			"connection", feedback.Name())
	}

	relay, err := pipeline.MakeRelayBuilder().
		WithLogger(a.logger).
		Build("Relay", pipeline.RelayConnections{
			In:      out,
			Forward: forward,
			Log:     logConn,
		})
	if err != nil {
		return err
	}
	a.comps = append(a.comps, relay)

	source, err := pipeline.MakeSourceBuilder().
		WithInterval(a.cfg.Source.Interval).
		WithCapacity(a.cfg.Source.Capacity).
		WithLimit(a.cfg.Source.Limit).
		WithLogger(a.logger).
		WithRegisterer(a.registry).
		Build("Source", pipeline.SourceConnections{
			Out:      out,
			Feedback: feedback,
			Log:      logConn,
		})
	if err != nil {
		return err
	}
	a.comps = append(a.comps, source)
	a.source = source

	return nil
}

// buildWeb adds the Echo component answering the web connection.
func (a *app) buildWeb() error {
	web := a.cfg.Web
	if web.Connection == "" {
		return cnerrors.WrapInvalid(
			fmt.Errorf("%w: web.connection is required", cnerrors.ErrInvalidConfig),
			"cnet", "buildWeb", "bind web connection")
	}

	webConn, err := a.connection(web.Connection)
	if err != nil {
		return err
	}

	logConn, err := a.connection(web.Log)
	if err != nil {
		return err
	}

	if err := a.buildLog(logConn); err != nil {
		return err
	}

	echo, err := pipeline.MakeEchoBuilder().
		WithLogger(a.logger).
		Build("ComponentWeb", pipeline.EchoConnections{
			Web: webConn,
			Log: logConn,
		})
	if err != nil {
		return err
	}
	a.comps = append(a.comps, echo)

	return nil
}

// ingressURL returns the address of the ingress server bound for the web
// connection, or "" when there is none.
func (a *app) ingressURL() string {
	cfg, found := a.cfg.Connection(a.cfg.Web.Connection)
	if !found || cfg.Kind != connections.KindHTTP {
		return ""
	}

	port := cfg.Port
	if port == 0 {
		port = ingress.DefaultPort
	}

	s, found := a.ingress.Server(port)
	if !found || s.Addr() == "" {
		return ""
	}

	return "http://" + s.Addr()
}

// start starts the components in order, then the monitor when enabled.
func (a *app) start(ctx context.Context) error {
	for _, c := range a.comps {
		if err := c.Start(ctx); err != nil {
			return err
		}
		a.logger.Debug("component started", "component", c.Name())
	}

	if !a.cfg.Monitor.Enabled {
		return nil
	}

	a.monitor = monitoring.NewMonitor().
		WithPortNumber(a.cfg.Monitor.Port).
		WithGatherer(a.registry).
		WithIngressURL(a.ingressURL()).
		WithLogger(a.logger)
	for _, c := range a.comps {
		a.monitor.RegisterComponent(c)
	}

	if _, err := a.monitor.StartServer(); err != nil {
		return err
	}

	if a.cfg.Monitor.OpenBrowser {
		if err := a.monitor.OpenInBrowser(); err != nil {
			a.logger.Warn("cannot open browser", "error", err)
		}
	}

	return nil
}

// shutdown stops everything start started, in reverse order, and flushes the
// recorder.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error

	if a.monitor != nil {
		errs = append(errs, a.monitor.Stop(ctx))
	}

	for i := len(a.comps) - 1; i >= 0; i-- {
		err := a.comps[i].Stop()
		if errors.Is(err, cnerrors.ErrNotStarted) {
			continue
		}
		errs = append(errs, err)
	}

	errs = append(errs, a.ingress.Close(ctx))

	if a.nc != nil {
		errs = append(errs, a.nc.Drain())
	}

	if a.recorder != nil {
		errs = append(errs, a.recorder.Close())
	}

	return errors.Join(errs...)
}

// serve starts the app and blocks until ctx is done.
func (a *app) serve(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		_ = a.shutdown(context.Background())
		return err
	}

	a.logger.Info("network started",
		"components", len(a.comps),
		"connections", len(a.conns))

	<-ctx.Done()

	a.logger.Info("stopping network")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return a.shutdown(shutdownCtx)
}
