// Package connections builds network.Connection values from configuration.
package connections

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/pvbeek/componentnetwork/codec"
	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/ingress"
	"github.com/pvbeek/componentnetwork/natsconn"
	"github.com/pvbeek/componentnetwork/network"
)

// Kind names a transport.
type Kind string

// The supported kinds.
const (
	KindQueue Kind = "queue"
	KindHTTP  Kind = "http"
	KindNATS  Kind = "nats"
)

// Config describes one connection.
type Config struct {
	Name          string `yaml:"name"`
	Kind          Kind   `yaml:"kind"`
	Bidirectional bool   `yaml:"bidirectional"`

	// Contract names a data contract, see codec.Lookup.
	Contract string `yaml:"contract,omitempty"`

	// Port and HandlerID apply to http connections.
	Port      int    `yaml:"port,omitempty"`
	HandlerID string `yaml:"handler_id,omitempty"`

	// Subject applies to nats connections.
	Subject string `yaml:"subject,omitempty"`
}

// Deps holds the shared collaborators some kinds need.
type Deps struct {
	Ingress *ingress.Registry
	NATS    *nats.Conn
	Logger  *slog.Logger

	// IngressServer configures the servers bound for http connections.
	IngressServer ingress.ServerConfig
}

// New creates the connection described by cfg.
func New(cfg Config, deps Deps) (network.Connection, error) {
	contract, err := codec.Lookup(cfg.Contract)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Kind {
	case KindQueue, "":
		return network.MakeQueueBuilder().
			WithBidirectional(cfg.Bidirectional).
			WithContract(contract).
			WithLogger(logger).
			Build(cfg.Name), nil

	case KindHTTP:
		if deps.Ingress == nil {
			return nil, cnerrors.WrapFatal(cnerrors.ErrMissingDependency,
				"connections", "New", "ingress registry for "+cfg.Name)
		}

		port := cfg.Port
		if port == 0 {
			port = ingress.DefaultPort
		}

		if _, err := deps.Ingress.Bind(port, deps.IngressServer); err != nil {
			return nil, err
		}

		return ingress.MakeBuilder(deps.Ingress).
			WithBidirectional(cfg.Bidirectional).
			WithContract(contract).
			WithHandlerID(cfg.HandlerID).
			WithLogger(logger).
			Build(cfg.Name), nil

	case KindNATS:
		conn, err := natsconn.MakeBuilder(deps.NATS).
			WithBidirectional(cfg.Bidirectional).
			WithContract(contract).
			WithSubject(cfg.Subject).
			WithLogger(logger).
			Build(cfg.Name)
		if err != nil {
			return nil, err
		}

		return conn, nil

	default:
		return nil, cnerrors.WrapFatal(
			fmt.Errorf("%w: %q", cnerrors.ErrUnsupportedKind, cfg.Kind),
			"connections", "New", "create "+cfg.Name)
	}
}
