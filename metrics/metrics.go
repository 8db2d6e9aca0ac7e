// Package metrics exports connection and component activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pvbeek/componentnetwork/network"
)

const namespace = "cnet"

// ConnectionMetrics is a hook that counts connection events per connection.
type ConnectionMetrics struct {
	sends         *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	replies       *prometheus.CounterVec
	handlerErrors *prometheus.CounterVec

	reg prometheus.Registerer
}

// NewConnectionMetrics creates the connection counters and registers them
// with reg.
func NewConnectionMetrics(reg prometheus.Registerer) (*ConnectionMetrics, error) {
	m := &ConnectionMetrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "sends_total",
			Help:      "Total number of payloads sent on a connection",
		}, []string{"connection"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "deliveries_total",
			Help:      "Total number of payloads handed to a listener",
		}, []string{"connection"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "replies_total",
			Help:      "Total number of replies returned to senders",
		}, []string{"connection"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "handler_errors_total",
			Help:      "Total number of failed handler invocations",
		}, []string{"connection"}),
		reg: reg,
	}

	for _, c := range []prometheus.Collector{
		m.sends, m.deliveries, m.replies, m.handlerErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Func counts the event.
func (m *ConnectionMetrics) Func(ctx network.HookCtx) {
	named, ok := ctx.Domain.(network.Named)
	if !ok {
		return
	}

	name := named.Name()

	switch ctx.Pos {
	case network.HookPosConnSend:
		m.sends.WithLabelValues(name).Inc()
	case network.HookPosConnDeliver:
		m.deliveries.WithLabelValues(name).Inc()
	case network.HookPosConnReply:
		m.replies.WithLabelValues(name).Inc()
	case network.HookPosHandlerError:
		m.handlerErrors.WithLabelValues(name).Inc()
	}
}

// Observe attaches the hook to conn. Connections that report their queue
// depth also get request and reply depth gauges.
func (m *ConnectionMetrics) Observe(conn network.Connection) error {
	conn.AcceptHook(m)

	depth, ok := conn.(network.DepthReporter)
	if !ok {
		return nil
	}

	requests := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "connection",
		Name:        "request_queue_depth",
		Help:        "Number of requests waiting for the listener",
		ConstLabels: prometheus.Labels{"connection": conn.Name()},
	}, func() float64 {
		r, _ := depth.QueueDepth()
		return float64(r)
	})

	replies := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "connection",
		Name:        "reply_queue_depth",
		Help:        "Number of replies waiting for the sender",
		ConstLabels: prometheus.Labels{"connection": conn.Name()},
	}, func() float64 {
		_, r := depth.QueueDepth()
		return float64(r)
	})

	if err := m.reg.Register(requests); err != nil {
		return err
	}

	return m.reg.Register(replies)
}

// RegisterPendingGauge exports the size of a component's pending set.
func RegisterPendingGauge(
	reg prometheus.Registerer,
	component string,
	size func() int,
) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "source",
		Name:        "pending",
		Help:        "Number of sent values waiting for verification",
		ConstLabels: prometheus.Labels{"component": component},
	}, func() float64 {
		return float64(size())
	}))
}
