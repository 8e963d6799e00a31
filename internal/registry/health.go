package registry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// HealthProber periodically calls Registry.CheckHealth for every
// registered model, mirroring the teacher router's
// updateHealthStatus/healthCheckInterval loop but driven by a ticker
// instead of being piggybacked on the request path, and publishing
// results as Prometheus gauges rather than an in-memory map only (spec
// §4.1 "periodic health-check loop", SPEC_FULL §4.1 domain stack).
type HealthProber struct {
	registry *Registry
	interval time.Duration
	timeout  int
	logger   *logrus.Logger

	healthyGauge   *prometheus.GaugeVec
	latencyGauge   *prometheus.GaugeVec
}

// NewHealthProber wires a prober that reports through the given
// Prometheus registerer.
func NewHealthProber(reg *Registry, interval time.Duration, timeoutMS int, promReg prometheus.Registerer, logger *logrus.Logger) *HealthProber {
	healthy := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "intellirouter",
		Subsystem: "registry",
		Name:      "model_healthy",
		Help:      "1 if the last health probe for a model succeeded, 0 otherwise.",
	}, []string{"model_id"})
	latency := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "intellirouter",
		Subsystem: "registry",
		Name:      "model_health_latency_ms",
		Help:      "Latency of the last health probe for a model, in milliseconds.",
	}, []string{"model_id"})
	if promReg != nil {
		promReg.MustRegister(healthy, latency)
	}

	if logger == nil {
		logger = logrus.New()
	}
	return &HealthProber{
		registry:     reg,
		interval:     interval,
		timeout:      timeoutMS,
		logger:       logger,
		healthyGauge: healthy,
		latencyGauge: latency,
	}
}

// Run blocks, probing every registered model on each tick, until ctx is
// cancelled. Callers should invoke it in its own goroutine.
func (p *HealthProber) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *HealthProber) probeAll(ctx context.Context) {
	for _, m := range p.registry.List() {
		result, err := p.registry.CheckHealth(ctx, m.ID, p.timeout)
		if err != nil {
			p.logger.WithError(err).WithField("model_id", m.ID).Warn("health probe failed to execute")
			p.healthyGauge.WithLabelValues(m.ID).Set(0)
			continue
		}
		healthyVal := 0.0
		if result.Healthy {
			healthyVal = 1.0
		}
		p.healthyGauge.WithLabelValues(m.ID).Set(healthyVal)
		p.latencyGauge.WithLabelValues(m.ID).Set(result.LatencyMS)
	}
}
