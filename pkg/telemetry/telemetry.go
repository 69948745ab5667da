// Package telemetry sets up VoiceCI's OpenTelemetry metrics pipeline and
// the scheduler/executor instrument set scraped via /metrics, grounded on
// the teacher corpus's internal/observe provider wiring (glyphoxa).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Instruments is VoiceCI's fixed set of scheduler/executor counters and
// histograms: runs claimed, runs finished by status, test duration, and
// machine provisions. Queue depth and claim latency are not recorded.
type Instruments struct {
	RunsClaimed     metric.Int64Counter
	RunsFinished    metric.Int64Counter
	ProbeDuration   metric.Float64Histogram
	MachineProvisions metric.Int64Counter
}

// Init registers a Prometheus-backed MeterProvider as the global OTel
// provider and builds Instruments against it. Returns a shutdown func to
// call on process exit.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx, resource.WithAttributes())
	if err != nil {
		return nil, nil, err
	}

	exporter, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(serviceName)
	instruments, err := buildInstruments(meter)
	if err != nil {
		return nil, nil, err
	}

	return instruments, mp.Shutdown, nil
}

func buildInstruments(meter metric.Meter) (*Instruments, error) {
	runsClaimed, err := meter.Int64Counter("voiceci_runs_claimed_total",
		metric.WithDescription("Runs claimed off the queue by a worker"))
	if err != nil {
		return nil, err
	}
	runsFinished, err := meter.Int64Counter("voiceci_runs_finished_total",
		metric.WithDescription("Runs reaching a terminal status, labeled by status"))
	if err != nil {
		return nil, err
	}
	probeDuration, err := meter.Float64Histogram("voiceci_probe_duration_ms",
		metric.WithDescription("Audio/conversation test duration in milliseconds"))
	if err != nil {
		return nil, err
	}
	machineProvisions, err := meter.Int64Counter("voiceci_machine_provisions_total",
		metric.WithDescription("Ephemeral VMs provisioned for machine-path runs"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		RunsClaimed:       runsClaimed,
		RunsFinished:      runsFinished,
		ProbeDuration:     probeDuration,
		MachineProvisions: machineProvisions,
	}, nil
}
