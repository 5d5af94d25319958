package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
)

const (
	namespace = "price_alert"
	subsystem = "telegram_bot"
)

// Store persists metric values between restarts
type Store interface {
	SaveMetric(ctx context.Context, metricName string, value float64) error
	GetMetric(ctx context.Context, metricName string) (float64, error)
	SaveMetricWithLabels(ctx context.Context, metricName, labelKey, labelValue string, value float64) error
	GetMetricsWithLabels(ctx context.Context, metricName string) (map[string]map[string]float64, error)
}

type BotMetrics struct {
	CommandsProcessed   prometheus.Counter
	MessagesHandled     prometheus.Counter
	RefreshCycles       prometheus.Counter
	RefreshFailures     prometheus.Counter
	AlertsFired         prometheus.Counter
	NotificationsFailed prometheus.Counter
	TrackedMarkets      prometheus.Gauge
	CommandsPerType     *prometheus.CounterVec
	Mutex               sync.Mutex
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// NewBotMetrics creates the bot collectors and registers them on reg
func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		CommandsProcessed:   newCounter("commands_processed", "The total number of processed commands"),
		MessagesHandled:     newCounter("messages_handled", "The total number of handled messages"),
		RefreshCycles:       newCounter("refresh_cycles", "The total number of completed price refresh cycles"),
		RefreshFailures:     newCounter("refresh_failures", "The total number of abandoned price refresh cycles"),
		AlertsFired:         newCounter("alerts_fired", "The total number of alerts removed by evaluation"),
		NotificationsFailed: newCounter("notifications_failed", "The total number of alert notifications that could not be delivered"),
		TrackedMarkets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tracked_markets",
			Help:      "The number of markets refreshed by the last cycle",
		}),
		CommandsPerType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "commands_per_type",
				Help:      "The total number of commands handled per command name",
			},
			[]string{"command"},
		),
	}

	reg.MustRegister(
		m.CommandsProcessed,
		m.MessagesHandled,
		m.RefreshCycles,
		m.RefreshFailures,
		m.AlertsFired,
		m.NotificationsFailed,
		m.TrackedMarkets,
		m.CommandsPerType,
	)
	return m
}

func (m *BotMetrics) AlertFired()         { m.AlertsFired.Inc() }
func (m *BotMetrics) NotificationFailed() { m.NotificationsFailed.Inc() }
func (m *BotMetrics) CycleCompleted(markets int) {
	m.RefreshCycles.Inc()
	m.TrackedMarkets.Set(float64(markets))
}
func (m *BotMetrics) CycleFailed() { m.RefreshFailures.Inc() }

// CommandHandled counts one handled message. Plain text is not a command.
func (m *BotMetrics) CommandHandled(command string) {
	m.MessagesHandled.Inc()
	m.CommandsPerType.WithLabelValues(command).Inc()
	if command != "text" {
		m.CommandsProcessed.Inc()
	}
}

func (m *BotMetrics) counters() map[string]prometheus.Counter {
	return map[string]prometheus.Counter{
		"commands_processed":   m.CommandsProcessed,
		"messages_handled":     m.MessagesHandled,
		"refresh_cycles":       m.RefreshCycles,
		"refresh_failures":     m.RefreshFailures,
		"alerts_fired":         m.AlertsFired,
		"notifications_failed": m.NotificationsFailed,
	}
}

// LoadFromDB restores counters saved by a previous run
func (m *BotMetrics) LoadFromDB(ctx context.Context, store Store) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	for name, counter := range m.counters() {
		value, err := store.GetMetric(ctx, name)
		if err != nil {
			log.Errorf("Failed to load metric %s: %v", name, err)
			continue
		}
		counter.Add(value)
	}

	perType, err := store.GetMetricsWithLabels(ctx, "commands_per_type")
	if err != nil {
		log.Errorf("Failed to load metric commands_per_type: %v", err)
	}
	for _, byCommand := range perType {
		for command, value := range byCommand {
			m.CommandsPerType.WithLabelValues(command).Add(value)
		}
	}

	log.Debug("Metrics loaded from database.")
}

// SaveToDB persists current counter values
func (m *BotMetrics) SaveToDB(ctx context.Context, store Store) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	for name, counter := range m.counters() {
		if err := store.SaveMetric(ctx, name, GetMetricValue(counter)); err != nil {
			log.Errorf("Failed to save metric %s: %v", name, err)
		}
	}

	metricChan := make(chan prometheus.Metric, 1)
	go func() {
		m.CommandsPerType.Collect(metricChan)
		close(metricChan)
	}()

	for metric := range metricChan {
		metricProto := &dto.Metric{}
		if err := metric.Write(metricProto); err != nil {
			log.Errorf("Failed to read commands_per_type metric: %v", err)
			continue
		}
		var command string
		for _, label := range metricProto.Label {
			if label.GetName() == "command" {
				command = label.GetValue()
			}
		}
		if err := store.SaveMetricWithLabels(ctx, "commands_per_type", "command", command, metricProto.Counter.GetValue()); err != nil {
			log.Errorf("Failed to save metric commands_per_type[%s]: %v", command, err)
		}
	}

	log.Debug("Metrics saved to database.")
}

func GetMetricValue(metric prometheus.Collector) float64 {
	var metricValue float64
	metricChan := make(chan prometheus.Metric, 1)
	metric.Collect(metricChan)
	close(metricChan)

	metricProto := &dto.Metric{}
	if err := (<-metricChan).Write(metricProto); err != nil {
		log.Errorf("Failed to read metric value: %v", err)
		return 0
	}

	if metricProto.Counter != nil {
		metricValue = metricProto.Counter.GetValue()
	} else if metricProto.Gauge != nil {
		metricValue = metricProto.Gauge.GetValue()
	}
	return metricValue
}
