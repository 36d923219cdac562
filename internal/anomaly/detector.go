// internal/anomaly/detector.go
package anomaly

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lostwheel-gateway/internal/config"
	"lostwheel-gateway/internal/data"
	"lostwheel-gateway/internal/session"
)

// Metric names understood by range rules.
const (
	MetricCount           = "count"
	MetricDeviceTimestamp = "arduino_timestamp"
	MetricClockRegression = "clock_regression"
)

// AlertSink receives the alerts raised by the detector.
type AlertSink interface {
	ProcessAlerts(alerts []data.Alert)
}

// Detector checks every sample of every session against the configured
// rules. It is a session.Observer.
type Detector struct {
	config *config.Config
	sink   AlertSink
	now    func() time.Time
	log    *slog.Logger

	mu   sync.Mutex
	last map[string]lastSeen // by session id
}

type lastSeen struct {
	run      string
	deviceTS float64
	valid    bool
}

func NewDetector(cfg *config.Config, sink AlertSink, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{
		config: cfg,
		sink:   sink,
		now:    time.Now,
		log:    log,
		last:   make(map[string]lastSeen),
	}
}

// Check returns the alerts raised by one sample.
func (d *Detector) Check(sessionID string, s data.Sample) []data.Alert {
	var alerts []data.Alert

	values := map[string]float64{
		MetricCount:           float64(s.Count),
		MetricDeviceTimestamp: s.DeviceTimestamp,
	}
	for metricName, value := range values {
		rule, ok := d.config.Anomaly.Rules[metricName]
		if !ok {
			continue
		}
		if value < rule.Min || value > rule.Max {
			alerts = append(alerts, data.Alert{
				Timestamp: d.now(),
				Severity:  data.SeverityWarn,
				Message:   fmt.Sprintf("Anomaly detected for %s: Value %.2f is outside range [%.2f, %.2f]", metricName, value, rule.Min, rule.Max),
				Metric:    metricName,
				Value:     value,
				SessionID: sessionID,
			})
		}
	}

	if d.config.Anomaly.ClockRegression {
		d.mu.Lock()
		prev := d.last[sessionID]
		d.last[sessionID] = lastSeen{run: prev.run, deviceTS: s.DeviceTimestamp, valid: true}
		d.mu.Unlock()

		if prev.valid && s.DeviceTimestamp < prev.deviceTS {
			alerts = append(alerts, data.Alert{
				Timestamp: d.now(),
				Severity:  data.SeverityWarn,
				Message:   fmt.Sprintf("Device clock went backwards: %.3f after %.3f (board reset?)", s.DeviceTimestamp, prev.deviceTS),
				Metric:    MetricClockRegression,
				Value:     s.DeviceTimestamp - prev.deviceTS,
				SessionID: sessionID,
			})
		}
	}

	for _, a := range alerts {
		d.log.Warn("anomaly", slog.String("session", sessionID), slog.String("metric", a.Metric), slog.Float64("value", a.Value))
	}
	return alerts
}

func (d *Detector) ObserveSample(sessionID string, s data.Sample) {
	if alerts := d.Check(sessionID, s); len(alerts) > 0 && d.sink != nil {
		d.sink.ProcessAlerts(alerts)
	}
}

// ObserveStatus forgets the previous device timestamp when a new run starts;
// the board restarts its clock on every connection.
func (d *Detector) ObserveStatus(st session.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.last[st.ID]; !ok || prev.run != st.RunID {
		delete(d.last, st.ID)
		if st.RunID != "" {
			d.last[st.ID] = lastSeen{run: st.RunID}
		}
	}
}
