// internal/alerting/alerter.go
package alerting

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lostwheel-gateway/internal/data"
	"lostwheel-gateway/internal/session"
)

const historySize = 100

// Broadcaster delivers alerts to live clients (the websocket hub).
type Broadcaster interface {
	BroadcastAlert(alert data.Alert)
}

// Alerter fans alerts out to the configured channels and keeps the most
// recent ones for the control API. As a session.Observer it raises a
// critical alert whenever a session fails.
type Alerter struct {
	channels []Broadcaster
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	recent []data.Alert
}

func NewAlerter(log *slog.Logger, channels ...Broadcaster) *Alerter {
	if log == nil {
		log = slog.Default()
	}
	return &Alerter{channels: channels, log: log, now: time.Now}
}

// ProcessAlerts sends alerts via every configured channel.
func (a *Alerter) ProcessAlerts(alerts []data.Alert) {
	if len(alerts) == 0 {
		return
	}

	a.mu.Lock()
	a.recent = append(a.recent, alerts...)
	if over := len(a.recent) - historySize; over > 0 {
		a.recent = append(a.recent[:0:0], a.recent[over:]...)
	}
	a.mu.Unlock()

	for _, alert := range alerts {
		a.log.Info("alert", slog.String("severity", alert.Severity), slog.String("session", alert.SessionID), slog.String("message", alert.Message))
		for _, ch := range a.channels {
			ch.BroadcastAlert(alert)
		}
	}
}

// Recent returns up to n of the latest alerts, oldest first.
func (a *Alerter) Recent(n int) []data.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 || n > len(a.recent) {
		n = len(a.recent)
	}
	return append([]data.Alert(nil), a.recent[len(a.recent)-n:]...)
}

func (a *Alerter) ObserveSample(string, data.Sample) {}

func (a *Alerter) ObserveStatus(st session.Status) {
	if st.State != session.Failed {
		return
	}
	a.ProcessAlerts([]data.Alert{{
		Timestamp: a.now(),
		Severity:  data.SeverityCritical,
		Message:   fmt.Sprintf("Session %s on %s stopped: %s", st.ID, st.Device.Locator, st.LastError),
		Metric:    st.ErrorKind,
		SessionID: st.ID,
	}})
}
