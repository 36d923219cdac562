// internal/data/models.go
package data

import (
	"strconv"
	"time"
)

// CSVHeader is the first line of every recording file.
var CSVHeader = []string{"pc_timestamp", "arduino_timestamp", "count"}

// Sample - one parsed device reading
type Sample struct {
	ProducerTimestamp float64 `json:"pc_timestamp"`      // Unix seconds on the gateway side
	DeviceTimestamp   float64 `json:"arduino_timestamp"` // As reported by the board
	Count             int64   `json:"count"`
}

// NewSample stamps a device reading with the producer-side clock.
func NewSample(producer time.Time, deviceTS float64, count int64) Sample {
	return Sample{
		ProducerTimestamp: UnixSeconds(producer),
		DeviceTimestamp:   deviceTS,
		Count:             count,
	}
}

// UnixSeconds converts t to fractional Unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Record returns the CSV fields of s in header order.
func (s Sample) Record() []string {
	return []string{
		formatFloat(s.ProducerTimestamp),
		formatFloat(s.DeviceTimestamp),
		strconv.FormatInt(s.Count, 10),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Alert - Structure for sending alerts
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"` // "WARN" or "CRITICAL"
	Message   string    `json:"message"`
	Metric    string    `json:"metric"` // Which check triggered the alert
	Value     float64   `json:"value"`
	SessionID string    `json:"session_id,omitempty"`
}

const (
	SeverityWarn     = "WARN"
	SeverityCritical = "CRITICAL"
)
