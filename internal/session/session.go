// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"lostwheel-gateway/internal/data"
	"lostwheel-gateway/internal/device"
	"lostwheel-gateway/internal/metrics"
	"lostwheel-gateway/internal/recording"
	"lostwheel-gateway/internal/storage"
)

// State is the acquisition state of a session.
type State int

const (
	Idle State = iota
	Monitoring
	Recording
	// Failed means the reader task ended on an error. The run's resources
	// stay open until Stop is called.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Monitoring:
		return "monitoring"
	case Recording:
		return "recording"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Idle, Monitoring, Recording, Failed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Options configure a session. Zero values fall back to defaults.
type Options struct {
	WindowSize     int
	CapacityFactor int
	BinPeriod      int
	BinsCapacity   int
	BaudRate       int
	ReadTimeout    time.Duration

	Opener    device.Opener
	Now       func() time.Time
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Observers []Observer
}

const (
	DefaultWindowSize     = 300
	DefaultCapacityFactor = 5
	DefaultBinPeriod      = 60
	DefaultBinsCapacity   = 120
	DefaultReadTimeout    = 100 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.WindowSize == 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.CapacityFactor == 0 {
		o.CapacityFactor = DefaultCapacityFactor
	}
	if o.BinPeriod == 0 {
		o.BinPeriod = DefaultBinPeriod
	}
	if o.BinsCapacity == 0 {
		o.BinsCapacity = DefaultBinsCapacity
	}
	if o.BaudRate == 0 {
		o.BaudRate = device.BaudRate
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.Opener == nil {
		o.Opener = device.SerialOpener{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Session is one device's acquisition lifecycle: connection, windows,
// optional recording file and the reader goroutine.
type Session struct {
	id       string
	device   device.Device
	basePath string
	opts     Options
	log      *slog.Logger
	metrics  *metrics.Metrics

	// ctl serializes Start*/Stop.
	ctl sync.Mutex

	// mu guards everything below; the reader holds it only while appending.
	mu     sync.RWMutex
	state  State
	raw    *storage.RawWindow
	binned *storage.AggregatingWindow
	run    *run
	err    error

	subs subscribers
}

// run is the per-start state owned by one reader goroutine.
type run struct {
	id        string
	started   time.Time
	conn      device.Conn
	sink      *recording.Sink
	cancel    context.CancelFunc
	done      chan struct{}
	samples   uint64
	rows      int
	intervals *intervalStats
}

// New returns an Idle session for dev.
func New(id string, dev device.Device, basePath string, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	raw, err := storage.NewRawWindow(opts.WindowSize*opts.CapacityFactor, opts.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	binned, err := storage.NewAggregatingWindow(opts.BinPeriod, opts.BinsCapacity)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	s := &Session{
		id:       id,
		device:   dev,
		basePath: basePath,
		opts:     opts,
		log:      opts.Logger.With(slog.String("session", id), slog.String("port", dev.Locator)),
		metrics:  opts.Metrics,
		raw:      raw,
		binned:   binned,
		subs:     subscribers{chans: make(map[int]chan data.Sample)},
	}
	s.metrics.SetSessionState(id, float64(Idle))
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Device() device.Device { return s.device }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that ended the latest run, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// StartMonitor opens the device and streams samples into the windows.
func (s *Session) StartMonitor() error { return s.start(Monitoring) }

// StartRecord is StartMonitor plus a new recording file. File names carry
// the start time to the second and existing files are never overwritten, so
// a second recording started within the same second as the previous one
// fails with a *SinkError wrapping fs.ErrExist.
func (s *Session) StartRecord() error { return s.start(Recording) }

func (s *Session) start(mode State) error {
	op := "start monitor"
	if mode == Recording {
		op = "start record"
	}

	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if s.state != Idle {
		from := s.state
		s.mu.Unlock()
		return &InvalidTransitionError{Session: s.id, From: from, Op: op}
	}
	s.raw.Reset()
	s.binned.Reset()
	s.mu.Unlock()

	conn, err := s.opts.Opener.Open(s.device.Locator, s.opts.BaudRate)
	if err != nil {
		return &ConnectionError{Session: s.id, Locator: s.device.Locator, Op: "open", Err: err}
	}
	if err := conn.SetReadTimeout(s.opts.ReadTimeout); err != nil {
		conn.Close()
		return &ConnectionError{Session: s.id, Locator: s.device.Locator, Op: "configure", Err: err}
	}

	r := &run{
		id:        uuid.NewString(),
		started:   s.opts.Now(),
		conn:      conn,
		done:      make(chan struct{}),
		intervals: newIntervalStats(),
	}
	if mode == Recording {
		r.sink, err = recording.Open(s.basePath, s.id, s.device.SerialNumber, r.started)
		if err != nil {
			conn.Close()
			path := filepath.Join(s.basePath, recording.FileName(s.id, s.device.SerialNumber, r.started))
			return &SinkError{Session: s.id, Path: path, Op: "open", Err: err}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	s.mu.Lock()
	s.state = mode
	s.run = r
	s.err = nil
	st := s.statusLocked()
	s.mu.Unlock()

	go s.read(ctx, r)

	attrs := []any{slog.String("run", r.id), slog.String("state", mode.String())}
	if r.sink != nil {
		attrs = append(attrs, slog.String("file", r.sink.Path()))
	}
	s.log.Info("session started", attrs...)
	s.metrics.SetSessionState(s.id, float64(mode))
	s.notifyStatus(st)
	return nil
}

// Stop ends the current run. It returns only after the reader goroutine has
// exited, so no sample is appended afterwards. The returned error joins the
// failure that ended the run early (if any) with release errors.
func (s *Session) Stop() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.RLock()
	state, r := s.state, s.run
	s.mu.RUnlock()
	if state == Idle {
		return &InvalidTransitionError{Session: s.id, From: state, Op: "stop"}
	}

	r.cancel()
	<-r.done

	var errs []error
	if err := r.conn.Close(); err != nil {
		errs = append(errs, &ConnectionError{Session: s.id, Locator: s.device.Locator, Op: "close", Err: err})
	}
	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			errs = append(errs, &SinkError{Session: s.id, Path: r.sink.Path(), Op: "close", Err: err})
		}
	}

	s.mu.Lock()
	runErr := s.err
	s.state = Idle
	st := s.statusLocked()
	s.mu.Unlock()

	s.log.Info("session stopped", slog.String("run", r.id), slog.String("from", state.String()), slog.Uint64("samples", st.Samples))
	s.metrics.SetSessionState(s.id, float64(Idle))
	s.notifyStatus(st)
	return errors.Join(append([]error{runErr}, errs...)...)
}

// Close stops an active run and closes all subscriptions.
func (s *Session) Close() error {
	var err error
	if s.State() != Idle {
		err = s.Stop()
	}
	s.subs.closeAll()
	return err
}

// fail records err as the reason the reader ended and moves to Failed.
func (s *Session) fail(r *run, err error) {
	s.mu.Lock()
	s.state = Failed
	s.err = err
	st := s.statusLocked()
	s.mu.Unlock()

	kind := ErrorKind(err)
	s.log.Error("reader stopped", slog.String("run", r.id), slog.String("kind", kind), slog.Any("err", err))
	s.metrics.SessionFailed(s.id, kind)
	s.metrics.SetSessionState(s.id, float64(Failed))
	s.notifyStatus(st)
}

// Status describes a session for the control surface.
type Status struct {
	ID            string        `json:"id"`
	Device        device.Device `json:"device"`
	State         State         `json:"state"`
	RunID         string        `json:"run_id,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	Samples       uint64        `json:"samples"`
	Bins          uint64        `json:"bins"`
	PendingInBin  int           `json:"pending_in_bin"`
	RecordingPath string        `json:"recording_path,omitempty"`
	RecordedRows  int           `json:"recorded_rows"`
	Intervals     IntervalStats `json:"intervals"`
	LastError     string        `json:"last_error,omitempty"`
	ErrorKind     string        `json:"error_kind,omitempty"`
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	st := Status{
		ID:           s.id,
		Device:       s.device,
		State:        s.state,
		Bins:         s.binned.Committed(),
		PendingInBin: s.binned.Pending(),
	}
	if r := s.run; r != nil {
		started := r.started
		st.RunID = r.id
		st.StartedAt = &started
		st.Samples = r.samples
		st.RecordedRows = r.rows
		st.Intervals = r.intervals.summary()
		if r.sink != nil {
			st.RecordingPath = r.sink.Path()
		}
	}
	if s.err != nil {
		st.LastError = s.err.Error()
		st.ErrorKind = ErrorKind(s.err)
	}
	return st
}

// Snapshot is a copy of both windows, safe to hand to other goroutines.
type Snapshot struct {
	Status Status        `json:"status"`
	Raw    []data.Sample `json:"raw"`
	Binned []data.Sample `json:"binned"`
}

// Snapshot copies the current windows under the session lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Status: s.statusLocked(),
		Raw:    append([]data.Sample(nil), s.raw.Window()...),
		Binned: append([]data.Sample(nil), s.binned.Window()...),
	}
}
