// internal/registry/registry.go
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"lostwheel-gateway/internal/device"
	"lostwheel-gateway/internal/session"
)

// Assignment pairs a session id with the device it reads from.
type Assignment struct {
	ID     string        `json:"id" mapstructure:"id"`
	Device device.Device `json:"device" mapstructure:"device"`
}

// Reason says which assignment constraint failed.
type Reason string

const (
	NoEntries       Reason = "no entries"
	EmptyBasePath   Reason = "empty base path"
	EmptyID         Reason = "empty id"
	EmptyDevice     Reason = "empty device"
	DuplicateID     Reason = "duplicate id"
	DuplicateDevice Reason = "duplicate device"
)

// ValidationError rejects an assignment before anything is changed.
type ValidationError struct {
	Reason Reason
	Value  string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid assignment: %s", e.Reason)
	}
	return fmt.Sprintf("invalid assignment: %s %q", e.Reason, e.Value)
}

// Factory builds an Idle session for one assignment.
type Factory func(id string, dev device.Device, basePath string) (*session.Session, error)

// Registry owns the current set of sessions. The set is replaced wholesale
// by Assign and never edited in place.
type Registry struct {
	// ops serializes Assign and the fan-out operations.
	ops sync.Mutex

	mu       sync.Mutex
	factory  Factory
	log      *slog.Logger
	basePath string
	sessions []*session.Session
}

func New(factory Factory, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{factory: factory, log: log}
}

// Validate checks an assignment without touching any registry.
func Validate(basePath string, entries []Assignment) error {
	if len(entries) == 0 {
		return &ValidationError{Reason: NoEntries}
	}
	if basePath == "" {
		return &ValidationError{Reason: EmptyBasePath}
	}
	ids := make(map[string]struct{}, len(entries))
	ports := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return &ValidationError{Reason: EmptyID}
		}
		if e.Device.Locator == "" {
			return &ValidationError{Reason: EmptyDevice, Value: e.ID}
		}
		if _, dup := ids[e.ID]; dup {
			return &ValidationError{Reason: DuplicateID, Value: e.ID}
		}
		if _, dup := ports[e.Device.Locator]; dup {
			return &ValidationError{Reason: DuplicateDevice, Value: e.Device.Locator}
		}
		ids[e.ID] = struct{}{}
		ports[e.Device.Locator] = struct{}{}
	}
	return nil
}

// Assign replaces the session set with fresh Idle sessions, one per entry,
// in entry order. Invalid input leaves the registry unchanged. Sessions of
// the previous set are stopped and released.
func (r *Registry) Assign(basePath string, entries []Assignment) error {
	if err := Validate(basePath, entries); err != nil {
		return err
	}

	r.ops.Lock()
	defer r.ops.Unlock()

	next := make([]*session.Session, 0, len(entries))
	for _, e := range entries {
		s, err := r.factory(e.ID, e.Device, basePath)
		if err != nil {
			for _, built := range next {
				built.Close()
			}
			return fmt.Errorf("build session %s: %w", e.ID, err)
		}
		next = append(next, s)
	}

	r.mu.Lock()
	prev := r.sessions
	r.sessions = next
	r.basePath = basePath
	r.mu.Unlock()

	for _, s := range prev {
		if err := s.Close(); err != nil {
			r.log.Warn("previous session released with error", slog.String("session", s.ID()), slog.Any("err", err))
		}
	}
	r.log.Info("sessions assigned", slog.Int("count", len(next)), slog.String("base_path", basePath))
	return nil
}

// Sessions returns the current set in assignment order.
func (r *Registry) Sessions() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*session.Session(nil), r.sessions...)
}

// Session looks up a session by id.
func (r *Registry) Session(id string) (*session.Session, bool) {
	for _, s := range r.Sessions() {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// BasePath is the recording directory of the current assignment.
func (r *Registry) BasePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.basePath
}

// Statuses reports every session in assignment order.
func (r *Registry) Statuses() []session.Status {
	sessions := r.Sessions()
	out := make([]session.Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// StartMonitorAll starts monitoring on every session in order. A session
// that fails to start does not prevent the others from starting.
func (r *Registry) StartMonitorAll() error {
	return r.each("start monitor", (*session.Session).StartMonitor)
}

// StartRecordAll starts recording on every session in order.
func (r *Registry) StartRecordAll() error {
	return r.each("start record", (*session.Session).StartRecord)
}

// StopAll stops every session that is not Idle, in order, and joins all
// errors. It never stops early.
func (r *Registry) StopAll() error {
	return r.each("stop", func(s *session.Session) error {
		if s.State() == session.Idle {
			return nil
		}
		return s.Stop()
	})
}

// Close stops everything and closes all subscriptions.
func (r *Registry) Close() error {
	return r.each("close", (*session.Session).Close)
}

func (r *Registry) each(op string, fn func(*session.Session) error) error {
	r.ops.Lock()
	defer r.ops.Unlock()

	var errs []error
	for _, s := range r.Sessions() {
		if err := fn(s); err != nil {
			r.log.Error(op+" failed", slog.String("session", s.ID()), slog.Any("err", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
