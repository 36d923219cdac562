package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lostwheel-gateway/internal/device"
	"lostwheel-gateway/internal/session"
)

// idleConn never produces data; reads just time out.
type idleConn struct {
	closeErr error
}

func (c *idleConn) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (c *idleConn) SetReadTimeout(time.Duration) error { return nil }

func (c *idleConn) Close() error { return c.closeErr }

type portOpener struct {
	mu       sync.Mutex
	failOpen map[string]bool
	failStop map[string]bool
	opened   []string
}

func (o *portOpener) Open(locator string, baud int) (device.Conn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failOpen[locator] {
		return nil, errors.New("no such port")
	}
	o.opened = append(o.opened, locator)
	c := &idleConn{}
	if o.failStop[locator] {
		c.closeErr = errors.New("port vanished")
	}
	return c, nil
}

func newTestRegistry(opener *portOpener) *Registry {
	return New(func(id string, dev device.Device, basePath string) (*session.Session, error) {
		return session.New(id, dev, basePath, session.Options{
			Opener:      opener,
			WindowSize:  4,
			BinPeriod:   2,
			ReadTimeout: time.Millisecond,
		})
	}, nil)
}

func dev(port string) device.Device {
	return device.Device{Locator: port, SerialNumber: "SN-" + port}
}

func ids(r *Registry) []string {
	var out []string
	for _, s := range r.Sessions() {
		out = append(out, s.ID())
	}
	return out
}

func TestAssignRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(&portOpener{})
	require.NoError(t, r.Assign(t.TempDir(), []Assignment{{ID: "x", Device: dev("COM9")}}))

	var verr *ValidationError
	err := r.Assign(t.TempDir(), []Assignment{{ID: "a", Device: dev("COM1")}, {ID: "a", Device: dev("COM2")}})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, DuplicateID, verr.Reason)
	require.Equal(t, "a", verr.Value)
	require.Equal(t, []string{"x"}, ids(r))

	err = r.Assign(t.TempDir(), []Assignment{{ID: "a", Device: dev("COM1")}, {ID: "b", Device: dev("COM1")}})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, DuplicateDevice, verr.Reason)
	require.Equal(t, "COM1", verr.Value)
	require.Equal(t, []string{"x"}, ids(r))
}

func TestAssignRejectsEmptyInput(t *testing.T) {
	r := newTestRegistry(&portOpener{})
	var verr *ValidationError

	require.ErrorAs(t, r.Assign(t.TempDir(), nil), &verr)
	require.Equal(t, NoEntries, verr.Reason)

	require.ErrorAs(t, r.Assign("", []Assignment{{ID: "a", Device: dev("COM1")}}), &verr)
	require.Equal(t, EmptyBasePath, verr.Reason)

	require.ErrorAs(t, r.Assign(t.TempDir(), []Assignment{{ID: "", Device: dev("COM1")}}), &verr)
	require.Equal(t, EmptyID, verr.Reason)

	require.ErrorAs(t, r.Assign(t.TempDir(), []Assignment{{ID: "a"}}), &verr)
	require.Equal(t, EmptyDevice, verr.Reason)

	require.Empty(t, r.Sessions())
}

func TestAssignReplacesAndStopsPrevious(t *testing.T) {
	opener := &portOpener{}
	r := newTestRegistry(opener)
	require.NoError(t, r.Assign(t.TempDir(), []Assignment{{ID: "a", Device: dev("COM1")}}))
	require.NoError(t, r.StartMonitorAll())
	old, ok := r.Session("a")
	require.True(t, ok)
	require.Equal(t, session.Monitoring, old.State())

	require.NoError(t, r.Assign(t.TempDir(), []Assignment{{ID: "b", Device: dev("COM2")}, {ID: "c", Device: dev("COM1")}}))
	require.Equal(t, session.Idle, old.State())
	require.Equal(t, []string{"b", "c"}, ids(r))
	for _, s := range r.Sessions() {
		require.Equal(t, session.Idle, s.State())
	}
}

func TestStartAllInOrderAndIndependent(t *testing.T) {
	opener := &portOpener{failOpen: map[string]bool{"COM2": true}}
	r := newTestRegistry(opener)
	require.NoError(t, r.Assign(t.TempDir(), []Assignment{
		{ID: "a", Device: dev("COM1")},
		{ID: "b", Device: dev("COM2")},
		{ID: "c", Device: dev("COM3")},
	}))

	err := r.StartRecordAll()
	var cerr *session.ConnectionError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "b", cerr.Session)
	require.Equal(t, []string{"COM1", "COM3"}, opener.opened)

	states := map[string]session.State{}
	for _, st := range r.Statuses() {
		states[st.ID] = st.State
	}
	require.Equal(t, map[string]session.State{"a": session.Recording, "b": session.Idle, "c": session.Recording}, states)
	require.NoError(t, r.StopAll())
}

func TestStopAllIsBestEffort(t *testing.T) {
	opener := &portOpener{failStop: map[string]bool{"COM1": true, "COM2": true}}
	r := newTestRegistry(opener)
	require.NoError(t, r.Assign(t.TempDir(), []Assignment{
		{ID: "a", Device: dev("COM1")},
		{ID: "b", Device: dev("COM2")},
		{ID: "c", Device: dev("COM3")},
	}))
	require.NoError(t, r.StartMonitorAll())

	err := r.StopAll()
	require.Error(t, err)
	var failed []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var cerr *session.ConnectionError
		require.ErrorAs(t, e, &cerr)
		failed = append(failed, cerr.Session)
	}
	require.Equal(t, []string{"a", "b"}, failed)

	for _, s := range r.Sessions() {
		require.Equal(t, session.Idle, s.State())
	}
	// Nothing left to stop.
	require.NoError(t, r.StopAll())
}
