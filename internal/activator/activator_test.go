package activator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/goleak"

	"bundleactivator/internal/bundlectx"
	"bundleactivator/internal/handle"
	"bundleactivator/internal/logger"
	"bundleactivator/internal/sender"
	"bundleactivator/internal/status"
	"bundleactivator/internal/stopsignal"
	"bundleactivator/internal/supervisor"
)

func init() {
	_ = logger.Init(logger.Config{Level: "disabled"})
}

type testHost struct{}

func (testHost) BundleID() int64 { return 7 }

func (testHost) RegisterService(*bundlectx.Registration) (int64, error) { return 1, nil }

// recordingSender keeps every event it is given.
type recordingSender struct {
	mu     sync.Mutex
	events []*sender.Event
}

func (s *recordingSender) Send(_ context.Context, ev *sender.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSender) SendBatch(ctx context.Context, evs []*sender.Event) error {
	for _, ev := range evs {
		_ = s.Send(ctx, ev)
	}
	return nil
}

func (s *recordingSender) Close() error { return nil }

func (s *recordingSender) kinds() []sender.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]sender.Kind, len(s.events))
	for i, ev := range s.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

type failingSender struct{}

func (failingSender) Send(context.Context, *sender.Event) error {
	return errors.New("sink unavailable")
}

func (failingSender) SendBatch(context.Context, []*sender.Event) error {
	return errors.New("sink unavailable")
}

func (failingSender) Close() error { return nil }

// untilStopped is the well-behaved user logic: it blocks until told to stop.
func untilStopped(_ *bundlectx.Context, stop *stopsignal.Receiver) error {
	<-stop.Done()
	return nil
}

func mustCreate(t *testing.T, a *Activator) handle.Handle {
	t.Helper()
	var h handle.Handle
	if st := a.Create(testHost{}, &h); st != status.Success {
		t.Fatalf("Create returned %s", st)
	}
	if h.IsZero() {
		t.Fatal("Create issued a zero handle")
	}
	return h
}

func TestCreateDestroy_WithoutStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(BundleFunc(untilStopped))
	h := mustCreate(t, a)

	if a.Len() != 1 {
		t.Errorf("expected 1 live handle, got %d", a.Len())
	}
	if a.Active() != 0 {
		t.Errorf("expected no active workers, got %d", a.Active())
	}
	if st := a.Destroy(h, testHost{}); st != status.Success {
		t.Fatalf("Destroy returned %s", st)
	}
	if a.Len() != 0 {
		t.Errorf("expected no live handles, got %d", a.Len())
	}
}

func TestCreate_NilHostAccepted(t *testing.T) {
	a := New(BundleFunc(untilStopped))

	var h handle.Handle
	if st := a.Create(nil, &h); st != status.Success {
		t.Fatalf("Create with nil host returned %s", st)
	}
	if st := a.Destroy(h, nil); st != status.Success {
		t.Fatalf("Destroy returned %s", st)
	}
}

func TestCreate_NilOutput(t *testing.T) {
	a := New(BundleFunc(untilStopped))

	if st := a.Create(testHost{}, nil); st != status.BundleException {
		t.Fatalf("expected fault, got %s", st)
	}
	if a.Len() != 0 {
		t.Errorf("expected no handles, got %d", a.Len())
	}
}

func TestStartStop_CooperativeWorker(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(BundleFunc(untilStopped))
	h := mustCreate(t, a)

	if st := a.Start(h, testHost{}); st != status.Success {
		t.Fatalf("Start returned %s", st)
	}
	if a.Active() != 1 {
		t.Errorf("expected 1 active worker, got %d", a.Active())
	}
	if st := a.Stop(h, testHost{}); st != status.Success {
		t.Fatalf("Stop returned %s", st)
	}
	if a.Active() != 0 {
		t.Errorf("expected no active workers, got %d", a.Active())
	}
	if st := a.Destroy(h, testHost{}); st != status.Success {
		t.Fatalf("Destroy returned %s", st)
	}
}

func TestStart_WorkerSeesBundleContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ids := make(chan int64, 1)
	a := New(BundleFunc(func(ctx *bundlectx.Context, stop *stopsignal.Receiver) error {
		ids <- ctx.BundleID()
		<-stop.Done()
		return nil
	}))
	h := mustCreate(t, a)

	if st := a.Start(h, testHost{}); st != status.Success {
		t.Fatalf("Start returned %s", st)
	}
	if id := <-ids; id != 7 {
		t.Errorf("expected bundle id 7, got %d", id)
	}
	if st := a.Stop(h, testHost{}); st != status.Success {
		t.Fatalf("Stop returned %s", st)
	}
}

func TestStart_NilHost(t *testing.T) {
	defer goleak.VerifyNone(t)

	var nilHost *testHost
	tests := []struct {
		name string
		host bundlectx.Host
	}{
		{"untyped nil", nil},
		{"typed nil pointer", nilHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup := supervisor.New()
			a := New(BundleFunc(untilStopped), WithSupervisor(sup))
			h := mustCreate(t, a)

			if st := a.Start(h, tt.host); st != status.BundleException {
				t.Fatalf("expected fault, got %s", st)
			}
			if a.Active() != 0 || sup.Live() != 0 {
				t.Errorf("expected no worker, active=%d live=%d", a.Active(), sup.Live())
			}
			if st := a.Stop(h, testHost{}); st != status.BundleException {
				t.Errorf("expected Stop to report no worker, got %s", st)
			}
			if st := a.Destroy(h, testHost{}); st != status.Success {
				t.Fatalf("Destroy returned %s", st)
			}
		})
	}
}

func TestStart_NoThreadFunc(t *testing.T) {
	a := New(BundleFunc(nil))
	h := mustCreate(t, a)

	if st := a.Start(h, testHost{}); st != status.BundleException {
		t.Fatalf("expected fault, got %s", st)
	}
}

func TestStop_NeverStarted(t *testing.T) {
	a := New(BundleFunc(untilStopped))
	h := mustCreate(t, a)

	if st := a.Stop(h, testHost{}); st != status.BundleException {
		t.Fatalf("expected fault, got %s", st)
	}
	if st := a.Destroy(h, testHost{}); st != status.Success {
		t.Fatalf("Destroy returned %s", st)
	}
}

func TestStop_TranslatesWorkerResult(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want status.Status
	}{
		{"nil", nil, status.Success},
		{"host status", status.FromStatus(status.IllegalState), status.IllegalState},
		{"unknown code", status.FromStatus(status.Status(4242)), status.Status(4242)},
		{"plain error", errors.New("lost connection"), status.BundleException},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			a := New(BundleFunc(func(_ *bundlectx.Context, stop *stopsignal.Receiver) error {
				<-stop.Done()
				return tt.err
			}))
			h := mustCreate(t, a)

			if st := a.Start(h, testHost{}); st != status.Success {
				t.Fatalf("Start returned %s", st)
			}
			if st := a.Stop(h, testHost{}); st != tt.want {
				t.Errorf("expected %s, got %s", tt.want, st)
			}
		})
	}
}

func TestStop_WorkerReturnedImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup := supervisor.New()
	a := New(BundleFunc(func(*bundlectx.Context, *stopsignal.Receiver) error {
		return nil
	}), WithSupervisor(sup))
	h := mustCreate(t, a)

	if st := a.Start(h, testHost{}); st != status.Success {
		t.Fatalf("Start returned %s", st)
	}
	time.Sleep(10 * time.Millisecond)

	if st := a.Stop(h, testHost{}); st != status.Success {
		t.Fatalf("Stop returned %s", st)
	}
	if sup.Live() != 0 {
		t.Errorf("worker not joined before Stop returned, live=%d", sup.Live())
	}
}

func TestStop_BlocksWhileWorkerIgnoresSignal(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	a := New(BundleFunc(func(*bundlectx.Context, *stopsignal.Receiver) error {
		<-release
		return nil
	}))
	h := mustCreate(t, a)

	if st := a.Start(h, testHost{}); st != status.Success {
		t.Fatalf("Start returned %s", st)
	}

	result := make(chan status.Status, 1)
	go func() {
		result <- a.Stop(h, testHost{})
	}()

	select {
	case st := <-result:
		t.Fatalf("Stop returned %s while the worker was still running", st)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case st := <-result:
		if st != status.Success {
			t.Errorf("expected success once the worker returned, got %s", st)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the worker finished")
	}
}

func TestStart_Twice(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup := supervisor.New()
	a := New(BundleFunc(untilStopped), WithSupervisor(sup))
	h := mustCreate(t, a)

	if st := a.Start(h, testHost{}); st != status.Success {
		t.Fatalf("Start returned %s", st)
	}
	if st := a.Start(h, testHost{}); st != status.BundleException {
		t.Fatalf("expected second Start to fault, got %s", st)
	}
	if sup.Live() != 1 || a.Active() != 1 {
		t.Errorf("expected the first worker untouched, live=%d active=%d", sup.Live(), a.Active())
	}
	if st := a.Stop(h, testHost{}); st != status.Success {
		t.Fatalf("Stop returned %s", st)
	}
}

func TestStartStop_Restart(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(BundleFunc(untilStopped))
	h := mustCreate(t, a)

	for i := 0; i < 3; i++ {
		if st := a.Start(h, testHost{}); st != status.Success {
			t.Fatalf("run %d: Start returned %s", i, st)
		}
		if st := a.Stop(h, testHost{}); st != status.Success {
			t.Fatalf("run %d: Stop returned %s", i, st)
		}
	}
}

func TestDestroy_ActiveWorkerRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(BundleFunc(untilStopped))
	h := mustCreate(t, a)

	if st := a.Start(h, testHost{}); st != status.Success {
		t.Fatalf("Start returned %s", st)
	}
	if st := a.Destroy(h, testHost{}); st != status.BundleException {
		t.Fatalf("expected Destroy to fault, got %s", st)
	}
	if a.Len() != 1 {
		t.Fatalf("handle should stay valid, len=%d", a.Len())
	}
	if st := a.Stop(h, testHost{}); st != status.Success {
		t.Fatalf("Stop returned %s", st)
	}
	if st := a.Destroy(h, testHost{}); st != status.Success {
		t.Fatalf("Destroy returned %s", st)
	}
}

func TestStaleHandle_AfterDestroy(t *testing.T) {
	a := New(BundleFunc(untilStopped))
	h := mustCreate(t, a)

	if st := a.Destroy(h, testHost{}); st != status.Success {
		t.Fatalf("Destroy returned %s", st)
	}

	// The freed slot is reused under a new generation.
	fresh := mustCreate(t, a)
	if fresh == h {
		t.Fatal("destroyed handle was reissued")
	}

	if st := a.Start(h, testHost{}); st != status.BundleException {
		t.Errorf("Start on stale handle: expected fault, got %s", st)
	}
	if st := a.Stop(h, testHost{}); st != status.BundleException {
		t.Errorf("Stop on stale handle: expected fault, got %s", st)
	}
	if st := a.Destroy(h, testHost{}); st != status.BundleException {
		t.Errorf("double Destroy: expected fault, got %s", st)
	}
	if st := a.Destroy(0, testHost{}); st != status.BundleException {
		t.Errorf("Destroy on zero handle: expected fault, got %s", st)
	}
	if a.Len() != 1 {
		t.Errorf("fresh handle should be untouched, len=%d", a.Len())
	}
}

func TestStop_PanicIsFault(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recordingSender{}
	a := New(BundleFunc(func(*bundlectx.Context, *stopsignal.Receiver) error {
		panic("user logic crashed")
	}), WithSender(rec))
	h := mustCreate(t, a)

	if st := a.Start(h, testHost{}); st != status.Success {
		t.Fatalf("Start returned %s", st)
	}
	if st := a.Stop(h, testHost{}); st != status.BundleException {
		t.Fatalf("expected fault, got %s", st)
	}
	if a.Active() != 0 {
		t.Errorf("expected no active workers, got %d", a.Active())
	}

	rec.mu.Lock()
	last := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	if last.Kind != sender.KindStopped || last.Error == "" {
		t.Errorf("expected stop event with the panic detail, got %+v", last)
	}
}

func TestStop_TimeoutDetachesWorker(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	sup := supervisor.New(supervisor.WithClock(mock))
	release := make(chan struct{})
	a := New(BundleFunc(func(*bundlectx.Context, *stopsignal.Receiver) error {
		<-release
		return nil
	}), WithSupervisor(sup), WithStopTimeout(2*time.Second))
	h := mustCreate(t, a)

	if st := a.Start(h, testHost{}); st != status.Success {
		t.Fatalf("Start returned %s", st)
	}

	result := make(chan status.Status, 1)
	go func() {
		result <- a.Stop(h, testHost{})
	}()

	var st status.Status
	deadline := time.After(5 * time.Second)
loop:
	for {
		select {
		case st = <-result:
			break loop
		case <-time.After(5 * time.Millisecond):
			mock.Add(500 * time.Millisecond)
		case <-deadline:
			t.Fatal("Stop did not time out")
		}
	}

	if st != status.BundleException {
		t.Errorf("expected fault after timeout, got %s", st)
	}
	if a.Active() != 0 {
		t.Errorf("handle should have no worker, active=%d", a.Active())
	}
	if sup.Leaked() != 1 {
		t.Errorf("expected 1 leaked worker, got %d", sup.Leaked())
	}
	if st := a.Destroy(h, testHost{}); st != status.Success {
		t.Errorf("Destroy after detach returned %s", st)
	}

	close(release)
	sup.Wait()
}

func TestSetStopTimeout(t *testing.T) {
	a := New(BundleFunc(untilStopped), WithStopTimeout(time.Second))
	if a.StopTimeout() != time.Second {
		t.Fatalf("expected 1s, got %s", a.StopTimeout())
	}
	a.SetStopTimeout(-time.Second)
	if a.StopTimeout() != 0 {
		t.Errorf("negative timeout should clamp to 0, got %s", a.StopTimeout())
	}
}

func TestEvents_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	rec := &recordingSender{}
	a := New(BundleFunc(untilStopped),
		WithName("heartbeat"),
		WithSender(rec),
		WithClock(mock),
		WithHostname("eqp-01"),
	)
	h := mustCreate(t, a)
	a.Start(h, testHost{})
	a.Stop(h, testHost{})
	a.Stop(h, testHost{})
	a.Destroy(h, testHost{})

	want := []sender.Kind{
		sender.KindCreated, sender.KindStarted, sender.KindStopped,
		sender.KindStopped, sender.KindDestroyed,
	}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	first, failed := rec.events[0], rec.events[3]
	if first.Bundle != "heartbeat" || first.Hostname != "eqp-01" || first.Handle != h.String() {
		t.Errorf("unexpected created event %+v", first)
	}
	if !first.Timestamp.Equal(mock.Now()) {
		t.Errorf("expected timestamp from the clock, got %s", first.Timestamp)
	}
	if failed.Status != int32(status.BundleException) || failed.Error == "" {
		t.Errorf("expected fault recorded on the second stop, got %+v", failed)
	}
}

func TestEvents_SinkFailureDoesNotChangeStatus(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(BundleFunc(untilStopped), WithSender(failingSender{}))
	h := mustCreate(t, a)

	if st := a.Start(h, testHost{}); st != status.Success {
		t.Fatalf("Start returned %s", st)
	}
	if st := a.Stop(h, testHost{}); st != status.Success {
		t.Fatalf("Stop returned %s", st)
	}
	if st := a.Destroy(h, testHost{}); st != status.Success {
		t.Fatalf("Destroy returned %s", st)
	}
}

func TestConcurrentHandles(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(BundleFunc(untilStopped))

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var h handle.Handle
			if st := a.Create(testHost{}, &h); st != status.Success {
				errs <- "create: " + st.String()
				return
			}
			if st := a.Start(h, testHost{}); st != status.Success {
				errs <- "start: " + st.String()
				return
			}
			if st := a.Stop(h, testHost{}); st != status.Success {
				errs <- "stop: " + st.String()
				return
			}
			if st := a.Destroy(h, testHost{}); st != status.Success {
				errs <- "destroy: " + st.String()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
	if a.Len() != 0 || a.Active() != 0 {
		t.Errorf("expected empty activator, len=%d active=%d", a.Len(), a.Active())
	}
}
