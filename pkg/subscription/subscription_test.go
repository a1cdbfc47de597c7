package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/viss-protocol/viss-go/pkg/auth"
	"github.com/viss-protocol/viss-go/pkg/filter"
	"github.com/viss-protocol/viss-go/pkg/model"
	"github.com/viss-protocol/viss-go/pkg/store"
)

type fixture struct {
	tree  *model.Tree
	store *store.Store
	mgr   *Manager
	speed model.Handle
	fuel  model.Handle
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	b := model.NewBuilder()
	if _, err := b.Add("Vehicle.Speed", model.Metadata{Kind: model.KindSensor, Type: model.DataTypeFloat}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Add("Vehicle.Powertrain.FuelSystem.Level", model.Metadata{Kind: model.KindSensor, Type: model.DataTypeUint8}); err != nil {
		t.Fatal(err)
	}
	tree, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		tree:  tree,
		store: store.New(tree, store.DefaultConfig()),
		mgr:   NewManagerWithConfig(config),
	}
	f.mgr.Attach(f.store)
	f.speed, _ = tree.Lookup("Vehicle.Speed")
	f.fuel, _ = tree.Lookup("Vehicle.Powertrain.FuelSystem.Level")
	return f
}

func (f *fixture) write(t *testing.T, h model.Handle, v any, ms int64) {
	t.Helper()
	if _, err := f.store.Update(h, v, time.UnixMilli(ms)); err != nil {
		t.Fatalf("Update(%v @%d): %v", v, ms, err)
	}
}

func drain(s *Session) []Delivery {
	var out []Delivery
	for {
		d, ok := s.TryNext()
		if !ok {
			return out
		}
		out = append(out, d)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "PENDING"},
		{StateActive, "ACTIVE"},
		{StatePaused, "PAUSED"},
		{StateCancelled, "CANCELLED"},
		{StateExpired, "EXPIRED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
	if !StateExpired.IsTerminal() || StatePaused.IsTerminal() {
		t.Error("IsTerminal mismatch")
	}
}

func TestSubscribeNoFilterDeliversEveryWrite(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	// A write before subscribing is not delivered.
	f.write(t, f.speed, 50, 100)

	sess := f.mgr.OpenSession(auth.Anonymous)
	sub, err := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.State() != StateActive {
		t.Errorf("State() = %s, want ACTIVE", sub.State())
	}
	if sess.Pending() != 0 {
		t.Fatalf("Pending() = %d after subscribe, want 0", sess.Pending())
	}

	f.write(t, f.speed, 55, 150)
	f.write(t, f.speed, 55, 160)
	f.write(t, f.speed, 60, 170)

	got := drain(sess)
	if len(got) != 3 {
		t.Fatalf("got %d deliveries, want 3", len(got))
	}
	d := got[0]
	if d.SubscriptionID != sub.ID || d.Path != "Vehicle.Speed" || d.Value != float64(55) || !d.Timestamp.Equal(time.UnixMilli(150)) {
		t.Errorf("first delivery = %+v", d)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("delivery %d out of timestamp order", i)
		}
	}
}

func TestSubscribeMinChange(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)
	if _, err := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.MinChange(5)); err != nil {
		t.Fatal(err)
	}

	f.write(t, f.speed, 100, 1)
	f.write(t, f.speed, 104, 2) // change of 4 < 5
	f.write(t, f.speed, 105, 3) // change of 5 >= 5

	got := drain(sess)
	if len(got) != 2 {
		t.Fatalf("got %d deliveries, want 2: %+v", len(got), got)
	}
	if got[1].Value != float64(105) {
		t.Errorf("second delivery value = %v, want 105", got[1].Value)
	}
}

func TestFiltersEvaluatedPerPath(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)
	if _, err := f.mgr.Subscribe(sess, "Vehicle.**", []model.Handle{f.speed, f.fuel}, filter.Curation()); err != nil {
		t.Fatal(err)
	}

	f.write(t, f.speed, 10, 1)
	f.write(t, f.fuel, 10, 1) // same value, other leaf: still delivered
	f.write(t, f.speed, 10, 2)

	got := drain(sess)
	if len(got) != 2 {
		t.Fatalf("got %d deliveries, want 2: %+v", len(got), got)
	}
	if got[0].Path == got[1].Path {
		t.Errorf("both deliveries on %s", got[0].Path)
	}
}

func TestSubscriptionsIndependent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)
	strict, _ := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.MinChange(100))
	loose, _ := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())

	f.write(t, f.speed, 1, 1)
	f.write(t, f.speed, 2, 2)

	counts := map[string]int{}
	for _, d := range drain(sess) {
		counts[d.SubscriptionID]++
	}
	if counts[strict.ID] != 1 || counts[loose.ID] != 2 {
		t.Errorf("counts = %v, want strict=1 loose=2", counts)
	}
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)
	sub, _ := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())

	f.write(t, f.speed, 1, 1) // queued, then purged by unsubscribe

	if err := f.mgr.Unsubscribe(sub.ID); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if sub.State() != StateCancelled {
		t.Errorf("State() = %s, want CANCELLED", sub.State())
	}

	f.write(t, f.speed, 2, 2)
	if got := drain(sess); len(got) != 0 {
		t.Errorf("got %d deliveries after unsubscribe, want 0", len(got))
	}

	if err := f.mgr.Unsubscribe(sub.ID); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("second Unsubscribe = %v, want ErrSubscriptionNotFound", err)
	}
	if f.mgr.Count() != 0 {
		t.Errorf("Count() = %d, want 0", f.mgr.Count())
	}
	if _, ok := sess.Subscription(sub.ID); ok {
		t.Error("session still lists the cancelled subscription")
	}
}

func TestUnsubscribeAll(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)
	other := f.mgr.OpenSession(auth.Anonymous)
	_, _ = f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())
	_, _ = f.mgr.Subscribe(sess, "Vehicle.Powertrain.FuelSystem.Level", []model.Handle{f.fuel}, filter.None())
	keep, _ := f.mgr.Subscribe(other, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())

	if n := f.mgr.UnsubscribeAll(sess); n != 2 {
		t.Errorf("UnsubscribeAll = %d, want 2", n)
	}
	if n := f.mgr.UnsubscribeAll(sess); n != 0 {
		t.Errorf("second UnsubscribeAll = %d, want 0", n)
	}
	if !keep.IsActive() {
		t.Error("other session's subscription was cancelled")
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)
	sub, _ := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())

	if err := f.mgr.Pause(sub.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := f.mgr.Pause(sub.ID); err != nil {
		t.Errorf("second Pause = %v, want nil", err)
	}
	f.write(t, f.speed, 1, 1)
	if got := drain(sess); len(got) != 0 {
		t.Errorf("got %d deliveries while paused", len(got))
	}

	if err := f.mgr.Resume(sub.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	f.write(t, f.speed, 2, 2)
	if got := drain(sess); len(got) != 1 {
		t.Errorf("got %d deliveries after resume, want 1", len(got))
	}

	_ = f.mgr.Unsubscribe(sub.ID)
	if err := f.mgr.Resume(sub.ID); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("Resume after cancel = %v, want ErrSubscriptionNotFound", err)
	}
}

func TestSubscribeErrors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)

	if _, err := f.mgr.Subscribe(sess, "x", nil, filter.None()); !errors.Is(err, ErrNoTargets) {
		t.Errorf("empty handles = %v, want ErrNoTargets", err)
	}
	if _, err := f.mgr.Subscribe(sess, "x", []model.Handle{f.speed}, filter.Timing(0)); !errors.Is(err, filter.ErrInvalidFilter) {
		t.Errorf("bad filter = %v, want ErrInvalidFilter", err)
	}

	sess.Close()
	if _, err := f.mgr.Subscribe(sess, "x", []model.Handle{f.speed}, filter.None()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("closed session = %v, want ErrSessionClosed", err)
	}
}

func TestSubscriptionLimits(t *testing.T) {
	config := DefaultConfig()
	config.MaxSubscriptions = 3
	config.MaxSubscriptionsPerSession = 2
	f := newFixture(t, config)

	a := f.mgr.OpenSession(auth.Anonymous)
	b := f.mgr.OpenSession(auth.Anonymous)
	for i := 0; i < 2; i++ {
		if _, err := f.mgr.Subscribe(a, "s", []model.Handle{f.speed}, filter.None()); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.mgr.Subscribe(a, "s", []model.Handle{f.speed}, filter.None()); !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("per-session limit = %v, want ErrResourceExhausted", err)
	}
	if _, err := f.mgr.Subscribe(b, "s", []model.Handle{f.speed}, filter.None()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Subscribe(b, "s", []model.Handle{f.speed}, filter.None()); !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("global limit = %v, want ErrResourceExhausted", err)
	}
}

func TestBackPressureDropsOldestOfSameSubscription(t *testing.T) {
	config := DefaultConfig()
	config.QueueSize = 3
	f := newFixture(t, config)
	sess := f.mgr.OpenSession(auth.Anonymous)

	fast, _ := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())
	slow, _ := f.mgr.Subscribe(sess, "Vehicle.Powertrain.FuelSystem.Level", []model.Handle{f.fuel}, filter.None())

	f.write(t, f.fuel, 50, 1)
	f.write(t, f.speed, 1, 1)
	f.write(t, f.speed, 2, 2)
	f.write(t, f.speed, 3, 3) // drops speed=1, not the older fuel delivery

	if !fast.Gap() || fast.Dropped() != 1 {
		t.Errorf("fast Gap()=%v Dropped()=%d, want true/1", fast.Gap(), fast.Dropped())
	}
	if slow.Gap() {
		t.Error("slow subscription must not be marked")
	}
	if sess.Dropped() != 1 {
		t.Errorf("session Dropped() = %d, want 1", sess.Dropped())
	}

	got := drain(sess)
	if len(got) != 3 {
		t.Fatalf("got %d deliveries, want 3", len(got))
	}
	if got[0].SubscriptionID != slow.ID || got[0].Gap {
		t.Errorf("got[0] = %+v, want fuel delivery without gap", got[0])
	}
	if got[1].Value != float64(2) || !got[1].Gap {
		t.Errorf("got[1] = %+v, want speed=2 with gap", got[1])
	}
	if got[2].Value != float64(3) || got[2].Gap {
		t.Errorf("got[2] = %+v, want speed=3 without gap", got[2])
	}
}

func TestBackPressureDropsIncomingWhenNothingQueued(t *testing.T) {
	config := DefaultConfig()
	config.QueueSize = 2
	f := newFixture(t, config)
	sess := f.mgr.OpenSession(auth.Anonymous)

	speedSub, _ := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())
	fuelSub, _ := f.mgr.Subscribe(sess, "Vehicle.Powertrain.FuelSystem.Level", []model.Handle{f.fuel}, filter.None())

	f.write(t, f.speed, 1, 1)
	f.write(t, f.speed, 2, 2)
	f.write(t, f.fuel, 50, 1) // fuel has nothing queued: its own delivery goes

	if speedSub.Gap() || speedSub.Dropped() != 0 {
		t.Errorf("speed Gap()=%v Dropped()=%d, want false/0", speedSub.Gap(), speedSub.Dropped())
	}
	if !fuelSub.Gap() || fuelSub.Dropped() != 1 {
		t.Errorf("fuel Gap()=%v Dropped()=%d, want true/1", fuelSub.Gap(), fuelSub.Dropped())
	}
	if sess.Dropped() != 1 {
		t.Errorf("session Dropped() = %d, want 1", sess.Dropped())
	}

	got := drain(sess)
	if len(got) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(got))
	}
	for i, want := range []float64{1, 2} {
		if got[i].SubscriptionID != speedSub.ID || got[i].Value != want || got[i].Gap {
			t.Errorf("got[%d] = %+v, want speed=%v without gap", i, got[i], want)
		}
	}

	// The next fuel delivery reports the loss.
	f.write(t, f.fuel, 49, 2)
	got = drain(sess)
	if len(got) != 1 || got[0].SubscriptionID != fuelSub.ID || !got[0].Gap {
		t.Errorf("got = %+v, want fuel=49 with gap", got)
	}
}

func TestNextBlocksUntilDelivery(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)
	_, _ = f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())

	result := make(chan Delivery, 1)
	go func() {
		d, err := sess.Next(context.Background())
		if err == nil {
			result <- d
		}
	}()

	time.Sleep(20 * time.Millisecond)
	f.write(t, f.speed, 42, 1)

	select {
	case d := <-result:
		if d.Value != float64(42) {
			t.Errorf("Next value = %v, want 42", d.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return")
	}
}

func TestNextContextAndClose(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sess.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next with timeout = %v, want DeadlineExceeded", err)
	}

	sess.Close()
	if _, err := sess.Next(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Next after close = %v, want ErrSessionClosed", err)
	}
}

func TestSessionCloseCancelsSubscriptions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)
	sub, _ := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())

	f.mgr.CloseSession(sess)
	f.mgr.CloseSession(sess) // idempotent

	if sub.State() != StateCancelled {
		t.Errorf("State() = %s, want CANCELLED", sub.State())
	}
	if f.mgr.Count() != 0 || f.mgr.SessionCount() != 0 {
		t.Errorf("Count()=%d SessionCount()=%d, want 0/0", f.mgr.Count(), f.mgr.SessionCount())
	}
	if _, err := f.mgr.Session(sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Session() = %v, want ErrSessionNotFound", err)
	}
	select {
	case <-sess.Done():
	default:
		t.Error("Done() not closed")
	}
}

func TestDetachExpiresAfterGracePeriod(t *testing.T) {
	config := DefaultConfig()
	config.GracePeriod = 30 * time.Millisecond
	f := newFixture(t, config)
	sess := f.mgr.OpenSession(auth.Anonymous)
	sub, _ := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())

	sess.Detach()
	if sess.State() != SessionDetached {
		t.Errorf("State() = %s, want DETACHED", sess.State())
	}

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not expire")
	}
	if sub.State() != StateExpired {
		t.Errorf("subscription State() = %s, want EXPIRED", sub.State())
	}
	if _, err := f.mgr.ResumeSession(sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ResumeSession after expiry = %v, want ErrSessionNotFound", err)
	}
	if err := sess.Attach(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Attach after expiry = %v, want ErrSessionClosed", err)
	}
}

func TestResumeWithinGracePeriod(t *testing.T) {
	config := DefaultConfig()
	config.GracePeriod = 50 * time.Millisecond
	f := newFixture(t, config)
	sess := f.mgr.OpenSession(auth.Anonymous)
	sub, _ := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())

	sess.Detach()
	f.write(t, f.speed, 7, 1) // queued while detached

	resumed, err := f.mgr.ResumeSession(sess.ID())
	if err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}
	if resumed != sess {
		t.Fatal("ResumeSession returned a different session")
	}

	time.Sleep(100 * time.Millisecond)
	if sub.State() != StateActive {
		t.Errorf("State() = %s after resume, want ACTIVE", sub.State())
	}
	got := drain(sess)
	if len(got) != 1 || got[0].Value != float64(7) {
		t.Errorf("got %+v, want the delivery queued while detached", got)
	}

	// A second detach starts a fresh grace period.
	sess.Detach()
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not expire after second detach")
	}
}

func TestConcurrentResumeAttachesOnce(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)

	if _, err := f.mgr.ResumeSession(sess.ID()); !errors.Is(err, ErrSessionAttached) {
		t.Fatalf("ResumeSession on attached session = %v, want ErrSessionAttached", err)
	}

	sess.Detach()

	const callers = 16
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.mgr.ResumeSession(sess.ID())
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case !errors.Is(err, ErrSessionAttached):
			t.Errorf("ResumeSession = %v, want nil or ErrSessionAttached", err)
		}
	}
	if won != 1 {
		t.Errorf("%d resumes succeeded, want exactly 1", won)
	}
	if sess.State() != SessionAttached {
		t.Errorf("State() = %s, want ATTACHED", sess.State())
	}
}

func TestCancelConcurrentWithDelivery(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Anonymous)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_, _ = f.store.Update(f.speed, float64(i), time.UnixMilli(i))
		}
	}()

	for i := 0; i < 50; i++ {
		sub, err := f.mgr.Subscribe(sess, "Vehicle.Speed", []model.Handle{f.speed}, filter.None())
		if err != nil {
			t.Fatal(err)
		}
		if err := f.mgr.Unsubscribe(sub.ID); err != nil {
			t.Fatal(err)
		}
		for _, d := range drain(sess) {
			if d.SubscriptionID == sub.ID {
				t.Fatalf("delivery for cancelled subscription %s", sub.ID)
			}
		}
	}
	close(stop)
	wg.Wait()
}

func TestSessionIdentity(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sess := f.mgr.OpenSession(auth.Identity{Subject: "app"})
	if sess.Identity().Subject != "app" {
		t.Errorf("Identity().Subject = %q, want app", sess.Identity().Subject)
	}
	sess.SetIdentity(auth.Identity{Subject: "other"})
	if sess.Identity().Subject != "other" {
		t.Errorf("Identity().Subject = %q after SetIdentity, want other", sess.Identity().Subject)
	}
	if got, _ := f.mgr.Session(sess.ID()); got != sess {
		t.Error("Session() lookup failed")
	}
}

func TestManagerClose(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.mgr.OpenSession(auth.Anonymous)
	b := f.mgr.OpenSession(auth.Anonymous)
	_, _ = f.mgr.Subscribe(a, "s", []model.Handle{f.speed}, filter.None())
	_, _ = f.mgr.Subscribe(b, "s", []model.Handle{f.fuel}, filter.None())

	f.mgr.Close()
	if f.mgr.Count() != 0 || f.mgr.SessionCount() != 0 {
		t.Errorf("Count()=%d SessionCount()=%d after Close", f.mgr.Count(), f.mgr.SessionCount())
	}
}
