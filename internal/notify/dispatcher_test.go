package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/lifecycle"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

type recordingSink struct {
	name string
	err  error

	mu  sync.Mutex
	got []Notification
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.err
}

func (s *recordingSink) delivered() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.got...)
}

// stuckSink blocks every delivery until release is closed or its context
// ends, and reports the context error it saw afterwards.
type stuckSink struct {
	entered chan struct{}
	release chan struct{}
	errs    chan error
}

func newStuckSink() *stuckSink {
	return &stuckSink{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
		errs:    make(chan error, 16),
	}
}

func (s *stuckSink) Name() string { return "stuck" }

func (s *stuckSink) Deliver(ctx context.Context, n Notification) error {
	s.entered <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	s.errs <- ctx.Err()
	return ctx.Err()
}

type people struct {
	driver, tech, tech2, foreignTech, coord models.User
}

func seed(t *testing.T, store *db.MemoryStore) people {
	t.Helper()
	ctx := context.Background()
	p := people{
		driver:      models.User{Username: "dora", Role: models.RoleDriver, SiteID: "north", PushTokens: []string{"tok-dora"}},
		tech:        models.User{Username: "tom", Role: models.RoleTechnician, SiteID: "north", PushTokens: []string{"tok-tom"}},
		tech2:       models.User{Username: "tina", Role: models.RoleTechnician, SiteID: "north"},
		foreignTech: models.User{Username: "sam", Role: models.RoleTechnician, SiteID: "south"},
		coord:       models.User{Username: "cleo", Role: models.RoleCoordinator, SiteID: "north"},
	}
	for _, u := range []*models.User{&p.driver, &p.tech, &p.tech2, &p.foreignTech, &p.coord} {
		require.NoError(t, store.InsertUser(ctx, *u))
		stored, err := store.FindUserByUsername(ctx, u.Username)
		require.NoError(t, err)
		*u = *stored
	}
	return p
}

func usernames(users []models.User) []string {
	out := []string{}
	for _, u := range users {
		out = append(out, u.Username)
	}
	return out
}

func TestDispatcher_Recipients(t *testing.T) {
	store := db.NewMemoryStore()
	p := seed(t, store)
	d := NewDispatcher(store, nil)
	defer d.Close(context.Background())

	tests := []struct {
		name  string
		event models.TransitionApplied
		want  []string
	}{
		{"submitted goes to site technicians", models.TransitionApplied{To: models.StatusPendingDiagnosis, SiteID: "north", ActorID: p.driver.ID.Hex()}, []string{"tina", "tom"}},
		{"diagnosed goes to coordinators", models.TransitionApplied{To: models.StatusPendingDecision, SiteID: "north", ActorID: p.tech.ID.Hex()}, []string{"cleo"}},
		{"approved skips the acting technician", models.TransitionApplied{To: models.StatusInRepair, SiteID: "north", ActorID: p.tech.ID.Hex()}, []string{"tina"}},
		{"repaired goes to the driver", models.TransitionApplied{To: models.StatusReadyForDelivery, SiteID: "north", DriverID: p.driver.ID.Hex()}, []string{"dora"}},
		{"rejected goes to the driver", models.TransitionApplied{To: models.StatusRejected, SiteID: "north", DriverID: p.driver.ID.Hex()}, []string{"dora"}},
		{"unknown driver", models.TransitionApplied{To: models.StatusClosed, DriverID: "000000000000000000000000"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Recipients(context.Background(), tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, usernames(got))
		})
	}
}

func TestDispatcher_PublishSurvivesSinkFailure(t *testing.T) {
	store := db.NewMemoryStore()
	p := seed(t, store)
	broken := &recordingSink{name: "broken", err: errors.New("offline")}
	healthy := &recordingSink{name: "healthy"}
	d := NewDispatcher(store, []Sink{broken, healthy})

	event := models.TransitionApplied{RequestID: "r1", To: models.StatusPendingDecision, SiteID: "north", ActorID: p.tech.ID.Hex()}
	d.Publish(context.Background(), event)
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, broken.delivered(), 1)
	require.Len(t, healthy.delivered(), 1)
	n := healthy.delivered()[0]
	assert.Equal(t, event, n.Event)
	assert.Equal(t, "Diagnosis ready", n.Title)
	assert.Equal(t, []string{"cleo"}, usernames(n.Recipients))
}

func TestDispatcher_StuckSinkDoesNotDelayTransition(t *testing.T) {
	store := db.NewMemoryStore()
	p := seed(t, store)
	vehicle := models.Vehicle{SiteID: "north", Plate: "NOR001"}
	require.NoError(t, store.InsertVehicle(context.Background(), &vehicle))

	stuck := newStuckSink()
	healthy := &recordingSink{name: "healthy"}
	d := NewDispatcher(store, []Sink{stuck, healthy}, WithDeliveryTimeout(time.Minute))
	quiet := log.New()
	quiet.SetOutput(io.Discard)
	engine := lifecycle.NewEngine(store, store, lifecycle.WithPublisher(d), lifecycle.WithLogger(log.NewEntry(quiet)))

	ctx, cancel := context.WithCancel(context.Background())
	driver := models.Claims{UserID: p.driver.ID.Hex(), Role: models.RoleDriver, SiteID: "north"}
	start := time.Now()
	req, err := engine.Submit(ctx, driver, lifecycle.SubmitInput{VehicleID: vehicle.ID.Hex(), IssueText: "Brakes", Signature: "sig"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.StatusPendingDiagnosis, req.Status)

	// The HTTP request finishing must not abort the delivery.
	cancel()
	select {
	case <-stuck.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never started")
	}
	close(stuck.release)
	require.NoError(t, d.Close(context.Background()))

	assert.NoError(t, <-stuck.errs)
	got := healthy.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, req.ID.Hex(), got[0].Event.RequestID)
	assert.Equal(t, []string{"tina", "tom"}, usernames(got[0].Recipients))
}

func TestDispatcher_DeliveryTimeout(t *testing.T) {
	store := db.NewMemoryStore()
	seed(t, store)
	stuck := newStuckSink()
	healthy := &recordingSink{name: "healthy"}
	d := NewDispatcher(store, []Sink{stuck, healthy}, WithDeliveryTimeout(20*time.Millisecond))

	d.Publish(context.Background(), models.TransitionApplied{RequestID: "r1", To: models.StatusInRepair, SiteID: "north"})
	require.NoError(t, d.Close(context.Background()))

	assert.ErrorIs(t, <-stuck.errs, context.DeadlineExceeded)
	assert.Len(t, healthy.delivered(), 1)
}

func TestDispatcher_QueueFullDrops(t *testing.T) {
	store := db.NewMemoryStore()
	stuck := newStuckSink()
	d := NewDispatcher(store, []Sink{stuck}, WithWorkers(1), WithQueueSize(1), WithDeliveryTimeout(time.Minute))

	event := models.TransitionApplied{RequestID: "r1", To: models.StatusClosed, DriverID: "000000000000000000000000"}
	d.Publish(context.Background(), event)
	<-stuck.entered

	d.Publish(context.Background(), event) // queued
	d.Publish(context.Background(), event) // dropped
	close(stuck.release)
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, stuck.errs, 2)
}

func TestDispatcher_Close(t *testing.T) {
	store := db.NewMemoryStore()
	stuck := newStuckSink()
	d := NewDispatcher(store, []Sink{stuck}, WithDeliveryTimeout(time.Minute))

	event := models.TransitionApplied{RequestID: "r1", To: models.StatusClosed, DriverID: "000000000000000000000000"}
	d.Publish(context.Background(), event)
	<-stuck.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	// Publishing after Close is dropped rather than panicking.
	d.Publish(context.Background(), event)
	close(stuck.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, stuck.errs, 1)
}

type mockMessenger struct {
	mock.Mock
}

func (m *mockMessenger) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func TestPushSink_Deliver(t *testing.T) {
	n := Notification{
		Event:      models.TransitionApplied{RequestID: "r1", To: models.StatusReadyForDelivery, At: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		Title:      "Vehicle ready",
		Recipients: []models.User{{PushTokens: []string{"a", "b"}}, {}},
	}

	t.Run("sends to every token", func(t *testing.T) {
		m := new(mockMessenger)
		m.On("SendEachForMulticast", mock.Anything, mock.MatchedBy(func(msg *messaging.MulticastMessage) bool {
			return assert.ObjectsAreEqual([]string{"a", "b"}, msg.Tokens) &&
				msg.Data["request_id"] == "r1" &&
				msg.Data["status"] == "ready_for_delivery" &&
				msg.Notification.Title == "Vehicle ready"
		})).Return(&messaging.BatchResponse{SuccessCount: 2}, nil)

		assert.NoError(t, NewPushSink(m).Deliver(context.Background(), n))
		m.AssertExpectations(t)
	})

	t.Run("partial failure", func(t *testing.T) {
		m := new(mockMessenger)
		m.On("SendEachForMulticast", mock.Anything, mock.Anything).Return(&messaging.BatchResponse{SuccessCount: 1, FailureCount: 1}, nil)
		assert.EqualError(t, NewPushSink(m).Deliver(context.Background(), n), "1 of 2 push deliveries failed")
	})

	t.Run("no tokens", func(t *testing.T) {
		m := new(mockMessenger)
		assert.NoError(t, NewPushSink(m).Deliver(context.Background(), Notification{}))
		m.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
	})
}

type fakeToken struct {
	err      error
	finished bool
}

func (f *fakeToken) Wait() bool                     { return f.finished }
func (f *fakeToken) WaitTimeout(time.Duration) bool { return f.finished }
func (f *fakeToken) Error() error                   { return f.err }
func (f *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if f.finished {
		close(ch)
	}
	return ch
}

type fakeBroker struct {
	token    *fakeToken
	topic    string
	qos      byte
	payloads [][]byte
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b.topic = topic
	b.qos = qos
	b.payloads = append(b.payloads, payload.([]byte))
	return b.token
}

func TestBusSink_Deliver(t *testing.T) {
	event := models.TransitionApplied{RequestID: "r1", SiteID: "north", To: models.StatusInRepair, Action: "decide"}

	broker := &fakeBroker{token: &fakeToken{finished: true}}
	sink := NewBusSink(broker, "maintenance")
	require.NoError(t, sink.Deliver(context.Background(), Notification{Event: event}))
	assert.Equal(t, "maintenance/north/in_repair", broker.topic)
	assert.Equal(t, byte(1), broker.qos)

	var decoded models.TransitionApplied
	require.NoError(t, json.Unmarshal(broker.payloads[0], &decoded))
	assert.Equal(t, event, decoded)

	failing := NewBusSink(&fakeBroker{token: &fakeToken{finished: true, err: errors.New("not connected")}}, "maintenance")
	assert.EqualError(t, failing.Deliver(context.Background(), Notification{Event: event}), "not connected")

	stuck := NewBusSink(&fakeBroker{token: &fakeToken{}}, "maintenance")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := stuck.Deliver(ctx, Notification{Event: event})
	assert.ErrorContains(t, err, "timed out")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
