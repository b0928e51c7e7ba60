// Package notify fans TransitionApplied events out to the people who have to
// act next and to the event bus.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/metrics"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// Notification is what a Sink delivers for one event.
type Notification struct {
	Event      models.TransitionApplied
	Title      string
	Body       string
	Recipients []models.User
}

// Sink delivers notifications over one channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher implements lifecycle.Publisher. Publish only queues the event;
// worker goroutines resolve recipients and call the sinks, each delivery
// bounded by its own timeout. Sink failures are logged and counted, never
// returned. Events may reach the sinks out of order when more than one
// worker runs.
type Dispatcher struct {
	users   db.UserCollection
	sinks   []Sink
	log     *log.Entry
	timeout time.Duration
	workers int
	queue   chan delivery
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's log entry.
func WithLogger(entry *log.Entry) Option {
	return func(d *Dispatcher) {
		if entry != nil {
			d.log = entry
		}
	}
}

// WithQueueSize bounds how many events may wait for a worker. Events
// published while the queue is full are dropped.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan delivery, n)
		}
	}
}

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithDeliveryTimeout bounds recipient lookup and each sink call.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

var (
	errQueueFull = errors.New("notification queue full")
	errClosed    = errors.New("dispatcher closed")
)

// NewDispatcher creates a dispatcher delivering to sinks and starts its
// workers. Call Close to drain them.
func NewDispatcher(users db.UserCollection, sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		users:   users,
		sinks:   sinks,
		log:     log.WithField("component", "notify"),
		timeout: 10 * time.Second,
		workers: 4,
		queue:   make(chan delivery, 256),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.run()
	}
	return d
}

// delivery is one queued event with the publisher's context values.
type delivery struct {
	ctx   context.Context
	event models.TransitionApplied
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for job := range d.queue {
		d.Deliver(job.ctx, job.event)
	}
}

// Publish queues event for delivery and returns immediately. The caller's
// cancellation does not reach the delivery.
func (d *Dispatcher) Publish(ctx context.Context, event models.TransitionApplied) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event, errClosed)
		return
	}
	select {
	case d.queue <- delivery{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		d.drop(event, errQueueFull)
	}
}

func (d *Dispatcher) drop(event models.TransitionApplied, reason error) {
	for _, sink := range d.sinks {
		metrics.ObserveDelivery(sink.Name(), reason)
	}
	d.log.WithFields(log.Fields{
		"request_id": event.RequestID,
		"to":         event.To,
	}).WithError(reason).Warn("notification dropped")
}

// Deliver resolves the recipients of event and hands it to every sink,
// bounding each step by the delivery timeout.
func (d *Dispatcher) Deliver(ctx context.Context, event models.TransitionApplied) {
	fields := log.Fields{
		"request_id": event.RequestID,
		"to":         event.To,
	}
	lookupCtx, cancel := context.WithTimeout(ctx, d.timeout)
	recipients, err := d.Recipients(lookupCtx, event)
	cancel()
	if err != nil {
		d.log.WithFields(fields).WithError(err).Error("failed to resolve notification recipients")
	}
	title, body := message(event)
	n := Notification{Event: event, Title: title, Body: body, Recipients: recipients}

	for _, sink := range d.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Deliver(sinkCtx, n)
		cancel()
		metrics.ObserveDelivery(sink.Name(), err)
		if err != nil {
			d.log.WithFields(fields).WithField("sink", sink.Name()).WithError(err).Error("notification delivery failed")
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered,
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notifications: %w", ctx.Err())
	}
}

// Recipients returns the users who act on the request in its new status,
// without the actor who caused the transition.
func (d *Dispatcher) Recipients(ctx context.Context, event models.TransitionApplied) ([]models.User, error) {
	var (
		users []models.User
		err   error
	)
	switch event.To {
	case models.StatusPendingDiagnosis, models.StatusInRepair:
		users, err = d.users.FindUsersByRole(ctx, models.RoleTechnician, event.SiteID)
	case models.StatusPendingDecision, models.StatusPendingClosure:
		users, err = d.users.FindUsersByRole(ctx, models.RoleCoordinator, event.SiteID)
	case models.StatusReadyForDelivery, models.StatusClosed, models.StatusRejected:
		var driver *models.User
		driver, err = d.users.FindUserByID(ctx, event.DriverID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		if driver != nil {
			users = []models.User{*driver}
		}
	default:
		return nil, fmt.Errorf("no recipients for status %q", event.To)
	}
	if err != nil {
		return nil, err
	}

	out := users[:0]
	for _, u := range users {
		if u.ID.Hex() != event.ActorID {
			out = append(out, u)
		}
	}
	return out, nil
}

func message(event models.TransitionApplied) (string, string) {
	switch event.To {
	case models.StatusPendingDiagnosis:
		return "New maintenance request", "A driver reported an issue that needs a diagnosis."
	case models.StatusPendingDecision:
		return "Diagnosis ready", "A diagnosed request is waiting for your decision."
	case models.StatusInRepair:
		return "Repair approved", "An approved request is ready to be repaired."
	case models.StatusReadyForDelivery:
		return "Vehicle ready", "Your vehicle has been repaired. Please confirm receipt."
	case models.StatusPendingClosure:
		return "Receipt confirmed", "The driver confirmed receipt. The request can be closed."
	case models.StatusRejected:
		return "Request rejected", "Your maintenance request was rejected."
	case models.StatusClosed:
		return "Request closed", "Your maintenance request has been closed."
	default:
		return "Request updated", fmt.Sprintf("Request %s moved to %s.", event.RequestID, event.To)
	}
}
