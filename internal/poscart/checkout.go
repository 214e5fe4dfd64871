package poscart

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/shoplight/pos-backend/internal/models"
	"github.com/shoplight/pos-backend/internal/store"
)

// State is the checkout dialog state.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateCanceled   State = "canceled"
	StateFailed     State = "failed"
	// StateError means the checkout request itself failed, as opposed to
	// StateFailed which is a valid terminal outcome reported by the vendor.
	StateError State = "error"
)

// Terminal reports whether the flow has reached a vendor-reported outcome.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCanceled, StateFailed:
		return true
	}
	return false
}

var (
	ErrEmptyCart  = errors.New("cart is empty")
	ErrInFlight   = errors.New("checkout already in progress")
	ErrNoDeviceID = errors.New("no device selected")
)

// Processor starts a checkout and reports its stored status. It is the
// user-bound view of the backend payment operations, so the flow never
// handles identity itself.
type Processor interface {
	ProcessPayment(ctx context.Context, lines []store.OrderLineRequest, deviceID string) (string, error)
	CheckoutStatus(ctx context.Context, checkoutID string) (*models.Checkout, error)
}

// Flow drives one checkout attempt:
//
//	idle -> requesting -> pending/in_progress -> completed|canceled|failed
//
// with error reachable from requesting. Polling starts only once a checkout
// id exists and stops on a terminal status or a missing record. Closing the
// dialog stops observing but never cancels the remote checkout; the vendor
// side runs to its own conclusion.
type Flow struct {
	proc Processor

	PollInterval time.Duration
	// SoftTimeout only logs a warning; the remote checkout is left running.
	SoftTimeout time.Duration
	// CloseDelay postpones clearing the checkout id so the dialog does not
	// flash back to a loading state mid close animation.
	CloseDelay time.Duration

	// OnChange, when set before Submit, observes every state transition.
	OnChange func(State)

	mu         sync.Mutex
	state      State
	checkoutID string
	result     *models.Checkout
	err        error
	timedOut   bool
	cancel     context.CancelFunc
}

func NewFlow(proc Processor) *Flow {
	return &Flow{
		proc:         proc,
		PollInterval: 2 * time.Second,
		SoftTimeout:  5 * time.Minute,
		CloseDelay:   200 * time.Millisecond,
		state:        StateIdle,
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) CheckoutID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkoutID
}

// Result is the last stored checkout record observed, nil before the first
// poll lands.
func (f *Flow) Result() *models.Checkout {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Err is the request error that moved the flow to StateError.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Flow) TimedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timedOut
}

func (f *Flow) setState(s State) {
	f.state = s
	if f.OnChange != nil {
		f.OnChange(s)
	}
}

// Submit starts a checkout for the cart contents. Guards fail fast without
// leaving idle so the dialog can show a toast and stay usable.
func (f *Flow) Submit(ctx context.Context, cart *Cart, deviceID string) error {
	if cart.Len() == 0 {
		return ErrEmptyCart
	}
	if deviceID == "" {
		return ErrNoDeviceID
	}

	f.mu.Lock()
	if f.state != StateIdle {
		f.mu.Unlock()
		return ErrInFlight
	}
	f.setState(StateRequesting)
	f.err = nil
	f.result = nil
	f.timedOut = false
	f.mu.Unlock()

	checkoutID, err := f.proc.ProcessPayment(ctx, cart.Requests(), deviceID)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.setState(StateError)
		f.err = err
		return err
	}

	f.checkoutID = checkoutID
	f.setState(StatePending)

	pollCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.poll(pollCtx, checkoutID)
	return nil
}

func (f *Flow) poll(ctx context.Context, checkoutID string) {
	ticker := time.NewTicker(f.PollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(f.SoftTimeout)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		record, err := f.proc.CheckoutStatus(ctx, checkoutID)
		if err != nil {
			log.Printf("poscart: poll checkout %s: %v", checkoutID, err)
			continue
		}
		if record == nil {
			// Record gone or never visible to this user; nothing left to
			// observe.
			return
		}

		f.apply(record)
		if models.CheckoutStatus(record.Status).Terminal() {
			return
		}

		if time.Now().After(deadline) {
			f.mu.Lock()
			if !f.timedOut {
				f.timedOut = true
				log.Printf("poscart: checkout %s still %s after %s", checkoutID, record.Status, f.SoftTimeout)
			}
			f.mu.Unlock()
		}
	}
}

func (f *Flow) apply(record *models.Checkout) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.Terminal() || f.state == StateIdle {
		return
	}

	f.result = record
	switch record.Status {
	case models.CheckoutPending:
		f.setState(StatePending)
	case models.CheckoutInProgress:
		f.setState(StateInProgress)
	case models.CheckoutCompleted:
		f.setState(StateCompleted)
	case models.CheckoutCanceled:
		f.setState(StateCanceled)
	case models.CheckoutFailed:
		f.setState(StateFailed)
	}
}

// Close dismisses the dialog and stops polling. The checkout id is cleared
// after CloseDelay; reads during that window still see it.
func (f *Flow) Close() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.setState(StateIdle)
	f.err = nil
	f.timedOut = false
	delay := f.CloseDelay
	f.mu.Unlock()

	time.AfterFunc(delay, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.state == StateIdle {
			f.checkoutID = ""
			f.result = nil
		}
	})
}
