package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/payment"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

// Step is a state of the checkout workflow.
type Step int

const (
	StepShipping Step = iota + 1
	StepBilling
	StepPayment
	StepReview
	StepSubmitted
	StepFailed
)

func (s Step) String() string {
	switch s {
	case StepShipping:
		return "shipping"
	case StepBilling:
		return "billing"
	case StepPayment:
		return "payment"
	case StepReview:
		return "review"
	case StepSubmitted:
		return "submitted"
	case StepFailed:
		return "failed"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// IsForm reports whether s is one of the four steps that accept input.
func (s Step) IsForm() bool { return s >= StepShipping && s <= StepReview }

var (
	ErrWrongStep        = errors.New("operation not allowed at this checkout step")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrAlreadySubmitted = errors.New("order already submitted")

	// ErrKeyReused means the idempotency key already placed an order with
	// different lines than the cart holds now.
	ErrKeyReused = errors.New("idempotency key already used for a different order")
)

// ValidationError lists the fields that kept a step from advancing, keyed by
// field name with a user-facing message.
type ValidationError struct {
	Step   Step
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return fmt.Sprintf("%s step invalid: %s", e.Step, strings.Join(parts, "; "))
}

// OrderWriter persists a placed order. key deduplicates retried submissions;
// Get reads back the order an earlier submission stored.
type OrderWriter interface {
	CreateOrder(ctx context.Context, key string, o orders.Order) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// UserLookup returns the signed-in user id for ctx; ok is false for guests.
type UserLookup func(ctx context.Context) (userID string, ok bool)

// Deps are the collaborators shared by every workflow.
type Deps struct {
	Orders      OrderWriter
	Events      orders.EventPublisher
	Metrics     *aws.Metrics
	Validate    *validatorv10.Validate
	CurrentUser UserLookup
	Logger      *slog.Logger

	// Now and IntN default to time.Now and math/rand/v2.IntN.
	Now  func() time.Time
	IntN func(n int) int
}

func (d *Deps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.IntN == nil {
		d.IntN = rand.IntN
	}
	if d.Validate == nil {
		now := d.Now
		d.Validate = validation.New(validation.WithClock(func() time.Time { return now() }))
	}
	if d.CurrentUser == nil {
		d.CurrentUser = func(context.Context) (string, bool) { return "", false }
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// Workflow is the checkout of one browsing session: shipping, billing,
// payment and review, then submitted or failed. Entered values survive
// moving back and forth between steps.
type Workflow struct {
	mu   sync.Mutex
	deps *Deps
	cart *cart.Cart

	id             string
	idempotencyKey string
	step           Step
	shipping       orders.Address
	billing        orders.Address
	sameAsShipping bool
	payment        payment.Details
	lastErr        string
	confirmation   *Confirmation
}

// New starts a workflow at the shipping step over c.
func New(c *cart.Cart, deps *Deps) *Workflow {
	deps.defaults()
	return &Workflow{
		deps: deps,
		cart: c,
		id:   uuid.NewString(),
		step: StepShipping,
	}
}

// ID identifies this checkout attempt. It is the default idempotency key
// for the order it places.
func (w *Workflow) ID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

func (w *Workflow) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

func (w *Workflow) Shipping() orders.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shipping
}

func (w *Workflow) Billing() orders.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.billing
}

// LastError is the message of the last failed submission, or "".
func (w *Workflow) LastError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Confirmation is set once the workflow reached the submitted step.
func (w *Workflow) Confirmation() *Confirmation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.confirmation
}

// SetIdempotencyKey overrides the key sent with the order, e.g. from a client header.
func (w *Workflow) SetIdempotencyKey(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.idempotencyKey = key
}

func (w *Workflow) SetShipping(a orders.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.step.IsForm() {
		return ErrWrongStep
	}
	w.shipping = a
	return nil
}

func (w *Workflow) SetBilling(a orders.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.step.IsForm() {
		return ErrWrongStep
	}
	w.billing = a
	return nil
}

// SetSameAsShipping copies the current shipping address into billing when
// turned on. The copy is taken once; later shipping edits do not reach
// billing. Turning it off keeps whatever billing holds.
func (w *Workflow) SetSameAsShipping(on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.step.IsForm() {
		return ErrWrongStep
	}
	w.sameAsShipping = on
	if on {
		w.billing = w.shipping
	}
	return nil
}

func (w *Workflow) SetPayment(d payment.Details) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.step.IsForm() {
		return ErrWrongStep
	}
	w.payment = d
	return nil
}

// Next validates the form of the current step and moves to the following one.
func (w *Workflow) Next(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var form any
	switch w.step {
	case StepShipping:
		form = w.shipping
	case StepBilling:
		form = w.billing
	case StepPayment:
		form = w.payment
	default:
		return ErrWrongStep
	}
	if err := w.deps.Validate.Struct(form); err != nil {
		w.deps.Logger.InfoContext(ctx, "checkout step rejected", "checkout_id", w.id, "step", w.step.String())
		return &ValidationError{Step: w.step, Fields: validation.FieldErrors(err)}
	}
	w.step++
	return nil
}

// Back moves one step back without touching entered values.
func (w *Workflow) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step <= StepShipping || !w.step.IsForm() {
		return ErrWrongStep
	}
	w.step--
	return nil
}

// GoTo jumps back to an earlier form step, e.g. from review to shipping.
func (w *Workflow) GoTo(target Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.step.IsForm() || !target.IsForm() || target > w.step {
		return ErrWrongStep
	}
	w.step = target
	return nil
}

// Reset starts a fresh attempt at the shipping step. Addresses are kept;
// payment details, errors and any confirmation are dropped, and the
// attempt gets a new id so a new order can be placed.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.id = uuid.NewString()
	w.idempotencyKey = ""
	w.step = StepShipping
	w.payment = payment.Details{}
	w.lastErr = ""
	w.confirmation = nil
}

// State is the part of a workflow kept between requests. Card details are
// never part of it.
type State struct {
	ID             string         `json:"id"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Step           Step           `json:"step"`
	Shipping       orders.Address `json:"shipping"`
	Billing        orders.Address `json:"billing"`
	SameAsShipping bool           `json:"same_as_shipping"`
	LastError      string         `json:"last_error,omitempty"`
	Confirmation   *Confirmation  `json:"confirmation,omitempty"`
}

// Restore rebuilds a workflow from st over c. Card details have to be
// entered again unless the caller still holds them.
func Restore(c *cart.Cart, deps *Deps, st State) *Workflow {
	deps.defaults()
	return &Workflow{
		deps:           deps,
		cart:           c,
		id:             st.ID,
		idempotencyKey: st.IdempotencyKey,
		step:           st.Step,
		shipping:       st.Shipping,
		billing:        st.Billing,
		sameAsShipping: st.SameAsShipping,
		lastErr:        st.LastError,
		confirmation:   st.Confirmation,
	}
}

func (w *Workflow) State() State {
	st, _ := w.snapshot()
	return st
}

func (w *Workflow) snapshot() (State, payment.Details) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return State{
		ID:             w.id,
		IdempotencyKey: w.idempotencyKey,
		Step:           w.step,
		Shipping:       w.shipping,
		Billing:        w.billing,
		SameAsShipping: w.sameAsShipping,
		LastError:      w.lastErr,
		Confirmation:   w.confirmation,
	}, w.payment
}

// View is a read-only snapshot of the workflow for display. Card data is
// reduced to its summary.
type View struct {
	ID             string          `json:"id"`
	Step           string          `json:"step"`
	Shipping       orders.Address  `json:"shipping"`
	Billing        orders.Address  `json:"billing"`
	SameAsShipping bool            `json:"same_as_shipping"`
	Payment        payment.Summary `json:"payment"`
	LastError      string          `json:"last_error,omitempty"`
	Confirmation   *Confirmation   `json:"confirmation,omitempty"`
}

func (w *Workflow) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := View{
		ID:             w.id,
		Step:           w.step.String(),
		Shipping:       w.shipping,
		Billing:        w.billing,
		SameAsShipping: w.sameAsShipping,
		LastError:      w.lastErr,
		Confirmation:   w.confirmation,
	}
	if w.payment.CardNumber != "" {
		v.Payment = payment.Summarize(w.payment)
	}
	return v
}
