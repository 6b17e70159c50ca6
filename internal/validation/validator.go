package validation

import (
	"reflect"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/payment"
)

// Option configures the validator returned by New.
type Option func(*settings)

type settings struct {
	now func() time.Time
}

// WithClock sets the clock used by the card_expiry tag.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// New returns a validator with the payment tags (luhn, card_expiry, cvv)
// and the order totals check registered. Field names in errors are the
// json names of the fields.
func New(opts ...Option) *validatorv10.Validate {
	s := settings{now: time.Now}
	for _, o := range opts {
		o(&s)
	}

	v := validatorv10.New()
	v.RegisterTagNameFunc(jsonFieldName)

	_ = v.RegisterValidation("luhn", func(fl validatorv10.FieldLevel) bool {
		return payment.ValidateCardNumber(fl.Field().String())
	})
	_ = v.RegisterValidation("card_expiry", func(fl validatorv10.FieldLevel) bool {
		return payment.ValidateExpiry(fl.Field().String(), s.now())
	})
	_ = v.RegisterValidation("cvv", func(fl validatorv10.FieldLevel) bool {
		return payment.ValidateCVV(fl.Field().String())
	})

	// an order's total must reconcile with its line items
	v.RegisterStructValidation(orderStructValidation, orders.Order{})

	return v
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

// orderStructValidation verifies TotalAmount equals the sum of quantity * unit price.
func orderStructValidation(sl validatorv10.StructLevel) {
	o := sl.Current().Interface().(orders.Order)

	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.LineTotal())
	}
	if !sum.Equal(o.TotalAmount) {
		sl.ReportError(o.TotalAmount, "total_amount", "TotalAmount", "total_matches_items", sum.StringFixed(2))
	}
}
