package validation

import (
	"errors"
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-storefront-orderflow/internal/payment"
)

// FieldErrors flattens a validator error into field path -> user-facing message.
// Paths are relative to the validated struct, e.g. "shipping_address.city" or
// "items[1].quantity". Non-validation errors are reported under the "error" key.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		out["error"] = err.Error()
		return out
	}
	for _, fe := range ve {
		out[fieldPath(fe)] = message(fe)
	}
	return out
}

// fieldPath drops the leading struct type name from the error namespace.
func fieldPath(fe validatorv10.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok && rest != "" {
		return rest
	}
	return fe.Field()
}

func message(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "luhn":
		return payment.MsgInvalidCardNumber
	case "card_expiry":
		return payment.MsgInvalidExpiry
	case "cvv":
		return payment.MsgInvalidCVV
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "total_matches_items":
		return fmt.Sprintf("must equal the sum of line items (%s)", fe.Param())
	default:
		return fe.Error()
	}
}
