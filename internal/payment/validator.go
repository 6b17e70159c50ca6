// Package payment validates card fields entered at the payment step.
//
// Raw card data never leaves this process: only the Summary derived from it
// is persisted with an order.
package payment

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Messages shown to the shopper when a field fails validation.
const (
	MsgInvalidCardNumber = "Invalid card number"
	MsgInvalidExpiry     = "Invalid expiry date"
	MsgInvalidCVV        = "Invalid CVV"
)

// maxMonthsAhead bounds how far in the future an expiry may be.
const maxMonthsAhead = 10 * 12

var expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)

// Details is the card data entered at the payment step.
type Details struct {
	CardNumber     string `json:"card_number" validate:"required,luhn"`
	CardholderName string `json:"cardholder_name" validate:"required"`
	Expiry         string `json:"expiry" validate:"required,card_expiry"`
	CVV            string `json:"cvv" validate:"required,cvv"`
}

// Summary is the only payment information stored on an order.
type Summary struct {
	Type  string `json:"type" dynamodbav:"type"`
	Last4 string `json:"last4" dynamodbav:"last4"`
}

// NormalizeCardNumber strips the spaces and dashes shoppers type between digit groups.
func NormalizeCardNumber(raw string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(raw)
}

// ValidateCardNumber reports whether raw is a 12-19 digit number with a valid Luhn checksum.
func ValidateCardNumber(raw string) bool {
	digits := NormalizeCardNumber(raw)
	if len(digits) < 12 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ValidateExpiry reports whether raw is an MM/YY date no earlier than the
// month of now and less than ten years after it.
func ValidateExpiry(raw string, now time.Time) bool {
	if !expiryPattern.MatchString(raw) {
		return false
	}
	month, _ := strconv.Atoi(raw[:2])
	yy, _ := strconv.Atoi(raw[3:])

	// YY resolves to the first year >= the current one ending in those digits,
	// so 2-digit years keep working across a century boundary.
	year := now.Year()/100*100 + yy
	if year < now.Year() {
		year += 100
	}

	ahead := (year*12 + month) - (now.Year()*12 + int(now.Month()))
	return ahead >= 0 && ahead < maxMonthsAhead
}

// ValidateCVV reports whether raw is 3 or 4 digits.
func ValidateCVV(raw string) bool {
	if len(raw) < 3 || len(raw) > 4 {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return false
		}
	}
	return true
}

// Validate checks every card field and returns the message for the first
// failure, or "" when the details are acceptable.
func Validate(d Details, now time.Time) string {
	switch {
	case !ValidateCardNumber(d.CardNumber):
		return MsgInvalidCardNumber
	case !ValidateExpiry(d.Expiry, now):
		return MsgInvalidExpiry
	case !ValidateCVV(d.CVV):
		return MsgInvalidCVV
	}
	return ""
}

// Summarize derives the persisted summary from raw card details.
func Summarize(d Details) Summary {
	digits := NormalizeCardNumber(d.CardNumber)
	last4 := digits
	if len(digits) > 4 {
		last4 = digits[len(digits)-4:]
	}
	return Summary{Type: "Credit Card", Last4: last4}
}
