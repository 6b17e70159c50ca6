package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateCardNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"valid visa", "4539578763621486", true},
		{"single digit corruption", "4539578763621487", false},
		{"spaces allowed", "4539 5787 6362 1486", true},
		{"dashes allowed", "4539-5787-6362-1486", true},
		{"letters rejected", "4539a78763621486", false},
		{"too short", "0", false},
		{"empty", "", false},
		{"amex", "378282246310005", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateCardNumber(tt.in))
		})
	}
}

func TestValidateExpiry(t *testing.T) {
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want bool
	}{
		{"05/25", false},
		{"06/25", true},
		{"12/25", true},
		{"05/35", true},
		{"06/35", false},
		{"13/25", false},
		{"00/26", false},
		{"6/26", false},
		{"06-26", false},
		{"01/24", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateExpiry(tt.in, now))
		})
	}
}

func TestValidateExpiry_CenturyRollover(t *testing.T) {
	now := time.Date(2095, time.March, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, ValidateExpiry("02/01", now), "02/01 should mean 2101")
	assert.True(t, ValidateExpiry("12/99", now))
	assert.False(t, ValidateExpiry("02/95", now), "last month is expired")
}

func TestValidateCVV(t *testing.T) {
	assert.True(t, ValidateCVV("123"))
	assert.True(t, ValidateCVV("1234"))
	assert.False(t, ValidateCVV("12"))
	assert.False(t, ValidateCVV("12345"))
	assert.False(t, ValidateCVV("12a"))
}

func TestValidate_FirstFailureWins(t *testing.T) {
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	good := Details{CardNumber: "4539578763621486", CardholderName: "Ada", Expiry: "08/27", CVV: "123"}

	assert.Empty(t, Validate(good, now))

	bad := good
	bad.CardNumber = "4539578763621487"
	bad.CVV = "1"
	assert.Equal(t, MsgInvalidCardNumber, Validate(bad, now))

	bad = good
	bad.Expiry = "01/20"
	assert.Equal(t, MsgInvalidExpiry, Validate(bad, now))

	bad = good
	bad.CVV = "1"
	assert.Equal(t, MsgInvalidCVV, Validate(bad, now))
}

func TestSummarize(t *testing.T) {
	s := Summarize(Details{CardNumber: "4539 5787 6362 1486"})
	assert.Equal(t, Summary{Type: "Credit Card", Last4: "1486"}, s)
}
