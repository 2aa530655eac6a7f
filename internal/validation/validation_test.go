package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidEthAddress(t *testing.T) {
	cases := []struct {
		addr  string
		valid bool
	}{
		{"0x1111111111111111111111111111111111111111", true},
		{"0xAbCd111111111111111111111111111111111101", true},
		{"1111111111111111111111111111111111111111", false}, // missing 0x
		{"0x111", false},
		{"0x11111111111111111111111111111111111111111", false}, // 41 chars
		{"0xZZ11111111111111111111111111111111111111", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, IsValidEthAddress(tc.addr), "addr=%q", tc.addr)
	}
}

func TestSanitizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcd111111111111111111111111111111111101",
		SanitizeAddress("  0xAbCd111111111111111111111111111111111101 "))
	// Bare 40-char hex gets the prefix added.
	assert.Equal(t, "0x1111111111111111111111111111111111111111",
		SanitizeAddress("1111111111111111111111111111111111111111"))
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("owner", ""),
		ValidAddress("owner", ""),
	)
	assert.Len(t, errs, 1)
	assert.Equal(t, "owner", errs[0].Field)

	errs = Validate(
		Required("owner", "0xnope"),
		ValidAddress("owner", "0xnope"),
	)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "valid Ethereum address")

	errs = Validate(
		Required("owner", "0x1111111111111111111111111111111111111111"),
		ValidAddress("owner", "0x1111111111111111111111111111111111111111"),
	)
	assert.Empty(t, errs)
}

func TestValidationErrorsError(t *testing.T) {
	var empty ValidationErrors
	assert.Equal(t, "validation failed", empty.Error())

	errs := ValidationErrors{{Field: "owner", Message: "is required"}}
	assert.Equal(t, "owner: is required", errs.Error())
}
