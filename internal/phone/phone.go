// Package phone normalizes raw user input into international phone numbers.
package phone

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/HanTheDev/phone-checker/internal/models"
)

var ErrInvalid = errors.New("invalid phone number")

// Normalizer turns a raw number plus an optional country calling code into a
// validated PhoneNumber.
type Normalizer interface {
	Normalize(raw, countryCode string) (models.PhoneNumber, error)
}

// LibNormalizer validates numbers against libphonenumber metadata.
type LibNormalizer struct{}

func NewNormalizer() *LibNormalizer {
	return &LibNormalizer{}
}

// Normalize accepts "+33612345678", "06 12 34 56 78" with countryCode "33",
// or "612345678" with countryCode "+33". A leading plus on raw wins over
// countryCode.
func (LibNormalizer) Normalize(raw, countryCode string) (models.PhoneNumber, error) {
	cleaned := Clean(raw)
	if cleaned == "" || cleaned == "+" {
		return models.PhoneNumber{}, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}

	region := "ZZ"
	if !strings.HasPrefix(cleaned, "+") {
		cc, err := strconv.Atoi(strings.TrimPrefix(Clean(countryCode), "+"))
		if err != nil || cc <= 0 {
			return models.PhoneNumber{}, fmt.Errorf("%w: %q has no country code", ErrInvalid, raw)
		}
		region = phonenumbers.GetRegionCodeForCountryCode(cc)
		if region == "ZZ" {
			cleaned = "+" + strconv.Itoa(cc) + cleaned
		}
	}

	num, err := phonenumbers.Parse(cleaned, region)
	if err != nil {
		return models.PhoneNumber{}, fmt.Errorf("%w: %q: %v", ErrInvalid, raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return models.PhoneNumber{}, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}

	numberType := phonenumbers.GetNumberType(num)
	return models.PhoneNumber{
		E164:        phonenumbers.Format(num, phonenumbers.E164),
		CountryCode: int(num.GetCountryCode()),
		National:    phonenumbers.GetNationalSignificantNumber(num),
		Region:      phonenumbers.GetRegionCodeForNumber(num),
		Mobile:      numberType == phonenumbers.MOBILE || numberType == phonenumbers.FIXED_LINE_OR_MOBILE,
	}, nil
}

// Clean strips everything but digits, keeping a leading plus sign.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
