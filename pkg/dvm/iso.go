package dvm

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

// Country is an ISO 3166-1 alpha-2 code.
type Country string

// Value returns the billing_country value. Use BusinessValue for the
// merchant's business country.
func (c Country) Value() Value { return Value{Key: KeyBillingCountry, Text: string(c)} }

func (c Country) BusinessValue() Value { return Value{Key: KeyBusinessCountry, Text: string(c)} }

// Currency is an ISO 4217 code.
type Currency string

func (c Currency) Value() Value { return Value{Key: KeyCurrency, Text: string(c)} }

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	INR Currency = "INR"
	JPY Currency = "JPY"
)

const (
	US Country = "US"
	DE Country = "DE"
	GB Country = "GB"
	FR Country = "FR"
	IN Country = "IN"
	NL Country = "NL"
)

var routedCountries = []string{
	"AE", "AR", "AT", "AU", "BE", "BR", "CA", "CH", "CL", "CN", "CO", "CZ", "DE", "DK",
	"EG", "ES", "FI", "FR", "GB", "GR", "HK", "HU", "ID", "IE", "IL", "IN", "IT", "JP",
	"KR", "KW", "MX", "MY", "NG", "NL", "NO", "NZ", "PE", "PH", "PL", "PT", "RO", "RU",
	"SA", "SE", "SG", "TH", "TR", "TW", "UA", "US", "VN", "ZA",
}

var routedCurrencies = []string{
	"AED", "ARS", "AUD", "BRL", "CAD", "CHF", "CLP", "CNY", "COP", "CZK", "DKK", "EGP",
	"EUR", "GBP", "HKD", "HUF", "IDR", "ILS", "INR", "JPY", "KRW", "KWD", "MXN", "MYR",
	"NGN", "NOK", "NZD", "PEN", "PHP", "PLN", "RON", "SAR", "SEK", "SGD", "THB", "TRY",
	"TWD", "UAH", "USD", "VND", "ZAR",
}

func isISOKey(key Key) bool {
	return key == KeyCurrency || key == KeyBillingCountry || key == KeyBusinessCountry
}

func canonicalISO(key Key, raw string) (string, error) {
	switch key {
	case KeyCurrency:
		unit, err := currency.ParseISO(strings.ToUpper(raw))
		if err != nil {
			return "", fmt.Errorf("%w: %s=%q", ErrUnknownValue, key, raw)
		}
		return unit.String(), nil
	case KeyBillingCountry, KeyBusinessCountry:
		if len(raw) != 2 {
			return "", fmt.Errorf("%w: %s=%q is not an alpha-2 code", ErrUnknownValue, key, raw)
		}
		region, err := language.ParseRegion(strings.ToUpper(raw))
		if err != nil || !region.IsCountry() {
			return "", fmt.Errorf("%w: %s=%q", ErrUnknownValue, key, raw)
		}
		return region.String(), nil
	default:
		return "", fmt.Errorf("%w: %s is not an ISO key", ErrKindMismatch, key)
	}
}

func isoEnumeration(key Key) []string {
	if key == KeyCurrency {
		return routedCurrencies
	}
	return routedCountries
}
