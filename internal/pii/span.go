// Package pii defines the canonical detected-entity span model shared by
// the recognizer, resolver, transformer, and statistics components.
//
// All offsets are Unicode code point (rune) indexes into the original text,
// half-open [Start, End). Recognizers producing byte offsets must convert
// before handing spans to this package.
package pii

// Span is one detected entity occurrence in a text.
type Span struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Text       string  `json:"text,omitempty"`
}

// Len returns the span length in runes.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether two half-open spans share at least one position.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Entity types produced by the bundled recognizers and covered by the
// default anonymization policy.
const (
	EntityCreditCard     = "CREDIT_CARD"
	EntityCrypto         = "CRYPTO"
	EntityDateTime       = "DATE_TIME"
	EntityEmailAddress   = "EMAIL_ADDRESS"
	EntityIBANCode       = "IBAN_CODE"
	EntityIPAddress      = "IP_ADDRESS"
	EntityNRP            = "NRP"
	EntityLocation       = "LOCATION"
	EntityPerson         = "PERSON"
	EntityPhoneNumber    = "PHONE_NUMBER"
	EntityMedicalLicense = "MEDICAL_LICENSE"
	EntityURL            = "URL"
	EntityUSBankNumber   = "US_BANK_NUMBER"
	EntityUSDriverLic    = "US_DRIVER_LICENSE"
	EntityUSITIN         = "US_ITIN"
	EntityUSPassport     = "US_PASSPORT"
	EntityUSSSN          = "US_SSN"
)

// DefaultEntityTypes is the default detection set when a request does not
// restrict entity types.
func DefaultEntityTypes() []string {
	return []string{
		EntityCreditCard,
		EntityCrypto,
		EntityDateTime,
		EntityEmailAddress,
		EntityIBANCode,
		EntityIPAddress,
		EntityNRP,
		EntityLocation,
		EntityPerson,
		EntityPhoneNumber,
		EntityMedicalLicense,
		EntityURL,
		EntityUSBankNumber,
		EntityUSDriverLic,
		EntityUSITIN,
		EntityUSPassport,
		EntityUSSSN,
	}
}
