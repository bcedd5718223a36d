// Package anonymize rewrites text given a resolved span sequence and a
// policy table mapping entity types to anonymization operators.
package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/scrubly-ai/scrubly/internal/pii"
)

// Strategy names an anonymization operator.
type Strategy string

const (
	StrategyReplace Strategy = "replace"
	StrategyRedact  Strategy = "redact"
	StrategyMask    Strategy = "mask"
	StrategyHash    Strategy = "hash"
	StrategyEncrypt Strategy = "encrypt"
	StrategyCustom  Strategy = "custom"
)

// Wildcard is the policy table key used when an entity type has no
// explicit entry.
const Wildcard = "DEFAULT"

// CustomFunc computes a replacement for span text. The engine treats it as
// opaque beyond "returns a replacement string".
type CustomFunc func(original string, span pii.Span) string

// OperatorConfig selects a strategy and its parameters for one entity type.
//
// NewValue is required for replace; an empty NewValue substitutes a
// "[ENTITY_TYPE]" token derived from the span. CharsToMask is the number of
// characters masked; nil or a negative value masks the whole span. Key and
// Custom are only injectable programmatically, never from config files.
type OperatorConfig struct {
	Strategy    Strategy `yaml:"type" json:"type"`
	NewValue    string   `yaml:"new_value" json:"new_value,omitempty"`
	MaskingChar string   `yaml:"masking_char" json:"masking_char,omitempty"`
	CharsToMask *int     `yaml:"chars_to_mask" json:"chars_to_mask,omitempty"`
	FromEnd     bool     `yaml:"from_end" json:"from_end,omitempty"`

	Key    []byte     `yaml:"-" json:"-"`
	Custom CustomFunc `yaml:"-" json:"-"`
}

// PolicyTable maps entity types to operators. The Wildcard entry, when
// present, covers every type without an explicit entry.
type PolicyTable map[string]OperatorConfig

// ConfigError reports an entity type for which no operator could be
// resolved or applied.
type ConfigError struct {
	EntityType string
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("anonymize: no usable operator for entity type %q: %s", e.EntityType, e.Reason)
}

// ResolveOperator looks up the operator for entityType, falling back to the
// wildcard entry.
func (t PolicyTable) ResolveOperator(entityType string) (OperatorConfig, error) {
	if op, ok := t[entityType]; ok {
		return op, nil
	}
	if op, ok := t[Wildcard]; ok {
		return op, nil
	}
	return OperatorConfig{}, &ConfigError{EntityType: entityType, Reason: "no entity-specific or default entry"}
}

// Merge returns a copy of t with entries from overrides replacing or adding
// per entity type. Neither input is mutated.
func (t PolicyTable) Merge(overrides PolicyTable) PolicyTable {
	out := make(PolicyTable, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// WithKey returns a copy of t with the encryption key set on every encrypt
// entry that does not already carry one.
func (t PolicyTable) WithKey(key []byte) PolicyTable {
	out := make(PolicyTable, len(t))
	for k, v := range t {
		if v.Strategy == StrategyEncrypt && len(v.Key) == 0 {
			v.Key = key
		}
		out[k] = v
	}
	return out
}

// DefaultPolicy is the documented default table: every known entity type is
// replaced with a bracket token, and the wildcard substitutes a token built
// from the entity type itself.
func DefaultPolicy() PolicyTable {
	replace := func(v string) OperatorConfig {
		return OperatorConfig{Strategy: StrategyReplace, NewValue: v}
	}
	return PolicyTable{
		pii.EntityPerson:         replace("[PERSON]"),
		pii.EntityEmailAddress:   replace("[EMAIL]"),
		pii.EntityPhoneNumber:    replace("[PHONE]"),
		pii.EntityCreditCard:     replace("[CREDIT_CARD]"),
		pii.EntityUSSSN:          replace("[SSN]"),
		pii.EntityLocation:       replace("[LOCATION]"),
		pii.EntityDateTime:       replace("[DATE]"),
		pii.EntityIPAddress:      replace("[IP_ADDRESS]"),
		pii.EntityURL:            replace("[URL]"),
		pii.EntityUSDriverLic:    replace("[DRIVER_LICENSE]"),
		pii.EntityUSPassport:     replace("[PASSPORT]"),
		pii.EntityMedicalLicense: replace("[MEDICAL_LICENSE]"),
		pii.EntityUSBankNumber:   replace("[BANK_NUMBER]"),
		pii.EntityCrypto:         replace("[CRYPTO_ADDRESS]"),
		pii.EntityIBANCode:       replace("[IBAN]"),
		pii.EntityUSITIN:         replace("[ITIN]"),
		pii.EntityNRP:            replace("[NRP]"),
		Wildcard:                 OperatorConfig{Strategy: StrategyReplace},
	}
}

// apply computes the replacement for one span's original text.
func apply(op OperatorConfig, original string, span pii.Span) (string, error) {
	switch op.Strategy {
	case StrategyReplace:
		if op.NewValue == "" {
			return "[" + span.EntityType + "]", nil
		}
		return op.NewValue, nil

	case StrategyRedact:
		return "", nil

	case StrategyMask:
		return mask(original, op), nil

	case StrategyHash:
		sum := sha256.Sum256([]byte(original))
		return hex.EncodeToString(sum[:]), nil

	case StrategyEncrypt:
		out, err := Encrypt(original, op.Key)
		if err != nil {
			return "", &ConfigError{EntityType: span.EntityType, Reason: err.Error()}
		}
		return out, nil

	case StrategyCustom:
		if op.Custom == nil {
			return "", &ConfigError{EntityType: span.EntityType, Reason: "custom operator has no function"}
		}
		return op.Custom(original, span), nil

	default:
		return "", &ConfigError{EntityType: span.EntityType, Reason: fmt.Sprintf("unknown strategy %q", op.Strategy)}
	}
}

func mask(original string, op OperatorConfig) string {
	runes := []rune(original)
	n := len(runes)
	if op.CharsToMask != nil && *op.CharsToMask >= 0 && *op.CharsToMask < n {
		n = *op.CharsToMask
	}

	mc := '*'
	if op.MaskingChar != "" {
		mc = []rune(op.MaskingChar)[0]
	}

	masked := []rune(strings.Repeat(string(mc), n))
	if op.FromEnd {
		return string(runes[:len(runes)-n]) + string(masked)
	}
	return string(masked) + string(runes[n:])
}
