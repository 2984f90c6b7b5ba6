package schema

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// DetectRequest is the inbound detect API request. Exactly one entity is
// described, selected by Type.
type DetectRequest struct {
	Type EntityType `json:"type" validate:"required"`

	// Transaction analysis: either inline data or a bare hash to fetch.
	Data *Transaction `json:"data,omitempty"`
	Hash string       `json:"hash,omitempty"`

	// Contract analysis.
	Address    string `json:"address,omitempty" validate:"omitempty,eth_address"`
	SourceCode string `json:"source_code,omitempty"`

	// URL analysis.
	URL     string `json:"url,omitempty" validate:"omitempty,max=2048"`
	Content string `json:"content,omitempty"`
}

// addressPattern matches a 0x-prefixed 20-byte hex address.
var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// IsAddress reports whether s is a well-formed EVM address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// Validator validates detect requests against the schema.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a request validator with the custom address rule
// registered.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterValidation("eth_address", func(fl validator.FieldLevel) bool {
		return addressPattern.MatchString(fl.Field().String())
	})
	return &Validator{validate: v}
}

// ValidateRequest checks structural validity of a detect request. Merely
// suspicious content is never a validation failure; that is a scoring
// concern.
func (v *Validator) ValidateRequest(req *DetectRequest) error {
	if req == nil {
		return fmt.Errorf("request is nil")
	}
	if !req.Type.IsValid() {
		return fmt.Errorf("unknown request type: %q", req.Type)
	}

	if err := v.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	switch req.Type {
	case EntityTransaction:
		if req.Data == nil && req.Hash == "" {
			return fmt.Errorf("transaction request requires data or hash")
		}
	case EntityContract:
		if req.Address == "" {
			return fmt.Errorf("contract request requires address")
		}
	case EntityURL:
		if req.URL == "" {
			return fmt.Errorf("url request requires url")
		}
	}
	return nil
}
