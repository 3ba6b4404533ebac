package schema

import (
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"threatops/internal/errs"
)

// identifierPattern defines the valid format for rule and event-type
// identifiers: lowercase, starting with a letter, underscore-separated.
// Examples: "sql_injection", "rate_spike", "auth_attempt"
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validator validates inbound telemetry events, anomalies, and alerts
// before they enter the pipeline.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the given configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// ValidateEvent validates a telemetry event. Returns a ValidationError
// naming the offending field on failure.
func (v *Validator) ValidateEvent(event *TelemetryEvent) error {
	if err := v.structErr(event); err != nil {
		return err
	}

	now := time.Now().UTC()
	if event.Timestamp.IsZero() {
		return errs.NewValidation("timestamp", "required")
	}
	if event.Timestamp.Before(now.Add(-v.maxAge)) {
		return errs.NewValidation("timestamp", "too old")
	}
	if event.Timestamp.After(now.Add(v.maxFuture)) {
		return errs.NewValidation("timestamp", "in the future")
	}
	return nil
}

// ValidateAnomaly validates an externally submitted anomaly.
func (v *Validator) ValidateAnomaly(anomaly *Anomaly) error {
	return v.structErr(anomaly)
}

// ValidateAlert validates an externally submitted alert.
func (v *Validator) ValidateAlert(alert *Alert) error {
	return v.structErr(alert)
}

// structErr runs struct validation and converts the first field error into
// the pipeline's validation error type.
func (v *Validator) structErr(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errs.NewValidation(fieldName(fe), reason(fe))
	}
	return errs.NewValidation("", err.Error())
}

func fieldName(fe validator.FieldError) string {
	// StructNamespace is Type.Field.Sub; drop the type prefix and lowercase
	// to match the JSON wire names.
	ns := fe.StructNamespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return toSnake(ns)
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "identifier":
		return "must be a lowercase identifier"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "exceeds maximum length " + fe.Param()
	case "min":
		return "below minimum " + fe.Param()
	}
	return "failed " + fe.Tag() + " constraint"
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '.' && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidIdentifier checks if a string matches the identifier format.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
