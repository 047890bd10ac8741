package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	idPattern        = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,63}$`)
	referencePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9/_.-]{0,63}$`)
)

// ValidateID validates a roster or item identifier
func ValidateID(kind, id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid %s id: %q", kind, id)
	}
	return nil
}

// ValidateReference validates a bordereau reference
func ValidateReference(ref string) error {
	if !referencePattern.MatchString(ref) {
		return fmt.Errorf("invalid reference: %q", ref)
	}
	return nil
}

// ValidateReason validates a free-text transition reason
func ValidateReason(reason string) error {
	if len(reason) > 500 {
		return fmt.Errorf("reason exceeds 500 characters")
	}
	if strings.ContainsAny(reason, "\x00") {
		return fmt.Errorf("reason contains invalid characters")
	}
	return nil
}

// ValidateUnitCount validates the number of claims in a bordereau
func ValidateUnitCount(n int) error {
	if n < 0 {
		return fmt.Errorf("unit count must not be negative: %d", n)
	}
	if n > 100000 {
		return fmt.Errorf("unit count exceeds maximum limit: %d", n)
	}
	return nil
}
