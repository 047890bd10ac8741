package workflow

import (
	"fmt"
	"strings"
)

// legacyStatuses maps status labels used by older intake and finance
// integrations onto the canonical enum. This is the only such table.
var legacyStatuses = map[string]Status{
	"EN_ATTENTE":        StatusReceived,
	"NOUVEAU":           StatusReceived,
	"A_SCANNER":         StatusToDigitize,
	"SCAN_EN_COURS":     StatusDigitizing,
	"SCANNE":            StatusDigitized,
	"SCANNER":           StatusDigitized,
	"A_AFFECTER":        StatusToAssign,
	"ASSIGNE":           StatusAssigned,
	"AFFECTE":           StatusAssigned,
	"EN_COURS":          StatusInProgress,
	"TRAITE":            StatusProcessed,
	"EN_DIFFICULTE":     StatusBlocked,
	"BLOQUE":            StatusBlocked,
	"MIS_EN_INSTANCE":   StatusOnHold,
	"EN_INSTANCE":       StatusOnHold,
	"PRET_VIREMENT":     StatusReadyForPayment,
	"VIREMENT_EN_COURS": StatusPaymentInProgress,
	"PAYE":              StatusClosed,
	"VIREMENT_EXECUTE":  StatusClosed,
	"CLOTURE":           StatusClosed,
}

// ParseStatus resolves a canonical or legacy status label
func ParseStatus(s string) (Status, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	if st := Status(key); st.IsValid() {
		return st, nil
	}
	if st, ok := legacyStatuses[key]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
}
