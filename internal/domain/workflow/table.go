package workflow

// DefaultTable returns the bordereau stage graph shared by all clients
func DefaultTable() *Table {
	b := NewBuilder()

	// Bureau d'Ordre intake
	b.Configure(StatusReceived).
		Permit(StatusToDigitize, CapIntake)

	// Scan
	b.Configure(StatusToDigitize).
		Permit(StatusDigitizing, CapScan)

	b.Configure(StatusDigitizing).
		Permit(StatusDigitized, CapScan).
		Permit(StatusToDigitize, CapScan, RequireReason())

	// Team routing
	b.Configure(StatusDigitized).
		Permit(StatusToAssign, CapRoute, WithEffect(EffectSetTeam))

	// Team-lead triage
	b.Configure(StatusToAssign).
		Permit(StatusAssigned, CapAssign, WithEffect(EffectSetAgent)).
		Permit(StatusBlocked, CapAssign, RequireReason())

	// Agent processing
	b.Configure(StatusAssigned).
		Permit(StatusAssigned, CapAssign, WithEffect(EffectSetAgent)).
		Permit(StatusInProgress, CapProcess, OwnerOnly(CapProcess)).
		Permit(StatusToAssign, CapAssign|CapProcess, OwnerOnly(CapProcess), RequireReason(), WithEffect(EffectClearAgent)).
		Permit(StatusBlocked, CapAssign|CapProcess, OwnerOnly(CapProcess), RequireReason(), WithEffect(EffectClearAgent))

	b.Configure(StatusInProgress).
		Permit(StatusProcessed, CapProcess, OwnerOnly(CapProcess), WithEffect(EffectClearAgent)).
		Permit(StatusOnHold, CapProcess, OwnerOnly(CapProcess), RequireReason()).
		Permit(StatusBlocked, CapAssign|CapProcess, OwnerOnly(CapProcess), RequireReason(), WithEffect(EffectClearAgent))

	b.Configure(StatusOnHold).
		Permit(StatusInProgress, CapProcess, OwnerOnly(CapProcess)).
		Permit(StatusToAssign, CapAssign, RequireReason(), WithEffect(EffectClearAgent))

	// Blocked items go back to the team or to an agent, never forward
	b.Configure(StatusBlocked).
		Permit(StatusToAssign, CapAssign).
		Permit(StatusAssigned, CapAssign, WithEffect(EffectSetAgent))

	// Validation and finance
	b.Configure(StatusProcessed).
		Permit(StatusReadyForPayment, CapValidate).
		Permit(StatusToAssign, CapValidate, RequireReason())

	b.Configure(StatusReadyForPayment).
		Permit(StatusPaymentInProgress, CapFinance)

	b.Configure(StatusPaymentInProgress).
		Permit(StatusClosed, CapFinance).
		Permit(StatusReadyForPayment, CapFinance, RequireReason())

	return b.Build()
}
