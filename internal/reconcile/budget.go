package reconcile

// budgetMeter tracks the tick cost of one reconciliation against its budget.
//
// Each call to Reconcile has its own meter. Kernels are pure, so checking
// before a dispatch is the same as checking after it: a group whose cost
// would push the total past the limit is never run.
type budgetMeter struct {
	limit uint8
	spent uint8
}

func newBudgetMeter(limit uint8) budgetMeter {
	return budgetMeter{limit: limit}
}

// Charge adds cost if it fits within the limit.
// Returns false, leaving the meter unchanged, if it does not.
func (m *budgetMeter) Charge(cost uint8) bool {
	if uint16(m.spent)+uint16(cost) > uint16(m.limit) {
		return false
	}
	m.spent += cost
	return true
}

// Spent returns the cost charged so far.
func (m *budgetMeter) Spent() uint8 {
	return m.spent
}

// Limit returns the budget.
func (m *budgetMeter) Limit() uint8 {
	return m.limit
}
