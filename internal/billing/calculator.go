// Package billing computes call costs from elapsed time and rate terms.
//
// All amounts are integers in the currency's minor units, so results are
// exact at two-decimal precision without floating point. Cost is always
// recomputed from elapsed seconds, never incremented, which keeps accrual
// idempotent under replayed ticks.
package billing

import "github.com/consultly/call-server-go/internal/model"

// BillableMinutes returns the whole minutes of call time beyond the free
// period, rounded up: a partial minute after the free period counts as a
// full billable minute.
func BillableMinutes(elapsedSeconds, freeMinutes int) int {
	if elapsedSeconds <= 0 {
		return 0
	}
	if freeMinutes < 0 {
		freeMinutes = 0
	}

	billableSec := elapsedSeconds - freeMinutes*60
	if billableSec <= 0 {
		return 0
	}

	m := billableSec / 60
	if billableSec%60 != 0 {
		m++
	}
	return m
}

// Cost returns the accrued cost in minor units for the given elapsed time
// under the given terms. Monotonically non-decreasing in elapsedSeconds.
func Cost(elapsedSeconds int, terms model.BillingTerms) int64 {
	return int64(BillableMinutes(elapsedSeconds, terms.FreeMinutes)) * terms.RatePerMinuteMinor
}

// ExtensionCost returns the up-front cost of extending a session by
// additionalMinutes. Extensions carry no free-minutes discount.
func ExtensionCost(additionalMinutes int, terms model.BillingTerms) int64 {
	if additionalMinutes <= 0 {
		return 0
	}
	return int64(additionalMinutes) * terms.RatePerMinuteMinor
}
