package model

// BillingTerms are the immutable billing parameters of a session,
// fixed at creation. Amounts are in the currency's minor units.
type BillingTerms struct {
	RatePerMinuteMinor int64  `json:"ratePerMinuteMinor"`
	Currency           string `json:"currency"`
	FreeMinutes        int    `json:"freeMinutes"`
}
