// Package eligibility decides whether a donor is past the deferral period
// since their last donation.
package eligibility

import (
	"time"

	"donor-matching/internal/models"
)

// DefaultDeferralDays is the whole-blood deferral between donations.
const DefaultDeferralDays = 56

// PolicyMissingDateEligible documents how an absent or zero LastDonation is
// treated: as "never donated", so the donor is eligible. This favours donor
// availability over strict record validation and is deliberate.
const PolicyMissingDateEligible = true

// Filter applies the deferral rule. The zero value uses DefaultDeferralDays.
type Filter struct {
	deferral time.Duration
}

// NewFilter builds a filter with the given deferral in days; values <= 0
// select the default.
func NewFilter(deferralDays int) *Filter {
	if deferralDays <= 0 {
		deferralDays = DefaultDeferralDays
	}
	return &Filter{deferral: time.Duration(deferralDays) * 24 * time.Hour}
}

// Deferral returns the configured wait between donations.
func (f *Filter) Deferral() time.Duration {
	if f == nil || f.deferral <= 0 {
		return DefaultDeferralDays * 24 * time.Hour
	}
	return f.deferral
}

// IsEligible is true when the donor never donated or asOf is at or after
// lastDonation + deferral.
func (f *Filter) IsEligible(donor models.Donor, asOf time.Time) bool {
	next, ok := f.NextEligibleDate(donor)
	if !ok {
		return PolicyMissingDateEligible
	}
	return !asOf.Before(next)
}

// NextEligibleDate returns lastDonation + deferral; ok is false when the
// donor has no usable donation record.
func (f *Filter) NextEligibleDate(donor models.Donor) (time.Time, bool) {
	if !donor.HasDonated() {
		return time.Time{}, false
	}
	return donor.LastDonation.Add(f.Deferral()), true
}

// DaysUntilEligible returns the whole days remaining, rounded up, or 0 when
// the donor is already eligible.
func (f *Filter) DaysUntilEligible(donor models.Donor, asOf time.Time) int {
	next, ok := f.NextEligibleDate(donor)
	if !ok || !asOf.Before(next) {
		return 0
	}
	remaining := next.Sub(asOf)
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) != 0 {
		days++
	}
	return days
}
