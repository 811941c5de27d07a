package eligibility

import (
	"testing"
	"time"

	"donor-matching/internal/models"

	"github.com/stretchr/testify/assert"
)

func donorWithLastDonation(ts *time.Time) models.Donor {
	return models.Donor{ID: "d1", BloodType: models.BloodTypeONeg, Available: true, LastDonation: ts}
}

func TestIsEligible(t *testing.T) {
	f := NewFilter(0)
	asOf := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	at := func(d time.Duration) *time.Time {
		ts := asOf.Add(-d)
		return &ts
	}
	zero := time.Time{}

	tests := []struct {
		name  string
		donor models.Donor
		want  bool
	}{
		{"never donated", donorWithLastDonation(nil), true},
		{"zero timestamp treated as never donated", donorWithLastDonation(&zero), true},
		{"donated yesterday", donorWithLastDonation(at(24 * time.Hour)), false},
		{"one second short of 56 days", donorWithLastDonation(at(56*24*time.Hour - time.Second)), false},
		{"exactly 56 days", donorWithLastDonation(at(56 * 24 * time.Hour)), true},
		{"well past deferral", donorWithLastDonation(at(200 * 24 * time.Hour)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.IsEligible(tt.donor, asOf))
		})
	}
}

func TestIsEligible_DoesNotMutateDonor(t *testing.T) {
	f := NewFilter(56)
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	d := donorWithLastDonation(&ts)
	before := *d.LastDonation

	f.IsEligible(d, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, before, *d.LastDonation)
}

func TestCustomDeferral(t *testing.T) {
	f := NewFilter(90)
	assert.Equal(t, 90*24*time.Hour, f.Deferral())

	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := donorWithLastDonation(&last)
	assert.False(t, f.IsEligible(d, last.AddDate(0, 0, 60)))
	assert.True(t, f.IsEligible(d, last.AddDate(0, 0, 90)))
}

func TestZeroValueFilterUsesDefault(t *testing.T) {
	var f Filter
	assert.Equal(t, DefaultDeferralDays*24*time.Hour, f.Deferral())
}

func TestNextEligibleDateAndDaysUntil(t *testing.T) {
	f := NewFilter(56)
	last := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	d := donorWithLastDonation(&last)

	next, ok := f.NextEligibleDate(d)
	assert.True(t, ok)
	assert.Equal(t, last.AddDate(0, 0, 56), next)

	assert.Equal(t, 56, f.DaysUntilEligible(d, last))
	assert.Equal(t, 1, f.DaysUntilEligible(d, next.Add(-time.Hour)))
	assert.Equal(t, 0, f.DaysUntilEligible(d, next))

	_, ok = f.NextEligibleDate(donorWithLastDonation(nil))
	assert.False(t, ok)
	assert.Equal(t, 0, f.DaysUntilEligible(donorWithLastDonation(nil), last))
}
