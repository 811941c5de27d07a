package compatibility

import (
	"testing"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompatibleDonorTypes(t *testing.T) {
	tests := []struct {
		recipient models.BloodType
		want      []models.BloodType
	}{
		{models.BloodTypeONeg, []models.BloodType{"O-"}},
		{models.BloodTypeOPos, []models.BloodType{"O-", "O+"}},
		{models.BloodTypeANeg, []models.BloodType{"O-", "A-"}},
		{models.BloodTypeAPos, []models.BloodType{"O-", "O+", "A-", "A+"}},
		{models.BloodTypeBNeg, []models.BloodType{"O-", "B-"}},
		{models.BloodTypeBPos, []models.BloodType{"O-", "O+", "B-", "B+"}},
		{models.BloodTypeABNeg, []models.BloodType{"O-", "A-", "B-", "AB-"}},
		{models.BloodTypeABPos, []models.BloodType{"O-", "O+", "A-", "A+", "B-", "B+", "AB-", "AB+"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.recipient), func(t *testing.T) {
			got, err := CompatibleDonorTypes(tt.recipient)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestCompatibleDonorTypes_InvalidType(t *testing.T) {
	for _, bad := range []models.BloodType{"", "C+", "o-", "AB"} {
		_, err := CompatibleDonorTypes(bad)
		require.Error(t, err, "type %q", bad)
		assert.True(t, errors.Is(err, errors.ErrInvalidBloodType))
	}
}

func TestCompatibleDonorTypes_ReturnsCopy(t *testing.T) {
	got, err := CompatibleDonorTypes(models.BloodTypeABPos)
	require.NoError(t, err)
	got[0] = "X"

	again, err := CompatibleDonorTypes(models.BloodTypeABPos)
	require.NoError(t, err)
	assert.Equal(t, models.BloodTypeONeg, again[0])
	assert.Equal(t, models.BloodTypeONeg, models.AllBloodTypes[0])
}

func TestCanDonate(t *testing.T) {
	assert.True(t, CanDonate(models.BloodTypeONeg, models.BloodTypeABPos))
	assert.True(t, CanDonate(models.BloodTypeONeg, models.BloodTypeONeg))
	assert.False(t, CanDonate(models.BloodTypeAPos, models.BloodTypeONeg))
	assert.False(t, CanDonate(models.BloodTypeABPos, models.BloodTypeABNeg))
	assert.False(t, CanDonate("Z", models.BloodTypeABPos))

	// every group is compatible with itself
	for _, bt := range models.AllBloodTypes {
		assert.True(t, CanDonate(bt, bt), bt)
	}
}
