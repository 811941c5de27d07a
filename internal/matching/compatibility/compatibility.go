// Package compatibility encodes the ABO/Rh red-cell donor matrix.
package compatibility

import (
	"donor-matching/internal/common/errors"
	"donor-matching/internal/models"
)

// donorsFor maps a recipient group to every group it may receive from.
var donorsFor = map[models.BloodType][]models.BloodType{
	models.BloodTypeONeg: {models.BloodTypeONeg},
	models.BloodTypeOPos: {models.BloodTypeONeg, models.BloodTypeOPos},
	models.BloodTypeANeg: {models.BloodTypeONeg, models.BloodTypeANeg},
	models.BloodTypeAPos: {models.BloodTypeONeg, models.BloodTypeOPos, models.BloodTypeANeg, models.BloodTypeAPos},
	models.BloodTypeBNeg: {models.BloodTypeONeg, models.BloodTypeBNeg},
	models.BloodTypeBPos: {models.BloodTypeONeg, models.BloodTypeOPos, models.BloodTypeBNeg, models.BloodTypeBPos},
	models.BloodTypeABNeg: {
		models.BloodTypeONeg, models.BloodTypeANeg, models.BloodTypeBNeg, models.BloodTypeABNeg,
	},
	models.BloodTypeABPos: models.AllBloodTypes,
}

// CompatibleDonorTypes returns the donor groups acceptable for a recipient.
// The returned slice is a copy.
func CompatibleDonorTypes(recipient models.BloodType) ([]models.BloodType, error) {
	donors, ok := donorsFor[recipient]
	if !ok {
		return nil, errors.NewInvalidBloodTypeError(string(recipient))
	}
	out := make([]models.BloodType, len(donors))
	copy(out, donors)
	return out, nil
}

// CanDonate reports whether donor blood may be given to recipient. Unknown
// groups on either side are never compatible.
func CanDonate(donor, recipient models.BloodType) bool {
	for _, t := range donorsFor[recipient] {
		if t == donor {
			return true
		}
	}
	return false
}
