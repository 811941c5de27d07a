package ranker

import (
	"math"

	"donor-matching/internal/models"
)

const earthRadiusKm = 6371.0088

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(a, b models.Coord) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// decayKm is the distance at which the score falls to ~37%. More urgent
// requests tolerate longer trips.
var decayKm = map[models.Urgency]float64{
	models.UrgencyLow:      15,
	models.UrgencyNormal:   25,
	models.UrgencyHigh:     50,
	models.UrgencyCritical: 100,
}

// Score maps a distance onto 0..100. Unknown distance scores 0.
func Score(distanceKm *float64, urgency models.Urgency) float64 {
	if distanceKm == nil {
		return 0
	}
	scale, ok := decayKm[urgency]
	if !ok {
		scale = decayKm[models.UrgencyNormal]
	}
	s := 100 * math.Exp(-*distanceKm/scale)
	return math.Round(s*10) / 10
}
