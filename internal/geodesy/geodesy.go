// Package geodesy решает прямую и обратную геодезические задачи на эллипсоиде WGS84.
package geodesy

import (
	"math"

	"github.com/tidwall/geodesic"
)

// Distance возвращает длину геодезической между двумя точками, метры.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	var s12 float64
	geodesic.WGS84.Inverse(lat1, lon1, lat2, lon2, &s12, nil, nil)
	return s12
}

// Azimuth возвращает начальный азимут геодезической из первой точки во вторую,
// градусы в диапазоне [0, 360).
func Azimuth(lat1, lon1, lat2, lon2 float64) float64 {
	var azi1 float64
	geodesic.WGS84.Inverse(lat1, lon1, lat2, lon2, nil, &azi1, nil)
	return NormalizeHeading(azi1)
}

// Advance продвигает точку (lon, lat) по азимуту heading на долю fraction расстояния
// до цели (targetLon, targetLat). Возвращает новую точку и прямой азимут в ней.
func Advance(lon, lat, targetLon, targetLat, heading, fraction float64) (newLon, newLat, newHeading float64) {
	s12 := fraction * Distance(lat, lon, targetLat, targetLon)

	var lat2, lon2, azi2 float64
	geodesic.WGS84.Direct(lat, lon, heading, s12, &lat2, &lon2, &azi2)

	return lon2, lat2, NormalizeHeading(azi2)
}

// NormalizeHeading приводит угол к [0, 360).
func NormalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg == 360 {
		return 0
	}
	return deg
}
