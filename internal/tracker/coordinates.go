package tracker

import (
	"math"
	"time"
)

// Константы эллипсоида WGS84.
const (
	// WGS84A — большая полуось, км.
	WGS84A = 6378.137

	// WGS84F — сжатие.
	WGS84F = 1.0 / 298.257223563

	// WGS84B — малая полуось, км.
	WGS84B = WGS84A * (1.0 - WGS84F)

	// WGS84E2 — квадрат первого эксцентриситета.
	WGS84E2 = 2*WGS84F - WGS84F*WGS84F

	// Deg2Rad — градусы в радианы.
	Deg2Rad = math.Pi / 180.0

	// Rad2Deg — радианы в градусы.
	Rad2Deg = 180.0 / math.Pi
)

// ECEFPosition — позиция в ECEF, км.
type ECEFPosition struct {
	X    float64
	Y    float64
	Z    float64
	Time time.Time
}

// LLA — геодезические координаты: широта и долгота в радианах, высота в км.
type LLA struct {
	Lat float64
	Lon float64
	Alt float64
}

// ECIToECEF поворачивает TEME-позицию вокруг оси Z на угол GMST.
func ECIToECEF(eci *ECIPosition) *ECEFPosition {
	if eci == nil {
		return nil
	}

	return RotateToECEF(eci.X, eci.Y, eci.Z, GMST(eci.Time), eci.Time)
}

// RotateToECEF поворачивает инерциальный вектор (км) на звёздное время theta (рад).
func RotateToECEF(x, y, z, theta float64, t time.Time) *ECEFPosition {
	sinT, cosT := math.Sincos(theta)

	return &ECEFPosition{
		X:    x*cosT + y*sinT,
		Y:    -x*sinT + y*cosT,
		Z:    z,
		Time: t,
	}
}

// ECEFToLLA переводит ECEF в геодезические координаты итерациями Боуринга.
func ECEFToLLA(ecef *ECEFPosition) *LLA {
	if ecef == nil {
		return nil
	}

	x, y, z := ecef.X, ecef.Y, ecef.Z

	lon := math.Atan2(y, x)
	p := math.Sqrt(x*x + y*y)
	lat := math.Atan2(z, p*(1.0-WGS84E2))

	const (
		maxIterations = 10
		tolerance     = 1e-12
	)

	for range maxIterations {
		sinLat := math.Sin(lat)
		radiusN := WGS84A / math.Sqrt(1.0-WGS84E2*sinLat*sinLat)

		next := math.Atan2(z+WGS84E2*radiusN*sinLat, p)
		if math.Abs(next-lat) < tolerance {
			lat = next
			break
		}
		lat = next
	}

	sinLat, cosLat := math.Sincos(lat)
	radiusN := WGS84A / math.Sqrt(1.0-WGS84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - radiusN
	} else {
		// У полюсов.
		alt = math.Abs(z)/math.Abs(sinLat) - radiusN*(1.0-WGS84E2)
	}

	return &LLA{Lat: lat, Lon: lon, Alt: alt}
}

// LatDeg возвращает широту в градусах.
func (lla *LLA) LatDeg() float64 {
	return lla.Lat * Rad2Deg
}

// LonDeg возвращает долготу в градусах.
func (lla *LLA) LonDeg() float64 {
	return lla.Lon * Rad2Deg
}
