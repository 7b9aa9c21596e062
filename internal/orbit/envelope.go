package orbit

import "math"

// Коэффициенты перевода единиц.
const (
	MetersPerKm = 1000.0

	// KnotsPerMeterPerSecond — узлов в одном м/с.
	KnotsPerMeterPerSecond = 1.94384
)

// KmPerSecToKnots переводит км/с в узлы.
func KmPerSecToKnots(v float64) float64 {
	return v * MetersPerKm * KnotsPerMeterPerSecond
}

// KmToMeters округляет километры до целых метров.
// Середина округляется к чётному, как Math.Round на эталонной платформе.
func KmToMeters(km float64) int64 {
	return int64(math.RoundToEven(km * MetersPerKm))
}

// Envelope — границы высоты орбиты (апогей и перигей) в метрах.
// Пересчитывается при каждой загрузке орбиты и не меняется между загрузками.
type Envelope struct {
	ApogeeMeters  int64
	PerigeeMeters int64
}

// NewEnvelope строит границы из высот апогея и перигея в километрах.
func NewEnvelope(apogeeKm, perigeeKm float64) Envelope {
	return Envelope{
		ApogeeMeters:  KmToMeters(apogeeKm),
		PerigeeMeters: KmToMeters(perigeeKm),
	}
}

// ApogeeKm возвращает апогей в километрах.
func (e Envelope) ApogeeKm() float64 {
	return float64(e.ApogeeMeters) / MetersPerKm
}

// PerigeeKm возвращает перигей в километрах.
func (e Envelope) PerigeeKm() float64 {
	return float64(e.PerigeeMeters) / MetersPerKm
}

// Clamp прижимает высоту (км) к диапазону [перигей, апогей].
func (e Envelope) Clamp(altitudeKm float64) float64 {
	return math.Max(e.PerigeeKm(), math.Min(e.ApogeeKm(), altitudeKm))
}
