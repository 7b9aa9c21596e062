// Package orbit описывает орбитальные модели объекта: TLE (SGP4), упрощённую
// двухтельную эфемериду и неподвижную привязку. Все варианты отвечают на один
// запрос — геодезическое положение на заданный момент.
package orbit

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Variant — вариант орбитальной модели.
type Variant int

const (
	VariantTLE Variant = iota + 1
	VariantEphemeris
	VariantAnchor
)

func (v Variant) String() string {
	switch v {
	case VariantTLE:
		return "tle"
	case VariantEphemeris:
		return "ephemeris"
	case VariantAnchor:
		return "anchor"
	default:
		return "unknown"
	}
}

// Sample — геодезическое состояние объекта на момент Time.
type Sample struct {
	Time       time.Time
	Latitude   float64 // градусы
	Longitude  float64 // градусы
	AltitudeKm float64
	SpeedKnots float64
}

// Finite сообщает, что все числовые поля конечны.
func (s Sample) Finite() bool {
	for _, v := range [...]float64{s.Latitude, s.Longitude, s.AltitudeKm, s.SpeedKnots} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Model — орбитальная модель. Реализуется только вариантами этого пакета:
// *TLEModel, *EphemerisModel и *AnchorModel.
type Model interface {
	// PositionAt возвращает положение на момент t. Модель не меняется.
	PositionAt(t time.Time) (Sample, error)
	// Envelope возвращает границы высоты орбиты.
	Envelope() Envelope
	// Variant возвращает вариант модели.
	Variant() Variant

	sealed()
}

// Specification — исходные данные орбиты: TLESpec или KeplerianSpec.
type Specification interface {
	specification()
}

// TLESpec — именованный набор двухстрочных элементов.
type TLESpec struct {
	Name  string
	Line1 string
	Line2 string
}

// KeplerianSpec — период (или среднее движение) и высоты апогея/перигея в километрах.
type KeplerianSpec struct {
	Period    float64
	ApogeeKm  int64
	PerigeeKm int64
}

func (TLESpec) specification()       {}
func (KeplerianSpec) specification() {}

// New строит модель по спецификации. Для KeplerianSpec epoch — момент загрузки.
func New(spec Specification, epoch time.Time, opts ...EphemerisOption) (Model, error) {
	switch s := spec.(type) {
	case TLESpec:
		return NewTLEModel([]string{s.Name, s.Line1, s.Line2})
	case KeplerianSpec:
		return NewKeplerianModel(s, epoch, opts...)
	default:
		return nil, errors.Wrapf(ErrInvalidElementSet, "unsupported specification %T", spec)
	}
}

// AnchorModel — неподвижная привязка (геостационарный объект).
// Положение не зависит от времени, скорость нулевая.
type AnchorModel struct {
	Latitude       float64
	Longitude      float64
	AltitudeMeters float64
}

// NewAnchorModel создаёт привязку по координатам в градусах и высоте в метрах.
func NewAnchorModel(lat, lon, altitudeMeters float64) *AnchorModel {
	return &AnchorModel{
		Latitude:       lat,
		Longitude:      lon,
		AltitudeMeters: altitudeMeters,
	}
}

func (m *AnchorModel) PositionAt(t time.Time) (Sample, error) {
	s := Sample{
		Time:       t,
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		AltitudeKm: m.AltitudeMeters / MetersPerKm,
	}
	if !s.Finite() {
		return Sample{}, errors.Wrapf(ErrArithmeticAnomaly, "anchor %+v", *m)
	}
	return s, nil
}

func (m *AnchorModel) Envelope() Envelope {
	alt := m.AltitudeMeters / MetersPerKm
	return NewEnvelope(alt, alt)
}

func (m *AnchorModel) Variant() Variant { return VariantAnchor }

func (*AnchorModel) sealed() {}
