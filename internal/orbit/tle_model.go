package orbit

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/art-injener/satkin/internal/tracker"
)

// DefaultTLEName подставляется, когда TLE передан без строки имени.
const DefaultTLEName = "Mysat"

// TLEModel — модель по двухстрочным элементам, SGP4 через tracker.Propagator.
type TLEModel struct {
	tle      *tracker.TLE
	prop     *tracker.Propagator
	envelope Envelope
}

// NormalizeTLELines приводит вход к виду (name, line1, line2):
// при двух строках в начало добавляется DefaultTLEName.
func NormalizeTLELines(lines []string) ([]string, error) {
	switch len(lines) {
	case 2:
		return []string{DefaultTLEName, lines[0], lines[1]}, nil
	case 3:
		return []string{lines[0], lines[1], lines[2]}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidElementSet, "expected 2 or 3 TLE lines, got %d", len(lines))
	}
}

// NewTLEModel разбирает TLE и инициализирует SGP4.
// Некорректные строки дают ErrInvalidElementSet.
func NewTLEModel(lines []string) (*TLEModel, error) {
	set, err := NormalizeTLELines(lines)
	if err != nil {
		return nil, err
	}

	tle, err := tracker.ParseTLESet(set[0], set[1], set[2])
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidElementSet, "parse TLE: %v", err)
	}

	prop, err := tracker.NewPropagator(tle)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidElementSet, "init SGP4: %v", err)
	}

	return &TLEModel{
		tle:      tle,
		prop:     prop,
		envelope: NewEnvelope(tle.ApogeeRec(), tle.PerigeeRec()),
	}, nil
}

// TLE возвращает разобранный набор элементов.
func (m *TLEModel) TLE() *tracker.TLE { return m.tle }

// PositionAt пропагирует TLE на момент t и переводит результат в геодезические координаты.
// Скорость — модуль X-компоненты инерциальной скорости в узлах, а не модуль вектора.
// Высота к границам орбиты не прижимается.
func (m *TLEModel) PositionAt(t time.Time) (Sample, error) {
	eci, err := m.prop.Propagate(t)
	if err != nil {
		return Sample{}, errors.Wrapf(ErrPropagationFault, "SGP4 %s: %v", m.tle.Name, err)
	}

	lat, lon, alt := eci.Geodetic()

	s := Sample{
		Time:       t,
		Latitude:   lat,
		Longitude:  lon,
		AltitudeKm: alt,
		SpeedKnots: KmPerSecToKnots(math.Abs(eci.Vx)),
	}
	if !s.Finite() {
		return Sample{}, errors.Wrapf(ErrArithmeticAnomaly, "geodetic conversion of %s", eci)
	}

	return s, nil
}

// Envelope возвращает апогей/перигей на эпоху по восстановленной большой полуоси.
func (m *TLEModel) Envelope() Envelope { return m.envelope }

func (m *TLEModel) Variant() Variant { return VariantTLE }

func (*TLEModel) sealed() {}
