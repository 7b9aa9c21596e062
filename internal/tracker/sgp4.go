package tracker

import (
	"errors"
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// Ошибки SGP4 пропагации.
var (
	ErrInvalidTLEForPropagation = errors.New("invalid TLE for SGP4 propagation")
	ErrPropagationFailed        = errors.New("SGP4 propagation failed")
	ErrNilTLE                   = errors.New("TLE is nil")
)

// Константы WGS-72, которыми пользуется SGP4.
const (
	wgs72Radius = 6378.135           // км
	wgs72XKE    = 0.0743669161331734 // sqrt(GM) в единицах ER^1.5/мин
	wgs72CK2    = 0.5 * 0.001082616  // J2/2

	minutesPerDay = 1440.0

	// earthRotationRate — угловая скорость вращения Земли, рад/с.
	earthRotationRate = 7.2921158553e-5
)

// ECIPosition — позиция (км) и скорость (км/с) в TEME на момент Time.
type ECIPosition struct {
	X, Y, Z    float64
	Vx, Vy, Vz float64
	Time       time.Time
}

// Propagator рассчитывает положение объекта по TLE алгоритмом SGP4.
// Обёртка над go-satellite с моделью гравитации WGS-72.
type Propagator struct {
	tle       *TLE
	satellite satellite.Satellite
}

// NewPropagator создаёт Propagator для tle.
func NewPropagator(tle *TLE) (p *Propagator, err error) {
	if tle == nil {
		return nil, ErrNilTLE
	}

	if tle.Line1 == "" || tle.Line2 == "" {
		return nil, fmt.Errorf("%w: missing Line1 or Line2", ErrInvalidTLEForPropagation)
	}

	// go-satellite паникует на строках, которые не может разобрать.
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: %v", ErrInvalidTLEForPropagation, r)
		}
	}()

	sat := satellite.TLEToSat(tle.Line1, tle.Line2, satellite.GravityWGS72)

	return &Propagator{
		tle:       tle,
		satellite: sat,
	}, nil
}

// Propagate рассчитывает состояние объекта в TEME на момент t.
// go-satellite считает только на целых секундах, поэтому для дробного момента
// состояние интерполируется кубическим полиномом Эрмита между соседними секундами.
func (p *Propagator) Propagate(t time.Time) (*ECIPosition, error) {
	if p == nil {
		return nil, ErrNilTLE
	}

	t = t.UTC()
	whole := t.Truncate(time.Second)

	pos, err := p.propagateWhole(whole)
	if err != nil {
		return nil, err
	}

	if frac := t.Sub(whole).Seconds(); frac > 0 {
		next, err := p.propagateWhole(whole.Add(time.Second))
		if err != nil {
			return nil, err
		}
		pos = hermite(pos, next, frac)
	}

	pos.Time = t
	return pos, nil
}

func (p *Propagator) propagateWhole(t time.Time) (*ECIPosition, error) {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	position, velocity := satellite.Propagate(
		p.satellite,
		year, int(month), day,
		hour, minute, sec,
	)

	if !isFinite(position.X, position.Y, position.Z, velocity.X, velocity.Y, velocity.Z) {
		return nil, fmt.Errorf(
			"%w: state is not finite at %s (orbital decay or invalid TLE)",
			ErrPropagationFailed, t.Format(time.RFC3339),
		)
	}

	return &ECIPosition{
		X:    position.X,
		Y:    position.Y,
		Z:    position.Z,
		Vx:   velocity.X,
		Vy:   velocity.Y,
		Vz:   velocity.Z,
		Time: t,
	}, nil
}

// hermite интерполирует состояние между a и b, отстоящими на одну секунду;
// s — доля секунды в [0, 1).
func hermite(a, b *ECIPosition, s float64) *ECIPosition {
	s2, s3 := s*s, s*s*s

	h00 := 2*s3 - 3*s2 + 1
	h10 := s3 - 2*s2 + s
	h01 := -2*s3 + 3*s2
	h11 := s3 - s2

	d00 := 6*s2 - 6*s
	d10 := 3*s2 - 4*s + 1
	d01 := -6*s2 + 6*s
	d11 := 3*s2 - 2*s

	pos := func(p0, v0, p1, v1 float64) float64 { return h00*p0 + h10*v0 + h01*p1 + h11*v1 }
	vel := func(p0, v0, p1, v1 float64) float64 { return d00*p0 + d10*v0 + d01*p1 + d11*v1 }

	return &ECIPosition{
		X:  pos(a.X, a.Vx, b.X, b.Vx),
		Y:  pos(a.Y, a.Vy, b.Y, b.Vy),
		Z:  pos(a.Z, a.Vz, b.Z, b.Vz),
		Vx: vel(a.X, a.Vx, b.X, b.Vx),
		Vy: vel(a.Y, a.Vy, b.Y, b.Vy),
		Vz: vel(a.Z, a.Vz, b.Z, b.Vz),
	}
}

// TLE возвращает исходный TLE.
func (p *Propagator) TLE() *TLE {
	if p == nil {
		return nil
	}
	return p.tle
}

// GMST — гринвичское среднее звёздное время (радианы) для поворота ECI → ECEF.
// Дробная часть секунды учитывается через скорость вращения Земли.
func GMST(t time.Time) float64 {
	t = t.UTC()
	whole := t.Truncate(time.Second)
	year, month, day := whole.Date()
	hour, minute, sec := whole.Clock()

	theta := satellite.GSTimeFromDate(year, int(month), day, hour, minute, sec)
	theta += earthRotationRate * t.Sub(whole).Seconds()

	return math.Mod(theta, 2*math.Pi)
}

func isFinite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// String возвращает строковое представление ECIPosition.
func (pos *ECIPosition) String() string {
	return fmt.Sprintf("ECI[%.3f, %.3f, %.3f km] V[%.6f, %.6f, %.6f km/s] @ %s",
		pos.X, pos.Y, pos.Z,
		pos.Vx, pos.Vy, pos.Vz,
		pos.Time.UTC().Format(time.RFC3339Nano),
	)
}

// Geodetic переводит позицию в геодезические координаты WGS84:
// широта и долгота в градусах, высота над эллипсоидом в км.
func (pos *ECIPosition) Geodetic() (latDeg, lonDeg, altKm float64) {
	lla := ECEFToLLA(ECIToECEF(pos))
	return lla.LatDeg(), lla.LonDeg(), lla.Alt
}
