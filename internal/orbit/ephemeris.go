package orbit

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/art-injener/satkin/internal/tracker"
)

const (
	// earthMu — гравитационный параметр Земли, км³/с².
	earthMu = 398600.4418
	// earthJ2 — вторая зональная гармоника.
	earthJ2 = 1.08262668e-3

	// periodThreshold разделяет трактовку параметра периода:
	// больше — период в минутах, не больше — среднее движение в об/сут.
	periodThreshold = 20.0

	keplerMaxIterations = 50
	keplerTolerance     = 1e-12
)

// EphemerisOption задаёт ориентацию орбиты двухтельной эфемериды.
type EphemerisOption func(*elements)

// WithInclination задаёт наклонение, градусы.
func WithInclination(deg float64) EphemerisOption {
	return func(e *elements) { e.inc = deg * tracker.Deg2Rad }
}

// WithRAAN задаёт долготу восходящего узла на эпоху, градусы.
func WithRAAN(deg float64) EphemerisOption {
	return func(e *elements) { e.raan0 = deg * tracker.Deg2Rad }
}

// WithArgOfPerigee задаёт аргумент перигея на эпоху, градусы.
func WithArgOfPerigee(deg float64) EphemerisOption {
	return func(e *elements) { e.argp0 = deg * tracker.Deg2Rad }
}

// WithMeanAnomaly задаёт среднюю аномалию на эпоху, градусы.
func WithMeanAnomaly(deg float64) EphemerisOption {
	return func(e *elements) { e.m0 = deg * tracker.Deg2Rad }
}

type elements struct {
	a     float64 // большая полуось, км
	ecc   float64
	inc   float64 // рад
	raan0 float64 // рад
	argp0 float64 // рад
	m0    float64 // рад
	n     float64 // среднее движение, рад/с

	raanDot float64 // рад/с
	argpDot float64 // рад/с
}

// EphemerisModel — упрощённая двухтельная эфемерида с вековым дрейфом узла и перигея от J2.
type EphemerisModel struct {
	epoch    time.Time
	el       elements
	envelope Envelope
}

// NewKeplerianModel строит эфемериду по периоду и высотам апогея/перигея (км).
// Высоты должны удовлетворять apogee >= perigee > 0.
func NewKeplerianModel(spec KeplerianSpec, epoch time.Time, opts ...EphemerisOption) (*EphemerisModel, error) {
	if spec.PerigeeKm <= 0 {
		return nil, errors.Wrapf(ErrInvalidElementSet, "perigee %d km must be positive", spec.PerigeeKm)
	}
	if spec.ApogeeKm < spec.PerigeeKm {
		return nil, errors.Wrapf(ErrInvalidElementSet, "apogee %d km below perigee %d km", spec.ApogeeKm, spec.PerigeeKm)
	}
	if math.IsNaN(spec.Period) || math.IsInf(spec.Period, 0) {
		return nil, errors.Wrapf(ErrInvalidElementSet, "period %v", spec.Period)
	}

	apogee := float64(spec.ApogeeKm)
	perigee := float64(spec.PerigeeKm)

	// Радиусы апсид, большая полуось и эксцентриситет.
	ra := tracker.WGS84A + apogee
	rp := tracker.WGS84A + perigee

	el := elements{
		a:   (ra + rp) / 2,
		ecc: (ra - rp) / (ra + rp),
	}
	for _, opt := range opts {
		opt(&el)
	}

	el.n = meanMotion(spec.Period, el.a)
	el.raanDot, el.argpDot = secularJ2(el)

	m := &EphemerisModel{
		epoch: epoch.UTC(),
		el:    el,
	}
	m.envelope = NewEnvelope(m.apogeeKm(), m.perigeeKm())

	return m, nil
}

// meanMotion возвращает среднее движение в рад/с.
func meanMotion(period, a float64) float64 {
	switch {
	case period > periodThreshold:
		return 2 * math.Pi / (period * 60)
	case period > 0:
		return period * 2 * math.Pi / 86400
	default:
		return math.Sqrt(earthMu / (a * a * a))
	}
}

// secularJ2 возвращает скорости векового дрейфа RAAN и аргумента перигея.
func secularJ2(el elements) (raanDot, argpDot float64) {
	p := el.a * (1 - el.ecc*el.ecc)
	k := 1.5 * earthJ2 * (tracker.WGS84A / p) * (tracker.WGS84A / p) * el.n

	sinI, cosI := math.Sincos(el.inc)

	return -k * cosI, k * (2 - 2.5*sinI*sinI)
}

func (m *EphemerisModel) apogeeKm() float64 {
	return m.el.a*(1+m.el.ecc) - tracker.WGS84A
}

func (m *EphemerisModel) perigeeKm() float64 {
	return m.el.a*(1-m.el.ecc) - tracker.WGS84A
}

// Period возвращает период обращения.
func (m *EphemerisModel) Period() time.Duration {
	return time.Duration(2 * math.Pi / m.el.n * float64(time.Second))
}

func (m *EphemerisModel) Envelope() Envelope { return m.envelope }

func (m *EphemerisModel) Variant() Variant { return VariantEphemeris }

func (*EphemerisModel) sealed() {}

// PositionAt предсказывает положение на момент t. Высота прижимается к границам орбиты,
// скорость — модуль инерциальной скорости в узлах.
func (m *EphemerisModel) PositionAt(t time.Time) (Sample, error) {
	t = t.UTC()
	dt := t.Sub(m.epoch).Seconds()

	r, v, err := m.stateAt(dt)
	if err != nil {
		return Sample{}, err
	}

	theta := sidereal.Mean(julian.TimeToJD(t)).Angle().Rad()
	lla := tracker.ECEFToLLA(tracker.RotateToECEF(r[0], r[1], r[2], theta, t))

	s := Sample{
		Time:       t,
		Latitude:   lla.LatDeg(),
		Longitude:  lla.LonDeg(),
		AltitudeKm: m.envelope.Clamp(lla.Alt),
		SpeedKnots: KmPerSecToKnots(floats.Norm(v, 2)),
	}
	if !s.Finite() {
		return Sample{}, errors.Wrapf(ErrArithmeticAnomaly, "ephemeris at %s", t.Format(time.RFC3339Nano))
	}

	return s, nil
}

// stateAt возвращает инерциальные позицию (км) и скорость (км/с) через dt секунд после эпохи.
func (m *EphemerisModel) stateAt(dt float64) (r, v []float64, err error) {
	el := m.el

	meanAnomaly := normalizeAngle(el.m0 + el.n*dt)
	ea, err := solveKepler(meanAnomaly, el.ecc)
	if err != nil {
		return nil, nil, err
	}

	sinE, cosE := math.Sincos(ea)
	root := math.Sqrt(1 - el.ecc*el.ecc)
	denom := 1 - el.ecc*cosE

	// Перифокальная система: ось X на перигей.
	pqwR := mat.NewVecDense(3, []float64{
		el.a * (cosE - el.ecc),
		el.a * root * sinE,
		0,
	})
	pqwV := mat.NewVecDense(3, []float64{
		-el.a * el.n * sinE / denom,
		el.a * el.n * root * cosE / denom,
		0,
	})

	rot := perifocalToInertial(
		el.raan0+el.raanDot*dt,
		el.inc,
		el.argp0+el.argpDot*dt,
	)

	var eciR, eciV mat.VecDense
	eciR.MulVec(rot, pqwR)
	eciV.MulVec(rot, pqwV)

	return eciR.RawVector().Data, eciV.RawVector().Data, nil
}

// perifocalToInertial возвращает матрицу Rz(raan)·Rx(inc)·Rz(argp).
func perifocalToInertial(raan, inc, argp float64) *mat.Dense {
	var rot, tmp mat.Dense
	tmp.Mul(rotZ(raan), rotX(inc))
	rot.Mul(&tmp, rotZ(argp))
	return &rot
}

func rotZ(angle float64) *mat.Dense {
	s, c := math.Sincos(angle)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

func rotX(angle float64) *mat.Dense {
	s, c := math.Sincos(angle)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

// solveKepler решает уравнение Кеплера M = E - e·sin E методом Ньютона.
func solveKepler(meanAnomaly, ecc float64) (float64, error) {
	ea := meanAnomaly
	if ecc > 0.8 {
		ea = math.Pi
	}

	for range keplerMaxIterations {
		f := ea - ecc*math.Sin(ea) - meanAnomaly
		step := f / (1 - ecc*math.Cos(ea))
		ea -= step
		if math.Abs(step) < keplerTolerance {
			return ea, nil
		}
	}

	if math.IsNaN(ea) || math.IsInf(ea, 0) {
		return 0, errors.Wrapf(ErrArithmeticAnomaly, "kepler equation M=%v e=%v", meanAnomaly, ecc)
	}
	return ea, nil
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
