package kinematics

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/art-injener/satkin/internal/geodesy"
	"github.com/art-injener/satkin/internal/orbit"
)

// DiagMarker — метка, с которой в журнал пишутся отказы шага.
const DiagMarker = "kinematics.move"

// ErrNoOrbit — орбита не загружена и привязки нет.
var ErrNoOrbit = errors.New("no orbit loaded")

// sampleStep — интервал между двумя опорными отсчётами шага.
const sampleStep = time.Second

// Mover — объект, который умеет сделать шаг симуляции.
type Mover interface {
	Move(tc TickContext, logger *slog.Logger) error
}

// Satellite — кинематика орбитального объекта.
// Держит одну орбитальную модель (TLE или эфемерида) и необязательную привязку,
// которая имеет приоритет над моделью.
type Satellite struct {
	mu sync.RWMutex
	// moveMu не даёт шагам из разных горутин (планировщик, перезагрузка орбиты)
	// перемешать записи в платформу.
	moveMu sync.Mutex

	platform Platform
	clock    Clock
	logger   *slog.Logger

	model  orbit.Model
	anchor *orbit.AnchorModel

	ephemerisOpts []orbit.EphemerisOption
}

var _ Mover = (*Satellite)(nil)

// SatelliteOption функция настройки Satellite.
type SatelliteOption func(*Satellite)

// WithLogger логгер для сообщений загрузки.
func WithLogger(logger *slog.Logger) SatelliteOption {
	return func(s *Satellite) {
		s.logger = logger
	}
}

// WithAnchor задаёт неподвижную привязку.
func WithAnchor(anchor *orbit.AnchorModel) SatelliteOption {
	return func(s *Satellite) {
		s.anchor = anchor
	}
}

// WithEphemerisOptions задаёт ориентацию орбиты для LoadOrbitalElements.
func WithEphemerisOptions(opts ...orbit.EphemerisOption) SatelliteOption {
	return func(s *Satellite) {
		s.ephemerisOpts = append(s.ephemerisOpts, opts...)
	}
}

// NewSatellite создаёт кинематику для платформы, управляемой часами clock.
func NewSatellite(platform Platform, clock Clock, opts ...SatelliteOption) *Satellite {
	s := &Satellite{
		platform: platform,
		clock:    clock,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Platform возвращает управляемую платформу.
func (s *Satellite) Platform() Platform {
	return s.platform
}

// LoadOrbitalElements заменяет модель двухтельной эфемеридой и сразу
// переставляет платформу на текущее время часов.
// period > 20 — период в минутах, (0, 20] — среднее движение в об/сут,
// не больше 0 — период по третьему закону Кеплера.
func (s *Satellite) LoadOrbitalElements(period float32, apogeeKm, perigeeKm int64) error {
	return s.Load(orbit.KeplerianSpec{
		Period:    float64(period),
		ApogeeKm:  apogeeKm,
		PerigeeKm: perigeeKm,
	})
}

// LoadTleData заменяет модель TLE из 2 строк (line1, line2) или 3 (name, line1, line2)
// и сразу переставляет платформу на текущее время часов.
func (s *Satellite) LoadTleData(lines []string) error {
	set, err := orbit.NormalizeTLELines(lines)
	if err != nil {
		return err
	}

	return s.Load(orbit.TLESpec{Name: set[0], Line1: set[1], Line2: set[2]})
}

// Load строит модель по спецификации. Эпоха эфемериды — текущее время часов.
func (s *Satellite) Load(spec orbit.Specification) error {
	model, err := orbit.New(spec, s.clock.Now(), s.ephemerisOpts...)
	if err != nil {
		return err
	}

	s.setModel(model)
	return nil
}

func (s *Satellite) setModel(model orbit.Model) {
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()

	s.logger.Debug("orbit loaded",
		"variant", model.Variant(),
		"apogee_m", model.Envelope().ApogeeMeters,
		"perigee_m", model.Envelope().PerigeeMeters,
	)

	// Отказ повторной привязки не отменяет загрузку: модель уже заменена.
	if err := s.Move(TickFrom(s.clock), s.logger); err != nil {
		s.logger.Warn("re-anchor after load failed",
			"diag", DiagMarker,
			"kind", orbit.KindOf(err).String(),
			"error", err,
		)
	}
}

// SetAnchor задаёт привязку. Пока она есть, пропагация не выполняется.
func (s *Satellite) SetAnchor(anchor *orbit.AnchorModel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.anchor = anchor
}

// ClearAnchor снимает привязку.
func (s *Satellite) ClearAnchor() {
	s.SetAnchor(nil)
}

// Model возвращает действующую модель: привязку, если она задана, иначе загруженную орбиту.
func (s *Satellite) Model() orbit.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.anchor != nil {
		return s.anchor
	}
	return s.model
}

// GetApogee возвращает апогей загруженной орбиты в метрах, 0 если орбиты нет.
func (s *Satellite) GetApogee() int64 {
	env, ok := s.envelope()
	if !ok {
		return 0
	}
	return env.ApogeeMeters
}

// GetPerigee возвращает перигей загруженной орбиты в метрах, 0 если орбиты нет.
func (s *Satellite) GetPerigee() int64 {
	env, ok := s.envelope()
	if !ok {
		return 0
	}
	return env.PerigeeMeters
}

func (s *Satellite) envelope() (orbit.Envelope, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.model != nil:
		return s.model.Envelope(), true
	case s.anchor != nil:
		return s.anchor.Envelope(), true
	default:
		return orbit.Envelope{}, false
	}
}

// CalculateOrbit возвращает положение на момент t без изменения платформы.
func (s *Satellite) CalculateOrbit(t time.Time) (lat, lon, altKm, speedKnots float64, err error) {
	model := s.Model()
	if model == nil {
		return 0, 0, 0, 0, ErrNoOrbit
	}

	sample, err := positionAt(model, t)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	return sample.Latitude, sample.Longitude, sample.AltitudeKm, sample.SpeedKnots, nil
}

// update — значения, которые шаг запишет в платформу.
type update struct {
	Latitude       float64
	Longitude      float64
	AltitudeMeters float64
	Heading        float64
	SpeedKnots     float64
}

func (u update) finite() bool {
	for _, v := range [...]float64{u.Latitude, u.Longitude, u.AltitudeMeters, u.Heading, u.SpeedKnots} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Move выполняет шаг симуляции. При ошибке платформа не меняется.
func (s *Satellite) Move(tc TickContext, logger *slog.Logger) error {
	if logger == nil {
		logger = s.logger
	}

	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	model := s.Model()
	if model == nil {
		return ErrNoOrbit
	}

	u, err := plan(model, tc)
	if err != nil {
		return err
	}

	s.apply(u)

	logger.Debug("satellite moved",
		"time", tc.Now,
		"lat", u.Latitude,
		"lon", u.Longitude,
		"alt_m", u.AltitudeMeters,
		"heading", u.Heading,
		"speed_kn", u.SpeedKnots,
	)

	return nil
}

// plan считает новое состояние по двум отсчётам: в момент шага и через секунду.
// При сжатии времени больше 1 берётся первый отсчёт как есть, иначе точка
// продвигается по геодезической на дробную часть секунды.
func plan(model orbit.Model, tc TickContext) (update, error) {
	a, err := positionAt(model, tc.Now)
	if err != nil {
		return update{}, err
	}
	b, err := positionAt(model, tc.Now.Add(sampleStep))
	if err != nil {
		return update{}, err
	}

	heading := geodesy.Azimuth(a.Latitude, a.Longitude, b.Latitude, b.Longitude)

	var u update
	if tc.TimeCompression > 1 {
		u = update{
			Latitude:       a.Latitude,
			Longitude:      a.Longitude,
			AltitudeMeters: a.AltitudeKm * orbit.MetersPerKm,
			Heading:        heading,
			SpeedKnots:     a.SpeedKnots,
		}
	} else {
		frac := float64(tc.Now.Nanosecond()) / float64(time.Second)

		lon, lat, h := geodesy.Advance(a.Longitude, a.Latitude, b.Longitude, b.Latitude, heading, frac)
		u = update{
			Latitude:       lat,
			Longitude:      lon,
			AltitudeMeters: lerp(a.AltitudeKm, b.AltitudeKm, frac) * orbit.MetersPerKm,
			Heading:        h,
			SpeedKnots:     lerp(a.SpeedKnots, b.SpeedKnots, frac),
		}
	}

	if !u.finite() {
		return update{}, errors.Wrapf(orbit.ErrArithmeticAnomaly, "tick at %s: %+v", tc.Now.Format(time.RFC3339Nano), u)
	}

	return u, nil
}

// positionAt вызывает модель, переводя панику пропагатора в ErrPropagationFault.
func positionAt(model orbit.Model, t time.Time) (sample orbit.Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(orbit.ErrPropagationFault, "panic at %s: %v", t.Format(time.RFC3339), r)
		}
	}()

	return model.PositionAt(t)
}

func (s *Satellite) apply(u update) {
	p := s.platform

	p.SetLatitude(u.Latitude)
	p.SetLongitude(u.Longitude)
	p.SetAltitudeMeters(u.AltitudeMeters)
	p.SetHeading(u.Heading)
	p.SetSpeed(u.SpeedKnots)

	p.SetLastReported(u.Longitude, u.Latitude)
	p.ExportUnitPositions(false)
}

func lerp(a, b, frac float64) float64 {
	return a + (b-a)*frac
}
