// Package kinematics обновляет кинематическое состояние платформы по орбитальной модели
// на каждом шаге симуляции.
package kinematics

import (
	"sync"
	"time"
)

// Platform — внешняя платформа, состояние которой меняет ядро кинематики.
// Высота в метрах, курс в градусах, скорость в узлах.
type Platform interface {
	Latitude() float64
	Longitude() float64
	AltitudeMeters() float64
	Heading() float64
	Speed() float64

	SetLatitude(deg float64)
	SetLongitude(deg float64)
	SetAltitudeMeters(m float64)
	SetHeading(deg float64)
	SetSpeed(knots float64)

	// SetLastReported запоминает последнюю выданную наружу точку.
	SetLastReported(lon, lat float64)
	// ExportUnitPositions передаёт состояние внешнему потребителю.
	ExportUnitPositions(forceUpdate bool)
}

// Clock — сценарные часы.
type Clock interface {
	Now() time.Time
	TimeCompression() int
}

// TickContext — входные данные одного шага.
type TickContext struct {
	Now             time.Time
	TimeCompression int
}

// TickFrom снимает показания часов.
func TickFrom(c Clock) TickContext {
	return TickContext{Now: c.Now(), TimeCompression: c.TimeCompression()}
}

// State — снимок кинематического состояния платформы.
type State struct {
	Latitude       float64
	Longitude      float64
	AltitudeMeters float64
	Heading        float64
	SpeedKnots     float64
	LastLatitude   float64
	LastLongitude  float64
}

// ExportFunc получает состояние платформы при каждом экспорте.
type ExportFunc func(state State, forceUpdate bool)

// MemoryPlatform — Platform в памяти. Безопасна для чтения из других горутин.
type MemoryPlatform struct {
	mu      sync.RWMutex
	state   State
	exports int
	export  ExportFunc
}

// NewMemoryPlatform создаёт платформу. export может быть nil.
func NewMemoryPlatform(export ExportFunc) *MemoryPlatform {
	return &MemoryPlatform{export: export}
}

// Snapshot возвращает копию состояния.
func (p *MemoryPlatform) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.state
}

// Exports возвращает число вызовов ExportUnitPositions.
func (p *MemoryPlatform) Exports() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.exports
}

func (p *MemoryPlatform) Latitude() float64       { return p.Snapshot().Latitude }
func (p *MemoryPlatform) Longitude() float64      { return p.Snapshot().Longitude }
func (p *MemoryPlatform) AltitudeMeters() float64 { return p.Snapshot().AltitudeMeters }
func (p *MemoryPlatform) Heading() float64        { return p.Snapshot().Heading }
func (p *MemoryPlatform) Speed() float64          { return p.Snapshot().SpeedKnots }

func (p *MemoryPlatform) SetLatitude(deg float64) {
	p.update(func(s *State) { s.Latitude = deg })
}

func (p *MemoryPlatform) SetLongitude(deg float64) {
	p.update(func(s *State) { s.Longitude = deg })
}

func (p *MemoryPlatform) SetAltitudeMeters(m float64) {
	p.update(func(s *State) { s.AltitudeMeters = m })
}

func (p *MemoryPlatform) SetHeading(deg float64) {
	p.update(func(s *State) { s.Heading = deg })
}

func (p *MemoryPlatform) SetSpeed(knots float64) {
	p.update(func(s *State) { s.SpeedKnots = knots })
}

func (p *MemoryPlatform) SetLastReported(lon, lat float64) {
	p.update(func(s *State) {
		s.LastLongitude = lon
		s.LastLatitude = lat
	})
}

func (p *MemoryPlatform) ExportUnitPositions(forceUpdate bool) {
	p.mu.Lock()
	p.exports++
	state := p.state
	p.mu.Unlock()

	if p.export != nil {
		p.export(state, forceUpdate)
	}
}

func (p *MemoryPlatform) update(fn func(*State)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn(&p.state)
}
