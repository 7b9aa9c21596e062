// Package sim продвигает сценарное время и выполняет шаги кинематики
// для набора объектов.
package sim

import (
	"sync"
	"time"
)

// ScenarioClock — сценарные часы с коэффициентом сжатия времени.
// Реализует kinematics.Clock.
type ScenarioClock struct {
	mu          sync.RWMutex
	now         time.Time
	compression int
}

// NewScenarioClock создаёт часы, стоящие на start. Сжатие меньше 1 приводится к 1.
func NewScenarioClock(start time.Time, compression int) *ScenarioClock {
	return &ScenarioClock{now: start.UTC(), compression: max(compression, 1)}
}

func (c *ScenarioClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.now
}

func (c *ScenarioClock) TimeCompression() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.compression
}

// Advance сдвигает часы на d и возвращает новое время.
func (c *ScenarioClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	return c.now
}

// Set переставляет часы на t.
func (c *ScenarioClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t.UTC()
}

func (c *ScenarioClock) SetTimeCompression(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.compression = max(n, 1)
}
