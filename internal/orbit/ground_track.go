package orbit

import (
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidTrackRange — пустой интервал или неположительный шаг трассы.
var ErrInvalidTrackRange = errors.New("invalid ground track range")

// Скачок долготы между соседними точками, который считается переходом через ±180°.
const antimeridianJump = 270.0

// DefaultTrackStep — шаг трассы по умолчанию.
const DefaultTrackStep = 30 * time.Second

// TrackPoint — точка подспутниковой трассы.
type TrackPoint struct {
	Lon   float64 `json:"lon"`
	Lat   float64 `json:"lat"`
	AltKm float64 `json:"alt_km"`
	TS    int64   `json:"ts"` // Unix, миллисекунды
}

// GroundTrack — трасса, разбитая на пройденный и предстоящий участки.
// Каждый участок разрезан на сегменты по антимеридиану.
type GroundTrack struct {
	Variant string         `json:"variant"`
	Past    [][]TrackPoint `json:"past"`
	Future  [][]TrackPoint `json:"future"`
}

// Points возвращает все точки трассы подряд.
func (gt *GroundTrack) Points() []TrackPoint {
	if gt == nil {
		return nil
	}

	var out []TrackPoint
	for _, seg := range slices.Concat(gt.Past, gt.Future) {
		out = append(out, seg...)
	}
	return out
}

// GenerateGroundTrack строит трассу модели на [start, end] с шагом step.
// Точки до now попадают в Past, остальные в Future. Если пропагация
// обрывается посреди интервала, трасса обрезается по последней удачной точке.
func GenerateGroundTrack(model Model, start, end, now time.Time, step time.Duration) (*GroundTrack, error) {
	if step <= 0 || start.Equal(end) {
		return nil, errors.Wrapf(ErrInvalidTrackRange, "start=%s end=%s step=%s",
			start.Format(time.RFC3339), end.Format(time.RFC3339), step)
	}
	if end.Before(start) {
		start, end = end, start
	}

	points := make([]TrackPoint, 0, int(end.Sub(start)/step)+1)
	for ts := start; !ts.After(end); ts = ts.Add(step) {
		s, err := model.PositionAt(ts)
		if err != nil {
			if len(points) > 0 {
				break
			}
			return nil, errors.Wrapf(err, "ground track at %s", ts.Format(time.RFC3339))
		}

		points = append(points, TrackPoint{
			Lon:   s.Longitude,
			Lat:   s.Latitude,
			AltKm: s.AltitudeKm,
			TS:    ts.UnixMilli(),
		})
	}

	past, future := splitPastFuture(splitAtAntimeridian(points), now.UnixMilli())

	return &GroundTrack{
		Variant: model.Variant().String(),
		Past:    past,
		Future:  future,
	}, nil
}

// DefaultGroundTrack строит трассу на виток назад и три витка вперёд от now.
// Для привязки берётся интервал в сутки.
func DefaultGroundTrack(model Model, now time.Time) (*GroundTrack, error) {
	period := PeriodOf(model)
	if period <= 0 {
		period = 24 * time.Hour
	}

	return GenerateGroundTrack(model, now.Add(-period), now.Add(3*period), now, DefaultTrackStep)
}

// PeriodOf возвращает период обращения модели, 0 для привязки.
func PeriodOf(model Model) time.Duration {
	switch m := model.(type) {
	case *TLEModel:
		return time.Duration(m.tle.OrbitalPeriod() * float64(time.Minute))
	case *EphemerisModel:
		return m.Period()
	default:
		return 0
	}
}

// splitAtAntimeridian режет трассу при переходе через ±180°, добавляя
// граничные точки с линейно интерполированной широтой.
func splitAtAntimeridian(points []TrackPoint) [][]TrackPoint {
	if len(points) == 0 {
		return nil
	}

	var segments [][]TrackPoint
	seg := []TrackPoint{points[0]}

	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		if math.Abs(cur.Lon-prev.Lon) <= antimeridianJump {
			seg = append(seg, cur)
			continue
		}

		exit, entry := antimeridianCrossing(prev, cur)
		segments = append(segments, append(seg, exit))
		seg = []TrackPoint{entry, cur}
	}

	return append(segments, seg)
}

// antimeridianCrossing возвращает точку выхода (на стороне p1) и входа (на стороне p2).
func antimeridianCrossing(p1, p2 TrackPoint) (exit, entry TrackPoint) {
	edge, unwrapped := 180.0, p2.Lon+360
	if p1.Lon < 0 {
		edge, unwrapped = -180.0, p2.Lon-360
	}

	frac := 0.5
	if d := unwrapped - p1.Lon; math.Abs(d) > 1e-10 {
		frac = math.Max(0, math.Min(1, (edge-p1.Lon)/d))
	}

	exit = TrackPoint{
		Lon:   edge,
		Lat:   lerpTrack(p1.Lat, p2.Lat, frac),
		AltKm: lerpTrack(p1.AltKm, p2.AltKm, frac),
		TS:    p1.TS + int64(float64(p2.TS-p1.TS)*frac),
	}
	entry = exit
	entry.Lon = -edge

	return exit, entry
}

// splitPastFuture делит сегменты по моменту nowMs; сегмент, содержащий now, разрезается.
func splitPastFuture(segments [][]TrackPoint, nowMs int64) (past, future [][]TrackPoint) {
	for _, seg := range segments {
		idx := slices.IndexFunc(seg, func(p TrackPoint) bool { return p.TS >= nowMs })

		switch idx {
		case -1:
			past = append(past, seg)
		case 0:
			future = append(future, seg)
		default:
			past = append(past, seg[:idx])
			future = append(future, seg[idx:])
		}
	}

	return past, future
}

func lerpTrack(a, b, frac float64) float64 {
	return a + (b-a)*frac
}
