package orbit

import (
	"github.com/pkg/errors"
)

// Классы отказов орбитальной модели.
var (
	// ErrInvalidElementSet — элементы орбиты не разбираются или противоречат друг другу.
	ErrInvalidElementSet = errors.New("invalid element set")
	// ErrArithmeticAnomaly — нечисловой или вышедший из области определения результат.
	ErrArithmeticAnomaly = errors.New("arithmetic anomaly")
	// ErrPropagationFault — любой другой отказ пропагатора.
	ErrPropagationFault = errors.New("propagation fault")
)

// Kind классифицирует ошибку по трём классам выше.
type Kind int

const (
	KindNone Kind = iota
	KindInvalidElementSet
	KindArithmeticAnomaly
	KindPropagationFault
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidElementSet:
		return "invalid_element_set"
	case KindArithmeticAnomaly:
		return "arithmetic_anomaly"
	case KindPropagationFault:
		return "propagation_fault"
	default:
		return "unknown"
	}
}

// KindOf определяет класс ошибки. Всё, что не распознано, считается отказом пропагатора.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidElementSet):
		return KindInvalidElementSet
	case errors.Is(err, ErrArithmeticAnomaly):
		return KindArithmeticAnomaly
	default:
		return KindPropagationFault
	}
}
