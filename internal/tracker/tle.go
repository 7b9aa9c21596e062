// Package tracker реализует разбор двухстрочных элементов (TLE), SGP4-пропагацию
// и преобразования координат WGS84, на которых строятся орбитальные модели.
package tracker

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Ошибки разбора TLE.
var (
	ErrInvalidTLEFormat  = errors.New("invalid TLE format")
	ErrInvalidChecksum   = errors.New("invalid TLE checksum")
	ErrInvalidLineNumber = errors.New("invalid TLE line number")
	ErrLineTooShort      = errors.New("TLE line too short")
	ErrNoradIDMismatch   = errors.New("NORAD ID mismatch between lines")
	ErrInvalidAlpha5     = errors.New("invalid Alpha-5 NORAD ID format")
	ErrInvalidElements   = errors.New("TLE elements out of range")
)

// alpha5Map переводит букву Alpha-5 в старшие разряды NORAD ID.
// I и O пропущены, чтобы не путать их с 1 и 0.
var alpha5Map = map[byte]int{
	'A': 10, 'B': 11, 'C': 12, 'D': 13, 'E': 14, 'F': 15, 'G': 16, 'H': 17,
	'J': 18, 'K': 19, 'L': 20, 'M': 21, 'N': 22,
	'P': 23, 'Q': 24, 'R': 25, 'S': 26, 'T': 27, 'U': 28, 'V': 29, 'W': 30,
	'X': 31, 'Y': 32, 'Z': 33,
}

// TLE — набор двухстрочных элементов одного объекта.
// Формат: https://celestrak.org/NORAD/documentation/tle-fmt.php
type TLE struct {
	Name           string    // Имя объекта (нулевая строка), может быть пустым.
	NoradID        int       // Каталожный номер NORAD.
	Classification string    // U, C или S.
	IntlDesignator string    // COSPAR ID.
	Epoch          time.Time // Эпоха элементов, UTC.
	MeanMotionDot  float64   // Первая производная среднего движения, об/сут².
	MeanMotionDot2 float64   // Вторая производная среднего движения, об/сут³.
	Bstar          float64   // Баллистический коэффициент B*.
	Inclination    float64   // Наклонение, градусы.
	RAAN           float64   // Долгота восходящего узла, градусы.
	Eccentricity   float64   // Эксцентриситет.
	ArgOfPerigee   float64   // Аргумент перигея, градусы.
	MeanAnomaly    float64   // Средняя аномалия, градусы.
	MeanMotion     float64   // Среднее движение, об/сут.
	RevNumber      int       // Номер витка на эпоху.
	Line1          string
	Line2          string
}

const (
	idxLine0 = 0
	idxLine1 = 1
	idxLine2 = 2

	// TLELineLength — длина строки TLE вместе с контрольной суммой.
	TLELineLength = 69
)

// ParseTLE разбирает TLE из 2 строк (Line1, Line2) или 3 строк (Name, Line1, Line2).
func ParseTLE(lines []string) (*TLE, error) {
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 lines, got %d", ErrInvalidTLEFormat, len(lines))
	}

	first := strings.TrimSpace(lines[idxLine0])
	if first == "" {
		return nil, fmt.Errorf("%w: first line is empty", ErrInvalidTLEFormat)
	}

	var name, line1, line2 string

	switch first[0] {
	case '1':
		line1 = first
		line2 = strings.TrimSpace(lines[idxLine1])
	case '2':
		return nil, fmt.Errorf("%w: expected Line1, got Line2", ErrInvalidTLEFormat)
	default:
		if len(lines) < 3 {
			return nil, fmt.Errorf("%w: 3-line format requires 3 lines, got %d", ErrInvalidTLEFormat, len(lines))
		}
		name = first
		line1 = strings.TrimSpace(lines[idxLine1])
		line2 = strings.TrimSpace(lines[idxLine2])
	}

	return parseTLELines(name, line1, line2)
}

// ParseTLEBatch разбирает поток из нескольких TLE (файл каталога).
// Наборы разделяются пустыми строками или идут подряд.
func ParseTLEBatch(data string) ([]*TLE, error) {
	var (
		tles    []*TLE
		pending []string
	)

	flush := func() error {
		if len(pending) < 2 {
			pending = nil
			return nil
		}
		tle, err := ParseTLE(pending)
		if err != nil {
			return fmt.Errorf("parsing TLE: %w", err)
		}
		tles = append(tles, tle)
		pending = nil
		return nil
	}

	for _, raw := range strings.Split(data, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}

		pending = append(pending, line)
		if isCompleteSet(pending) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}

	return tles, nil
}

// isCompleteSet сообщает, образуют ли накопленные строки законченный набор.
func isCompleteSet(lines []string) bool {
	switch len(lines) {
	case 2:
		return lines[0][0] == '1' && lines[1][0] == '2'
	case 3:
		return lines[0][0] != '1' && lines[0][0] != '2'
	}
	return false
}

func parseTLELines(name, line1, line2 string) (*TLE, error) {
	if len(line1) < TLELineLength {
		return nil, fmt.Errorf("%w: Line1 length %d, need %d", ErrLineTooShort, len(line1), TLELineLength)
	}
	if len(line2) < TLELineLength {
		return nil, fmt.Errorf("%w: Line2 length %d, need %d", ErrLineTooShort, len(line2), TLELineLength)
	}

	if line1[0] != '1' {
		return nil, fmt.Errorf("%w: Line1 starts with %c, expected 1", ErrInvalidLineNumber, line1[0])
	}
	if line2[0] != '2' {
		return nil, fmt.Errorf("%w: Line2 starts with %c, expected 2", ErrInvalidLineNumber, line2[0])
	}

	if !validateChecksum(line1) {
		return nil, fmt.Errorf("%w: Line1", ErrInvalidChecksum)
	}
	if !validateChecksum(line2) {
		return nil, fmt.Errorf("%w: Line2", ErrInvalidChecksum)
	}

	tle := &TLE{Name: name, Line1: line1, Line2: line2}

	if err := parseLine1(tle, line1); err != nil {
		return nil, fmt.Errorf("parsing Line1: %w", err)
	}
	if err := parseLine2(tle, line2); err != nil {
		return nil, fmt.Errorf("parsing Line2: %w", err)
	}

	id2, err := parseNoradID(strings.TrimSpace(line2[2:7]))
	if err != nil {
		return nil, fmt.Errorf("parsing NORAD ID from Line2: %w", err)
	}
	if tle.NoradID != id2 {
		return nil, fmt.Errorf("%w: Line1=%d, Line2=%d", ErrNoradIDMismatch, tle.NoradID, id2)
	}

	// SGP4 не умеет работать с незамкнутыми орбитами и нулевым средним движением.
	if tle.MeanMotion <= 0 || tle.Eccentricity >= 1 {
		return nil, fmt.Errorf("%w: mean motion %.8f, eccentricity %.7f",
			ErrInvalidElements, tle.MeanMotion, tle.Eccentricity)
	}

	return tle, nil
}

// parseLine1 разбирает Line 1 (колонки по формату NORAD).
//
//	3-7    NORAD ID (в том числе Alpha-5)
//	8      классификация
//	10-17  международное обозначение
//	19-32  эпоха YYDDD.DDDDDDDD
//	34-43  первая производная среднего движения
//	45-52  вторая производная среднего движения
//	54-61  B*
func parseLine1(tle *TLE, line string) error {
	var err error

	tle.NoradID, err = parseNoradID(strings.TrimSpace(line[2:7]))
	if err != nil {
		return fmt.Errorf("NORAD ID: %w", err)
	}

	tle.Classification = string(line[7])
	tle.IntlDesignator = strings.TrimSpace(line[9:17])

	tle.Epoch, err = parseEpoch(strings.TrimSpace(line[18:32]))
	if err != nil {
		return fmt.Errorf("epoch: %w", err)
	}

	tle.MeanMotionDot, err = strconv.ParseFloat(strings.TrimSpace(line[33:43]), 64)
	if err != nil {
		return fmt.Errorf("mean motion dot: %w", err)
	}

	tle.MeanMotionDot2 = parseExponent(line[44:52])
	tle.Bstar = parseExponent(line[53:61])

	return nil
}

// parseLine2 разбирает Line 2.
//
//	9-16   наклонение
//	18-25  RAAN
//	27-33  эксцентриситет (десятичная точка подразумевается)
//	35-42  аргумент перигея
//	44-51  средняя аномалия
//	53-63  среднее движение
//	64-68  номер витка
func parseLine2(tle *TLE, line string) error {
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"inclination", line[8:16], &tle.Inclination},
		{"RAAN", line[17:25], &tle.RAAN},
		{"eccentricity", "0." + strings.TrimSpace(line[26:33]), &tle.Eccentricity},
		{"argument of perigee", line[34:42], &tle.ArgOfPerigee},
		{"mean anomaly", line[43:51], &tle.MeanAnomaly},
		{"mean motion", line[52:63], &tle.MeanMotion},
	}

	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}

	if rev := strings.TrimSpace(line[63:68]); rev != "" {
		tle.RevNumber, _ = strconv.Atoi(rev)
	}

	return nil
}

// validateChecksum проверяет контрольную сумму строки по модулю 10.
func validateChecksum(line string) bool {
	if len(line) < TLELineLength {
		return false
	}

	idx := TLELineLength - 1

	return calculateChecksum(line[:idx]) == int(line[idx]-'0')
}

// calculateChecksum: сумма цифр плюс 1 за каждый минус, по модулю 10.
func calculateChecksum(line string) int {
	sum := 0
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// parseNoradID разбирает NORAD ID: 5 цифр или Alpha-5 (буква + 4 цифры).
func parseNoradID(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAlpha5)
	}

	if c := s[0]; c >= 'A' && c <= 'Z' {
		prefix, ok := alpha5Map[c]
		if !ok {
			return 0, fmt.Errorf("%w: invalid letter %c (I and O not allowed)", ErrInvalidAlpha5, c)
		}
		if len(s) < 5 {
			return 0, fmt.Errorf("%w: too short", ErrInvalidAlpha5)
		}
		rest, err := strconv.Atoi(s[1:5])
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidAlpha5, err)
		}
		return prefix*10000 + rest, nil
	}

	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid NORAD ID: %w", err)
	}

	return id, nil
}

// parseExponent разбирает запись вида "[±]NNNNN±E", означающую ±0.NNNNN × 10^±E.
func parseExponent(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}

	expPos := strings.LastIndexAny(s, "+-")
	if expPos == -1 {
		v, _ := strconv.ParseFloat("0."+s, 64)
		return sign * v
	}

	mantissa, _ := strconv.ParseFloat("0."+s[:expPos], 64)
	exp, _ := strconv.Atoi(s[expPos:])

	return sign * mantissa * math.Pow(10, float64(exp))
}

// parseEpoch переводит YYDDD.DDDDDDDD в UTC. 57-99 → 19xx, 00-56 → 20xx.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 7 {
		return time.Time{}, fmt.Errorf("epoch string too short: %s", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing year: %w", err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing day of year: %w", err)
	}

	base := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)

	return base.Add(time.Duration((day - 1) * 24 * float64(time.Hour))), nil
}

// OrbitalPeriod возвращает период обращения в минутах.
func (tle *TLE) OrbitalPeriod() float64 {
	if tle.MeanMotion == 0 {
		return 0
	}
	return minutesPerDay / tle.MeanMotion
}

// RecoveredSemiMajorAxis возвращает большую полуось в земных радиусах,
// восстановленную из среднего движения Козаи так же, как при инициализации SGP4 (WGS-72).
func (tle *TLE) RecoveredSemiMajorAxis() float64 {
	if tle.MeanMotion <= 0 {
		return 0
	}

	n0 := tle.MeanMotion * 2 * math.Pi / minutesPerDay // рад/мин
	a1 := math.Pow(wgs72XKE/n0, 2.0/3.0)

	cosi := math.Cos(tle.Inclination * Deg2Rad)
	x3thm1 := 3*cosi*cosi - 1
	beta2 := 1 - tle.Eccentricity*tle.Eccentricity
	beta := math.Sqrt(beta2)

	del1 := 1.5 * wgs72CK2 * x3thm1 / (a1 * a1 * beta * beta2)
	ao := a1 * (1 - del1*(1.0/3.0+del1*(1+134.0/81.0*del1)))
	delo := 1.5 * wgs72CK2 * x3thm1 / (ao * ao * beta * beta2)

	return ao / (1 - delo)
}

// ApogeeRec возвращает высоту апогея на эпоху (км) по восстановленной полуоси.
func (tle *TLE) ApogeeRec() float64 {
	return (tle.RecoveredSemiMajorAxis()*(1+tle.Eccentricity) - 1) * wgs72Radius
}

// PerigeeRec возвращает высоту перигея на эпоху (км) по восстановленной полуоси.
func (tle *TLE) PerigeeRec() float64 {
	return (tle.RecoveredSemiMajorAxis()*(1-tle.Eccentricity) - 1) * wgs72Radius
}

// String возвращает TLE в 2- или 3-строчном виде.
func (tle *TLE) String() string {
	if tle.Name != "" {
		return fmt.Sprintf("%s\n%s\n%s", tle.Name, tle.Line1, tle.Line2)
	}
	return fmt.Sprintf("%s\n%s", tle.Line1, tle.Line2)
}

// ParseTLESet разбирает уже разделённый набор: имя берётся как есть,
// даже если оно начинается с цифры.
func ParseTLESet(name, line1, line2 string) (*TLE, error) {
	return parseTLELines(strings.TrimSpace(name), strings.TrimSpace(line1), strings.TrimSpace(line2))
}
