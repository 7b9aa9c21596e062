package tracker

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"
)

// withChecksum дописывает контрольную сумму к 68 символам строки TLE.
func withChecksum(line68 string) string {
	if len(line68) != 68 {
		panic(fmt.Sprintf("line must be 68 chars, got %d", len(line68)))
	}
	return line68 + strconv.Itoa(calculateChecksum(line68))
}

// Эталонные наборы элементов.
var (
	// МКС, реальный TLE (эпоха 2025-05-18).
	issLine1 = "1 25544U 98067A   25138.37048074  .00007749  00000+0  14567-3 0  9994"
	issLine2 = "2 25544  51.6369  94.7823 0002558 120.7586  15.7840 15.49587957510533"

	// Синтетический набор с производными со знаком минус.
	synthLine1 = withChecksum("1 40069U 14037A   24001.50000000 -.00000123  12345-5 -12345-4 0  999")
	synthLine2 = withChecksum("2 40069  98.5200  45.6789 0001234 123.4567 236.7890 14.2098765432109")

	// Alpha-5 (A0001 = 100001).
	alphaLine1 = withChecksum("1 A0001U 24001A   24001.50000000  .00000123  00000-0  12345-4 0  999")
	alphaLine2 = withChecksum("2 A0001  53.0000 123.4567 0001234  90.0000 270.0000 15.0000000000001")
)

func TestParseTLE_Forms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lines    []string
		wantName string
		wantID   int
	}{
		{"three lines", []string{"ISS (ZARYA)", issLine1, issLine2}, "ISS (ZARYA)", 25544},
		{"two lines", []string{issLine1, issLine2}, "", 25544},
		{"padded", []string{"  ISS (ZARYA)   ", " " + issLine1 + " ", issLine2 + "\r"}, "ISS (ZARYA)", 25544},
		{"alpha-5", []string{"STARLINK-X", alphaLine1, alphaLine2}, "STARLINK-X", 100001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tle, err := ParseTLE(tt.lines)
			if err != nil {
				t.Fatalf("ParseTLE() error = %v", err)
			}
			if tle.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", tle.Name, tt.wantName)
			}
			if tle.NoradID != tt.wantID {
				t.Errorf("NoradID = %d, want %d", tle.NoradID, tt.wantID)
			}
		})
	}
}

func TestParseTLE_Fields(t *testing.T) {
	t.Parallel()

	tle, err := ParseTLE([]string{"ISS (ZARYA)", issLine1, issLine2})
	if err != nil {
		t.Fatalf("ParseTLE() error = %v", err)
	}

	floats := []struct {
		name      string
		got, want float64
		tol       float64
	}{
		{"Inclination", tle.Inclination, 51.6369, 1e-9},
		{"RAAN", tle.RAAN, 94.7823, 1e-9},
		{"Eccentricity", tle.Eccentricity, 0.0002558, 1e-12},
		{"ArgOfPerigee", tle.ArgOfPerigee, 120.7586, 1e-9},
		{"MeanAnomaly", tle.MeanAnomaly, 15.7840, 1e-9},
		{"MeanMotion", tle.MeanMotion, 15.49587957, 1e-9},
		{"MeanMotionDot", tle.MeanMotionDot, 0.00007749, 1e-12},
		{"MeanMotionDot2", tle.MeanMotionDot2, 0, 0},
		{"Bstar", tle.Bstar, 0.00014567, 1e-12},
	}

	for _, f := range floats {
		if math.Abs(f.got-f.want) > f.tol {
			t.Errorf("%s = %.10g, want %.10g", f.name, f.got, f.want)
		}
	}

	if tle.Classification != "U" {
		t.Errorf("Classification = %q, want U", tle.Classification)
	}
	if tle.IntlDesignator != "98067A" {
		t.Errorf("IntlDesignator = %q, want 98067A", tle.IntlDesignator)
	}
	if tle.RevNumber != 51053 {
		t.Errorf("RevNumber = %d, want 51053", tle.RevNumber)
	}

	// 25138.37048074: 18 мая 2025, 08:53:29.5 UTC.
	wantEpoch := time.Date(2025, time.May, 18, 8, 53, 29, 536_000_000, time.UTC)
	if d := tle.Epoch.Sub(wantEpoch); d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("Epoch = %v, want %v", tle.Epoch, wantEpoch)
	}
}

func TestParseTLE_NegativeExponents(t *testing.T) {
	t.Parallel()

	tle, err := ParseTLE([]string{synthLine1, synthLine2})
	if err != nil {
		t.Fatalf("ParseTLE() error = %v", err)
	}

	if math.Abs(tle.MeanMotionDot+0.00000123) > 1e-14 {
		t.Errorf("MeanMotionDot = %e, want -1.23e-6", tle.MeanMotionDot)
	}
	if math.Abs(tle.MeanMotionDot2-0.0000012345) > 1e-16 {
		t.Errorf("MeanMotionDot2 = %e, want 1.2345e-6", tle.MeanMotionDot2)
	}
	if math.Abs(tle.Bstar+0.000012345) > 1e-16 {
		t.Errorf("Bstar = %e, want -1.2345e-5", tle.Bstar)
	}
}

func TestParseTLE_Errors(t *testing.T) {
	t.Parallel()

	zeroMeanMotion := withChecksum("2 25544  51.6369  94.7823 0002558 120.7586  15.7840 00.0000000051053")
	otherID := withChecksum("2 25545  51.6369  94.7823 0002558 120.7586  15.7840 15.49587957510533"[:68])

	tests := []struct {
		name    string
		lines   []string
		wantErr error
	}{
		{"empty", nil, ErrInvalidTLEFormat},
		{"single line", []string{issLine1}, ErrInvalidTLEFormat},
		{"starts with line 2", []string{issLine2, issLine1}, ErrInvalidTLEFormat},
		{"name without lines", []string{"ISS", issLine1}, ErrInvalidTLEFormat},
		{"too short", []string{"1 25544U 98067A", "2 25544  51.6400"}, ErrLineTooShort},
		{"wrong second line number", []string{issLine1, issLine1}, ErrInvalidLineNumber},
		{"bad checksum", []string{issLine1[:68] + "0", issLine2}, ErrInvalidChecksum},
		{"NORAD mismatch", []string{issLine1, otherID}, ErrNoradIDMismatch},
		{"zero mean motion", []string{issLine1, zeroMeanMotion}, ErrInvalidElements},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseTLE(tt.lines)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseTLE() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTLESet_DigitName(t *testing.T) {
	t.Parallel()

	// ParseTLE принял бы "1998-067A" за Line1; ParseTLESet берёт имя как есть.
	tle, err := ParseTLESet(" 1998-067A ", issLine1, issLine2)
	if err != nil {
		t.Fatalf("ParseTLESet() error = %v", err)
	}
	if tle.Name != "1998-067A" {
		t.Errorf("Name = %q, want %q", tle.Name, "1998-067A")
	}
}

func TestParseTLEBatch(t *testing.T) {
	t.Parallel()

	data := strings.Join([]string{
		"ISS (ZARYA)", issLine1, issLine2,
		"",
		synthLine1, synthLine2,
		"STARLINK-X", alphaLine1, alphaLine2,
		"",
	}, "\n")

	tles, err := ParseTLEBatch(data)
	if err != nil {
		t.Fatalf("ParseTLEBatch() error = %v", err)
	}

	want := []struct {
		name string
		id   int
	}{
		{"ISS (ZARYA)", 25544},
		{"", 40069},
		{"STARLINK-X", 100001},
	}

	if len(tles) != len(want) {
		t.Fatalf("ParseTLEBatch() returned %d sets, want %d", len(tles), len(want))
	}
	for i, w := range want {
		if tles[i].Name != w.name || tles[i].NoradID != w.id {
			t.Errorf("set %d = (%q, %d), want (%q, %d)", i, tles[i].Name, tles[i].NoradID, w.name, w.id)
		}
	}
}

func TestParseTLEBatch_Broken(t *testing.T) {
	t.Parallel()

	_, err := ParseTLEBatch("ISS\n" + issLine1[:68] + "0\n" + issLine2)
	if !errors.Is(err, ErrInvalidChecksum) {
		t.Errorf("ParseTLEBatch() error = %v, want %v", err, ErrInvalidChecksum)
	}
}

func TestValidateChecksum(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line  string
		valid bool
	}{
		{issLine1, true},
		{issLine2, true},
		{synthLine1, true},
		{issLine1[:68] + "0", false},
		{issLine1[:60], false},
	}

	for _, tt := range tests {
		if got := validateChecksum(tt.line); got != tt.valid {
			t.Errorf("validateChecksum(%q) = %v, want %v", tt.line, got, tt.valid)
		}
	}
}

func TestParseExponent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  float64
	}{
		{"14567-3", 0.00014567},
		{"00000+0", 0},
		{"00000-0", 0},
		{"-12345-4", -0.000012345},
		{"+12345-4", 0.000012345},
		{"12345+1", 1.2345},
		{" 12345-5", 0.0000012345},
		{"", 0},
	}

	for _, tt := range tests {
		if got := parseExponent(tt.input); math.Abs(got-tt.want) > 1e-15 {
			t.Errorf("parseExponent(%q) = %e, want %e", tt.input, got, tt.want)
		}
	}
}

func TestParseNoradID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"25544", 25544, false},
		{"00001", 1, false},
		{"A0000", 100000, false},
		{"H9999", 179999, false},
		{"J0000", 180000, false}, // I пропущена
		{"P0000", 230000, false}, // O пропущена
		{"Z9999", 339999, false},
		{"I0000", 0, true},
		{"O1234", 0, true},
		{"A12", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := parseNoradID(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseNoradID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseNoradID(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestTLE_ApogeePerigeeRec(t *testing.T) {
	t.Parallel()

	tle, err := ParseTLE([]string{issLine1, issLine2})
	if err != nil {
		t.Fatalf("ParseTLE() error = %v", err)
	}

	apogee, perigee := tle.ApogeeRec(), tle.PerigeeRec()

	// Эталон посчитан по формулам инициализации SGP4 (WGS-72).
	if math.Abs(apogee-420.177) > 0.01 {
		t.Errorf("ApogeeRec() = %.3f, want 420.177", apogee)
	}
	if math.Abs(perigee-416.700) > 0.01 {
		t.Errorf("PerigeeRec() = %.3f, want 416.700", perigee)
	}

	// Восстановленная полуось больше кеплеровой по среднему движению Козаи.
	kozai := math.Pow(wgs72XKE/(tle.MeanMotion*2*math.Pi/minutesPerDay), 2.0/3.0)
	if tle.RecoveredSemiMajorAxis() <= kozai {
		t.Errorf("RecoveredSemiMajorAxis() = %v, want > %v", tle.RecoveredSemiMajorAxis(), kozai)
	}

	if p := tle.OrbitalPeriod(); math.Abs(p-92.93) > 0.01 {
		t.Errorf("OrbitalPeriod() = %.3f min, want ~92.93", p)
	}
}

func TestTLE_String(t *testing.T) {
	t.Parallel()

	named, err := ParseTLE([]string{"ISS (ZARYA)", issLine1, issLine2})
	if err != nil {
		t.Fatalf("ParseTLE() error = %v", err)
	}
	if got, want := named.String(), "ISS (ZARYA)\n"+issLine1+"\n"+issLine2; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	bare, err := ParseTLE([]string{issLine1, issLine2})
	if err != nil {
		t.Fatalf("ParseTLE() error = %v", err)
	}
	if got, want := bare.String(), issLine1+"\n"+issLine2; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
