package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/art-injener/satkin/internal/tracker"
)

const (
	issLine1 = "1 25544U 98067A   25138.37048074  .00007749  00000+0  14567-3 0  9994"
	issLine2 = "2 25544  51.6369  94.7823 0002558 120.7586  15.7840 15.49587957510533"
)

// withChecksum дописывает контрольную сумму к 68 символам строки TLE.
func withChecksum(line68 string) string {
	sum := 0
	for _, r := range line68 {
		switch {
		case r >= '0' && r <= '9':
			sum += int(r - '0')
		case r == '-':
			sum++
		}
	}
	return line68 + strconv.Itoa(sum%10)
}

var (
	meteorLine1 = withChecksum("1 40069U 14037A   24001.50000000  .00000123  00000-0  12345-4 0  999")
	meteorLine2 = withChecksum("2 40069  98.5200  45.6789 0001234 123.4567 236.7890 14.2098765432109")

	testTLEData = "ISS (ZARYA)\n" + issLine1 + "\n" + issLine2 + "\n" +
		"METEOR-M2\n" + meteorLine1 + "\n" + meteorLine2 + "\n"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parse(t *testing.T, name, l1, l2 string) *tracker.TLE {
	t.Helper()

	tle, err := tracker.ParseTLESet(name, l1, l2)
	require.NoError(t, err)
	return tle
}

type fakeFetcher struct {
	groups map[string][]*tracker.TLE
	byID   map[int]*tracker.TLE
	calls  atomic.Int32
}

func (f *fakeFetcher) FetchByNoradID(_ context.Context, id int) (*tracker.TLE, error) {
	f.calls.Add(1)
	if tle, ok := f.byID[id]; ok {
		return tle, nil
	}
	return nil, ErrNotFound
}

func (f *fakeFetcher) FetchGroup(_ context.Context, group string) ([]*tracker.TLE, error) {
	f.calls.Add(1)
	if tles, ok := f.groups[group]; ok {
		return tles, nil
	}
	return nil, ErrServer
}

func TestCatalog_AddGet(t *testing.T) {
	t.Parallel()

	c := New()
	iss := parse(t, "ISS (ZARYA)", issLine1, issLine2)
	c.Add(iss, "Stations")

	got, ok := c.Get(25544)
	require.True(t, ok)
	assert.Same(t, iss, got)
	assert.Equal(t, 1, c.Count())
	assert.Equal(t, []string{"stations"}, c.GroupNames())
	assert.Len(t, c.ByGroup("STATIONS"), 1)

	_, ok = c.Get(1)
	assert.False(t, ok)

	c.Add(nil, "x")
	assert.Equal(t, 1, c.Count())
}

func TestCatalog_ByName(t *testing.T) {
	t.Parallel()

	c := New()
	c.Add(parse(t, "ISS (ZARYA)", issLine1, issLine2), "")
	c.Add(parse(t, "METEOR-M2", meteorLine1, meteorLine2), "")

	assert.Len(t, c.ByName("iss (zarya)"), 1)
	assert.Len(t, c.ByName("meteor"), 1)
	assert.Len(t, c.ByName("R"), 2)
	assert.Empty(t, c.ByName("  "))
	assert.Empty(t, c.ByName("hubble"))

	// Порядок частичных совпадений — по NORAD ID.
	found := c.ByName("R")
	assert.Equal(t, 25544, found[0].NoradID)
	assert.Equal(t, 40069, found[1].NoradID)
}

func TestCatalog_RenameUpdatesIndex(t *testing.T) {
	t.Parallel()

	c := New()
	c.Add(parse(t, "OLD NAME", issLine1, issLine2), "")
	c.Add(parse(t, "ISS", issLine1, issLine2), "")

	assert.Empty(t, c.ByName("old name"))
	assert.Len(t, c.ByName("iss"), 1)
	assert.Equal(t, 1, c.Count())
}

func TestCatalog_Lookup(t *testing.T) {
	t.Parallel()

	c := New()
	c.Add(parse(t, "ISS (ZARYA)", issLine1, issLine2), "")
	c.Add(parse(t, "METEOR-M2", meteorLine1, meteorLine2), "")

	tests := []struct {
		name    string
		ref     Ref
		wantID  int
		wantErr error
	}{
		{"by id", Ref{NoradID: 40069}, 40069, nil},
		{"id wins over name", Ref{NoradID: 25544, Name: "METEOR-M2"}, 25544, nil},
		{"by exact name", Ref{Name: "ISS (ZARYA)"}, 25544, nil},
		{"by partial name", Ref{Name: "meteor"}, 40069, nil},
		{"missing id", Ref{NoradID: 1}, 0, ErrNotInCatalog},
		{"missing name", Ref{Name: "hubble"}, 0, ErrNotInCatalog},
		{"ambiguous", Ref{Name: "r"}, 0, ErrAmbiguousName},
		{"empty", Ref{}, 0, ErrEmptyRef},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tle, err := c.Lookup(tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, tle.NoradID)
		})
	}
}

func TestCatalog_Resolve(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{byID: map[int]*tracker.TLE{25544: parse(t, "ISS", issLine1, issLine2)}}
	c := New(WithFetcher(f))

	tle, err := c.Resolve(context.Background(), Ref{NoradID: 25544})
	require.NoError(t, err)
	assert.Equal(t, "ISS", tle.Name)
	assert.Equal(t, 1, c.Count())

	// Повторное разрешение идёт из каталога.
	_, err = c.Resolve(context.Background(), Ref{NoradID: 25544})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())

	_, err = c.Resolve(context.Background(), Ref{NoradID: 99999})
	assert.ErrorIs(t, err, ErrNotFound)

	// По имени сеть не используется.
	_, err = c.Resolve(context.Background(), Ref{Name: "hubble"})
	assert.ErrorIs(t, err, ErrNotInCatalog)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCatalog_Refresh(t *testing.T) {
	t.Parallel()

	issOld := parse(t, "ISS (ZARYA)", issLine1, issLine2)
	issNewLine1 := withChecksum(strings.Replace(issLine1[:68], "25138.37048074", "25139.37048074", 1))
	issNew := parse(t, "ISS (ZARYA)", issNewLine1, issLine2)
	meteor := parse(t, "METEOR-M2", meteorLine1, meteorLine2)

	f := &fakeFetcher{
		groups: map[string][]*tracker.TLE{"stations": {issOld}},
		byID:   map[int]*tracker.TLE{40069: meteor},
	}
	c := New(WithFetcher(f), WithLogger(quietLogger()))
	ctx := context.Background()

	require.NoError(t, c.LoadGroups(ctx, []string{"stations"}))
	_, err := c.Resolve(ctx, Ref{NoradID: 40069})
	require.NoError(t, err)

	f.groups["stations"] = []*tracker.TLE{issNew}
	before := f.calls.Load()

	require.NoError(t, c.Refresh(ctx, []string{"stations"}))

	got, ok := c.Get(25544)
	require.True(t, ok)
	assert.True(t, got.Epoch.After(issOld.Epoch), "group entry must be replaced")
	// Группа и догруженный поштучно объект.
	assert.Equal(t, before+2, f.calls.Load())

	// Объект пропал из источника: ошибка, остальное обновлено.
	delete(f.byID, 40069)
	err = c.Refresh(ctx, []string{"stations"})
	require.ErrorIs(t, err, ErrNotFound)
	_, ok = c.Get(40069)
	assert.True(t, ok, "failed refresh keeps the previous entry")
}

func TestCatalog_StartStop(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{groups: map[string][]*tracker.TLE{
		"stations": {parse(t, "ISS (ZARYA)", issLine1, issLine2)},
	}}
	c := New(WithFetcher(f), WithLogger(quietLogger()))

	// Без Start ничего не происходит.
	c.Stop()

	err := c.Start(context.Background(), RefreshConfig{})
	require.ErrorIs(t, err, ErrBadInterval)

	refreshed := make(chan struct{}, 16)
	cfg := RefreshConfig{
		Interval: 5 * time.Millisecond,
		Groups:   []string{"stations"},
		OnRefresh: func(context.Context) {
			select {
			case refreshed <- struct{}{}:
			default:
			}
		},
	}

	require.NoError(t, c.Start(context.Background(), cfg))
	require.ErrorIs(t, c.Start(context.Background(), cfg), ErrRefreshActive)

	select {
	case <-refreshed:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not run")
	}
	c.Stop()

	assert.Equal(t, 1, c.Count())
	assert.Equal(t, []string{"stations"}, c.GroupNames())

	// После Stop можно запустить снова.
	require.NoError(t, c.Start(context.Background(), cfg))
	c.Stop()
}

func TestCatalog_StartStopsWithContext(t *testing.T) {
	t.Parallel()

	c := New(WithFetcher(&fakeFetcher{}), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx, RefreshConfig{Interval: time.Hour}))
	cancel()

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked after context cancellation")
	}
}

func TestCatalog_LoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "local.tle")
	require.NoError(t, os.WriteFile(path, []byte(testTLEData), 0o600))

	c := New()
	n, err := c.LoadFile(path, "local")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, c.ByGroup("local"), 2)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 25544, entries[0].NoradID)
	assert.Equal(t, "METEOR-M2", entries[1].Name)

	_, err = c.LoadFile(filepath.Join(t.TempDir(), "missing.tle"), "")
	assert.Error(t, err)

	broken := filepath.Join(t.TempDir(), "broken.tle")
	require.NoError(t, os.WriteFile(broken, []byte(issLine1+"\n"+strings.Replace(issLine2, "51.6369", "51.6368", 1)), 0o600))
	_, err = c.LoadFile(broken, "")
	assert.ErrorIs(t, err, tracker.ErrInvalidChecksum)
}

func TestCatalog_LoadGroups(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{groups: map[string][]*tracker.TLE{
		"stations": {parse(t, "ISS (ZARYA)", issLine1, issLine2)},
		"weather":  {parse(t, "METEOR-M2", meteorLine1, meteorLine2)},
	}}
	c := New(WithFetcher(f))

	err := c.LoadGroups(context.Background(), []string{"stations", "starlink", "weather"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoadFailed)
	assert.ErrorIs(t, err, ErrServer)

	assert.Equal(t, 2, c.Count())
	assert.Equal(t, []string{"stations", "weather"}, c.GroupNames())

	assert.ErrorIs(t, New().LoadGroup(context.Background(), "stations"), ErrLoadFailed)
}

func TestCatalog_Stale(t *testing.T) {
	t.Parallel()

	c := New()
	c.Add(parse(t, "ISS (ZARYA)", issLine1, issLine2), "")
	c.Add(parse(t, "METEOR-M2", meteorLine1, meteorLine2), "")

	now := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	stale := c.Stale(now, 7*24*time.Hour)
	require.Len(t, stale, 1)
	assert.Equal(t, 40069, stale[0].NoradID)

	assert.Len(t, c.Stale(now, time.Hour), 2)
}

func TestClient_FetchByNoradID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("CATNR") != "25544" || r.URL.Query().Get("FORMAT") != "TLE" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, userAgent, r.UserAgent())
		_, _ = w.Write([]byte("ISS (ZARYA)\n" + issLine1 + "\n" + issLine2 + "\n"))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithRateLimit(0))

	tle, err := c.FetchByNoradID(context.Background(), 25544)
	require.NoError(t, err)
	assert.Equal(t, 25544, tle.NoradID)
	assert.Equal(t, "ISS (ZARYA)", tle.Name)

	_, err = c.FetchByNoradID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_NoDataReply(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(noDataReply))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithRateLimit(0), WithBackoff(time.Millisecond))

	_, err := c.FetchByNoradID(context.Background(), 99999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), hits.Load(), "not found must not be retried")
}

func TestClient_FetchGroup(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("GROUP") != "stations" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(testTLEData))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithRateLimit(0))

	tles, err := c.FetchGroup(context.Background(), "stations")
	require.NoError(t, err)
	assert.Len(t, tles, 2)

	_, err = c.FetchGroup(context.Background(), "no-such-group")
	assert.ErrorIs(t, err, ErrUnknownGroup)

}

func TestClient_Retry(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch hits.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(issLine1 + "\n" + issLine2))
		}
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithRateLimit(0), WithBackoff(time.Millisecond))

	tle, err := c.FetchByNoradID(context.Background(), 25544)
	require.NoError(t, err)
	assert.Equal(t, 25544, tle.NoradID)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_RetriesExhausted(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithRateLimit(0), WithMaxRetries(2), WithBackoff(time.Millisecond))

	_, err := c.FetchGroup(context.Background(), "stations")
	assert.ErrorIs(t, err, ErrServer)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(issLine1 + "\n" + issLine2))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithRateLimit(time.Hour))

	_, err := c.FetchByNoradID(context.Background(), 25544)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.FetchByNoradID(ctx, 25544)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGroups(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValidGroup("stations"))
	assert.True(t, IsValidGroup("iridium-NEXT"))
	assert.False(t, IsValidGroup("Stations"))
	assert.Contains(t, Groups(), "weather")

	g := Groups()
	g[0] = "mutated"
	assert.NotEqual(t, "mutated", Groups()[0])
}
