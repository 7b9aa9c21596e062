package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/art-injener/satkin/internal/tracker"
)

var (
	ErrNotInCatalog  = errors.New("object not in catalog")
	ErrAmbiguousName = errors.New("name matches several objects")
	ErrEmptyRef      = errors.New("empty catalog reference")
	ErrLoadFailed    = errors.New("failed to load TLE group")
	ErrRefreshActive = errors.New("catalog refresh already running")
	ErrBadInterval   = errors.New("refresh interval must be positive")
)

// Fetcher — источник TLE по сети.
type Fetcher interface {
	FetchByNoradID(ctx context.Context, noradID int) (*tracker.TLE, error)
	FetchGroup(ctx context.Context, group string) ([]*tracker.TLE, error)
}

// Ref ссылается на объект каталога: по NORAD ID, если он задан, иначе по имени.
type Ref struct {
	NoradID int
	Name    string
}

func (r Ref) String() string {
	if r.NoradID > 0 {
		return fmt.Sprintf("norad:%d", r.NoradID)
	}
	return fmt.Sprintf("name:%q", r.Name)
}

// Catalog — in-memory хранилище TLE с индексами по группам и именам.
type Catalog struct {
	mu sync.RWMutex

	byID    map[int]*tracker.TLE
	byGroup map[string][]int
	byName  map[string][]int
	fetched map[int]struct{} // догруженные поштучно через Resolve

	fetcher Fetcher
	logger  *slog.Logger

	runMu  sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// RefreshConfig — плановое обновление каталога.
type RefreshConfig struct {
	Interval time.Duration
	Groups   []string
	// OnRefresh вызывается после каждого обновления, в том числе частичного.
	OnRefresh func(ctx context.Context)
}

// Option настраивает Catalog.
type Option func(*Catalog)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) { c.logger = logger }
}

// WithFetcher задаёт сетевой источник для LoadGroup и Resolve.
func WithFetcher(f Fetcher) Option {
	return func(c *Catalog) { c.fetcher = f }
}

// New создаёт пустой каталог.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		byID:    make(map[int]*tracker.TLE),
		byGroup: make(map[string][]int),
		byName:  make(map[string][]int),
		fetched: make(map[int]struct{}),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Add добавляет TLE или заменяет запись с тем же NORAD ID.
func (c *Catalog) Add(tle *tracker.TLE, group string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.addLocked(tle, group)
}

// Get возвращает TLE по NORAD ID.
func (c *Catalog) Get(noradID int) (*tracker.TLE, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tle, ok := c.byID[noradID]
	return tle, ok
}

// ByName ищет TLE по имени без учёта регистра. Точное совпадение
// имеет приоритет, иначе возвращаются все частичные совпадения по NORAD ID.
func (c *Catalog) ByName(name string) []*tracker.TLE {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil
	}

	if ids, ok := c.byName[key]; ok {
		return c.collectLocked(ids)
	}

	var ids []int
	for id, tle := range c.byID {
		if strings.Contains(strings.ToLower(tle.Name), key) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	return c.collectLocked(ids)
}

// ByGroup возвращает TLE группы.
func (c *Catalog) ByGroup(group string) []*tracker.TLE {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.collectLocked(c.byGroup[strings.ToLower(group)])
}

// Lookup разрешает ссылку только по содержимому каталога.
func (c *Catalog) Lookup(ref Ref) (*tracker.TLE, error) {
	switch {
	case ref.NoradID > 0:
		if tle, ok := c.Get(ref.NoradID); ok {
			return tle, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotInCatalog, ref)
	case strings.TrimSpace(ref.Name) != "":
		found := c.ByName(ref.Name)
		switch len(found) {
		case 0:
			return nil, fmt.Errorf("%w: %s", ErrNotInCatalog, ref)
		case 1:
			return found[0], nil
		default:
			return nil, fmt.Errorf("%w: %s (%d matches)", ErrAmbiguousName, ref, len(found))
		}
	default:
		return nil, ErrEmptyRef
	}
}

// Resolve разрешает ссылку; объект, отсутствующий в каталоге и заданный
// NORAD ID, догружается через Fetcher.
func (c *Catalog) Resolve(ctx context.Context, ref Ref) (*tracker.TLE, error) {
	tle, err := c.Lookup(ref)
	if err == nil || !errors.Is(err, ErrNotInCatalog) || ref.NoradID <= 0 || c.fetcher == nil {
		return tle, err
	}

	tle, err = c.fetcher.FetchByNoradID(ctx, ref.NoradID)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", ref, err)
	}
	c.mu.Lock()
	c.addLocked(tle, "")
	c.fetched[tle.NoradID] = struct{}{}
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "catalog entry fetched", "norad_id", tle.NoradID, "name", tle.Name)
	return tle, nil
}

// LoadFile загружает TLE из файла каталога в группу group.
func (c *Catalog) LoadFile(path, group string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading TLE file: %w", err)
	}

	tles, err := tracker.ParseTLEBatch(string(data))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	c.addAll(tles, group)
	c.logger.Info("loaded TLE file", "path", path, "count", len(tles))

	return len(tles), nil
}

// LoadGroup загружает группу Celestrak.
func (c *Catalog) LoadGroup(ctx context.Context, group string) error {
	if c.fetcher == nil {
		return fmt.Errorf("%w: %s (no fetcher)", ErrLoadFailed, group)
	}

	tles, err := c.fetcher.FetchGroup(ctx, group)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLoadFailed, group, err)
	}

	c.addAll(tles, group)
	c.logger.InfoContext(ctx, "loaded TLE group", "group", group, "count", len(tles))

	return nil
}

// LoadGroups загружает несколько групп; ошибка одной группы не прерывает остальные.
func (c *Catalog) LoadGroups(ctx context.Context, groups []string) error {
	var errs []error
	for _, g := range groups {
		if err := c.LoadGroup(ctx, g); err != nil {
			c.logger.WarnContext(ctx, "failed to load group", "group", g, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Refresh перезагружает группы и заново запрашивает объекты, догруженные через Resolve.
// Ошибка одного источника не прерывает остальные.
func (c *Catalog) Refresh(ctx context.Context, groups []string) error {
	errs := []error{c.LoadGroups(ctx, groups)}

	c.mu.RLock()
	ids := slices.Sorted(maps.Keys(c.fetched))
	c.mu.RUnlock()

	if len(ids) > 0 && c.fetcher != nil {
		for _, id := range ids {
			tle, err := c.fetcher.FetchByNoradID(ctx, id)
			if err != nil {
				c.logger.WarnContext(ctx, "failed to refresh entry", "norad_id", id, "error", err)
				errs = append(errs, fmt.Errorf("refreshing %d: %w", id, err))
				continue
			}
			c.Add(tle, "")
		}
	}

	return errors.Join(errs...)
}

// Start запускает фоновое обновление каталога с интервалом cfg.Interval.
// Первое обновление выполняется через один интервал.
func (c *Catalog) Start(ctx context.Context, cfg RefreshConfig) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrBadInterval, cfg.Interval)
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.stopCh != nil {
		return ErrRefreshActive
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	c.logger.InfoContext(ctx, "starting catalog refresh",
		"groups", cfg.Groups,
		"interval", cfg.Interval,
	)

	go c.runUpdater(ctx, cfg, c.stopCh, c.doneCh)

	return nil
}

// Stop останавливает фоновое обновление и ждёт его завершения.
// Вызов без Start ничего не делает.
func (c *Catalog) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
	c.stopCh, c.doneCh = nil, nil

	c.logger.Info("catalog refresh stopped")
}

func (c *Catalog) runUpdater(ctx context.Context, cfg RefreshConfig, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "catalog refresh stopped by context")
			return
		case <-stop:
			return
		case <-ticker.C:
			c.logger.InfoContext(ctx, "starting scheduled catalog refresh")
			if err := c.Refresh(ctx, cfg.Groups); err != nil {
				c.logger.WarnContext(ctx, "scheduled catalog refresh had errors", "error", err)
			}
			if cfg.OnRefresh != nil {
				cfg.OnRefresh(ctx)
			}
		}
	}
}

// Stale возвращает записи, эпоха которых старше maxAge на момент now.
func (c *Catalog) Stale(now time.Time, maxAge time.Duration) []*tracker.TLE {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*tracker.TLE
	for _, tle := range c.byID {
		if now.Sub(tle.Epoch) > maxAge {
			out = append(out, tle)
		}
	}
	slices.SortFunc(out, func(a, b *tracker.TLE) int { return cmp.Compare(a.NoradID, b.NoradID) })

	return out
}

// Entries возвращает все записи по возрастанию NORAD ID.
func (c *Catalog) Entries() []*tracker.TLE {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.collectLocked(slices.Sorted(maps.Keys(c.byID)))
}

func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.byID)
}

// GroupNames возвращает загруженные группы по алфавиту.
func (c *Catalog) GroupNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Sorted(maps.Keys(c.byGroup))
}

func (c *Catalog) addAll(tles []*tracker.TLE, group string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tle := range tles {
		c.addLocked(tle, group)
	}
}

func (c *Catalog) addLocked(tle *tracker.TLE, group string) {
	if tle == nil {
		return
	}

	if old, ok := c.byID[tle.NoradID]; ok && old.Name != "" && old.Name != tle.Name {
		key := strings.ToLower(old.Name)
		c.byName[key] = slices.DeleteFunc(c.byName[key], func(id int) bool { return id == tle.NoradID })
		if len(c.byName[key]) == 0 {
			delete(c.byName, key)
		}
	}
	c.byID[tle.NoradID] = tle

	if group != "" {
		addToIndex(c.byGroup, strings.ToLower(group), tle.NoradID)
	}
	if tle.Name != "" {
		addToIndex(c.byName, strings.ToLower(tle.Name), tle.NoradID)
	}
}

func (c *Catalog) collectLocked(ids []int) []*tracker.TLE {
	out := make([]*tracker.TLE, 0, len(ids))
	for _, id := range ids {
		if tle, ok := c.byID[id]; ok {
			out = append(out, tle)
		}
	}
	return out
}

func addToIndex(index map[string][]int, key string, id int) {
	if slices.Contains(index[key], id) {
		return
	}
	index[key] = append(index[key], id)
}
