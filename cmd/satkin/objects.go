package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/art-injener/satkin/internal/catalog"
	"github.com/art-injener/satkin/internal/config"
	"github.com/art-injener/satkin/internal/kinematics"
	"github.com/art-injener/satkin/internal/orbit"
	"github.com/art-injener/satkin/internal/tracker"
)

// scenarioObject — объект сценария вместе с его платформой.
type scenarioObject struct {
	name     string
	sat      *kinematics.Satellite
	platform *kinematics.MemoryPlatform

	// Для объектов из каталога: ссылка и эпоха загруженного набора.
	ref   *catalog.Ref
	epoch time.Time
}

// buildObject создаёт кинематику объекта и загружает в неё орбиту из источника,
// указанного в конфигурации.
func buildObject(ctx context.Context, oc config.ObjectConfig, clock kinematics.Clock,
	cat *catalog.Catalog, logger *slog.Logger,
) (*scenarioObject, error) {
	src, err := oc.Source()
	if err != nil {
		return nil, err
	}

	objLogger := logger.With("object", oc.Name)
	platform := kinematics.NewMemoryPlatform(exportLogger(objLogger))

	opts := []kinematics.SatelliteOption{kinematics.WithLogger(objLogger)}
	if a := oc.Anchor; a != nil {
		opts = append(opts, kinematics.WithAnchor(orbit.NewAnchorModel(a.Lat, a.Lon, a.AltM)))
	}
	if k := oc.Keplerian; k != nil {
		opts = append(opts, kinematics.WithEphemerisOptions(
			orbit.WithInclination(k.InclinationDeg),
			orbit.WithRAAN(k.RAANDeg),
			orbit.WithArgOfPerigee(k.ArgPerigeeDeg),
			orbit.WithMeanAnomaly(k.MeanAnomalyDeg),
		))
	}

	sat := kinematics.NewSatellite(platform, clock, opts...)
	obj := &scenarioObject{name: oc.Name, sat: sat, platform: platform}

	switch src {
	case config.SourceTLE:
		err = sat.LoadTleData(oc.TLE)
	case config.SourceTLEFile:
		var tle *tracker.TLE
		if tle, err = tleFromFile(oc.TLEFile, oc.TLEName, objLogger); err == nil {
			err = sat.LoadTleData(tleLines(tle))
		}
	case config.SourceCatalog:
		var tle *tracker.TLE
		ref := catalog.Ref{NoradID: oc.Catalog.NoradID, Name: oc.Catalog.Name}
		if tle, err = cat.Resolve(ctx, ref); err == nil {
			err = sat.LoadTleData(tleLines(tle))
			obj.ref, obj.epoch = &ref, tle.Epoch
		}
	case config.SourceKeplerian:
		k := oc.Keplerian
		err = sat.LoadOrbitalElements(float32(k.Period), k.ApogeeKm, k.PerigeeKm)
	case config.SourceNone:
	}
	if err != nil {
		return nil, fmt.Errorf("object %q (%s): %w", oc.Name, src, err)
	}

	objLogger.Info("object ready",
		"source", src.String(),
		"apogee_m", sat.GetApogee(),
		"perigee_m", sat.GetPerigee(),
	)

	return obj, nil
}

// reloadCatalogObjects перезагружает орбиты объектов из каталога,
// если в каталоге появился набор с другой эпохой.
func reloadCatalogObjects(ctx context.Context, objects map[string]*scenarioObject,
	cat *catalog.Catalog, logger *slog.Logger,
) int {
	reloaded := 0
	for _, obj := range objects {
		if obj.ref == nil {
			continue
		}

		tle, err := cat.Lookup(*obj.ref)
		if err != nil {
			logger.WarnContext(ctx, "catalog object missing after refresh",
				"object", obj.name, "ref", obj.ref.String(), "error", err)
			continue
		}
		if tle.Epoch.Equal(obj.epoch) {
			continue
		}

		if err := obj.sat.LoadTleData(tleLines(tle)); err != nil {
			logger.WarnContext(ctx, "failed to reload element set",
				"object", obj.name, "error", err)
			continue
		}

		logger.InfoContext(ctx, "element set reloaded",
			"object", obj.name,
			"old_epoch", obj.epoch,
			"new_epoch", tle.Epoch,
		)
		obj.epoch = tle.Epoch
		reloaded++
	}

	return reloaded
}

// tleFromFile берёт набор из файла: по имени, либо единственный набор в файле.
func tleFromFile(path, name string, logger *slog.Logger) (*tracker.TLE, error) {
	local := catalog.New(catalog.WithLogger(logger))
	if _, err := local.LoadFile(path, ""); err != nil {
		return nil, err
	}

	if name != "" {
		return local.Lookup(catalog.Ref{Name: name})
	}

	entries := local.Entries()
	if len(entries) != 1 {
		return nil, fmt.Errorf("%s holds %d sets, tle_name is required", path, len(entries))
	}
	return entries[0], nil
}

func tleLines(tle *tracker.TLE) []string {
	if tle.Name == "" {
		return []string{tle.Line1, tle.Line2}
	}
	return []string{tle.Name, tle.Line1, tle.Line2}
}

func exportLogger(logger *slog.Logger) kinematics.ExportFunc {
	return func(s kinematics.State, forceUpdate bool) {
		logger.Debug("position exported",
			"lat", s.Latitude,
			"lon", s.Longitude,
			"alt_m", s.AltitudeMeters,
			"heading", s.Heading,
			"speed_kn", s.SpeedKnots,
			"force", forceUpdate,
		)
	}
}
