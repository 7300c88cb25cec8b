package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/xrsession/internal/backends"
	"github.com/banshee-data/xrsession/internal/backends/fiducial"
	"github.com/banshee-data/xrsession/internal/backends/geolocation"
	"github.com/banshee-data/xrsession/internal/backends/immersive"
	"github.com/banshee-data/xrsession/internal/config"
	"github.com/banshee-data/xrsession/internal/manifest"
	"github.com/banshee-data/xrsession/internal/xr"
	"github.com/banshee-data/xrsession/internal/xr/session"
)

// startPlan is the resolved set of sessions to start: the config file's
// defaults, overridden per kind by manifest session blocks.
type startPlan struct {
	kinds    []xr.Kind
	cfg      *config.SessionConfig
	manifest *manifest.Manifest
}

func buildPlan(cfg *config.SessionConfig, manifestPath string) (*startPlan, error) {
	p := &startPlan{kinds: cfg.GetSessions(), cfg: cfg}
	if manifestPath == "" {
		return p, nil
	}
	m, err := manifest.Load(nil, manifestPath)
	if err != nil {
		return nil, err
	}
	p.manifest = m
	if kinds := m.Kinds(); len(kinds) > 0 {
		p.kinds = kinds
	}
	return p, nil
}

// options builds the backend options for kind k.
func (p *startPlan) options(k xr.Kind, receiver geolocation.LineSource) (backends.Options, error) {
	var block *manifest.Session
	if p.manifest != nil {
		block, _ = p.manifest.Session(k)
	}

	switch k {
	case xr.KindGeolocation:
		o := geolocation.Options{
			MinDistance: p.cfg.GetGPSMinDistanceM(),
			MinAccuracy: p.cfg.GetGPSMinAccuracyM(),
			Receiver:    receiver,
		}
		if lat, lon, ok := p.cfg.GetFakeFix(); ok {
			o.FakeLat, o.FakeLon = &lat, &lon
		}
		if block != nil && block.FakeLat != nil {
			o.FakeLat, o.FakeLon = block.FakeLat, block.FakeLon
		}
		return backends.GeolocationOptions{Options: o}, nil

	case xr.KindFiducial:
		frames, err := loadReplay(p.cfg.GetReplayPath())
		if err != nil {
			return nil, err
		}
		return backends.FiducialOptions{Options: fiducial.Options{
			Detector:    fiducial.NewReplayDetector(frames),
			Params:      p.cfg.GetFiducial(),
			InitTimeout: p.cfg.GetInitTimeout(),
		}}, nil

	case xr.KindImmersive:
		mode := p.cfg.GetImmersiveMode()
		if block != nil && block.Mode != nil {
			m, err := immersive.ParseMode(*block.Mode)
			if err != nil {
				return nil, err
			}
			mode = m
		}
		return backends.ImmersiveOptions{Options: immersive.Options{
			Mode: mode,
			Runtime: &immersive.NullRuntime{Modes: []immersive.SessionMode{
				immersive.SessionImmersiveAR, immersive.SessionImmersiveVR, immersive.SessionInline,
			}},
		}}, nil
	}
	return nil, fmt.Errorf("no options for kind %s", k)
}

func loadReplay(path string) ([][]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fiducial replay: %w", err)
	}
	defer f.Close()
	return fiducial.ParseReplay(f)
}

// register starts every planned session, then places the manifest's anchors
// on the backends that came up. A backend failing to start is logged and
// skipped; the runtime carries on with the rest.
func (p *startPlan) register(ctx context.Context, reg *session.Registry, res xr.Resources, receiver geolocation.LineSource) error {
	var started int
	for _, k := range p.kinds {
		opts, err := p.options(k, receiver)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		b, err := backends.New(opts)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		log.Printf("starting %s", backends.Describe(opts))
		if err := reg.Register(ctx, b, res, ""); err != nil {
			var incompatible *xr.IncompatibleSessionError
			if errors.As(err, &incompatible) {
				log.Printf("skipping %s: %v", k, err)
				continue
			}
			log.Printf("failed to start %s: %v", k, err)
			continue
		}
		started++
	}
	if started == 0 && len(p.kinds) > 0 {
		return errors.New("no session could be started")
	}
	return p.applyAnchors(reg)
}

func (p *startPlan) applyAnchors(reg *session.Registry) error {
	if p.manifest == nil {
		return nil
	}
	if b, ok := reg.Backend(xr.KindGeolocation); ok {
		ids, err := p.manifest.ApplyGeo(b.(*geolocation.Backend))
		if err != nil {
			return err
		}
		log.Printf("placed %d geolocation anchors", len(ids))
	} else if len(p.manifest.GeoAnchors)+len(p.manifest.GeoLines) > 0 {
		log.Printf("manifest declares geolocation anchors but no geolocation session is active")
	}
	if b, ok := reg.Backend(xr.KindFiducial); ok {
		ids, err := p.manifest.ApplyMarkers(b.(*fiducial.Backend))
		if err != nil {
			return err
		}
		log.Printf("tracking %d markers", len(ids))
	} else if len(p.manifest.Markers) > 0 {
		log.Printf("manifest declares markers but no fiducial session is active")
	}
	return nil
}
