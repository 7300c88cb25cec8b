// Package manifest loads scene manifests: HCL files declaring which sessions
// to start and the anchors to place once each session resolves.
//
//	variable "home_lat" { default = 51.05 }
//
//	session "geolocation" {
//	  fake_lat = var.home_lat
//	  fake_lon = -0.72
//	}
//
//	geo_anchor "cafe" {
//	  lat       = 51.0501
//	  lon       = -0.7202
//	  billboard = true
//	}
//
//	geo_line "route" {
//	  points = [[51.05, -0.72], [51.051, -0.721]]
//	}
//
//	marker "hiro" {
//	  pattern = "hiro.patt"
//	}
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/banshee-data/xrsession/internal/backends/immersive"
	"github.com/banshee-data/xrsession/internal/xr"
)

// Manifest is the decoded content of one or more manifest files.
type Manifest struct {
	Sessions   []*Session
	GeoAnchors []*GeoAnchor
	GeoLines   []*GeoLine
	Markers    []*Marker
}

// Session requests a backend.
type Session struct {
	Kind    string   `hcl:",label"`
	Mode    *string  `hcl:"mode,optional"`
	FakeLat *float64 `hcl:"fake_lat,optional"`
	FakeLon *float64 `hcl:"fake_lon,optional"`
}

// GeoAnchor is a point anchor.
type GeoAnchor struct {
	Name      string   `hcl:",label"`
	Lat       float64  `hcl:"lat"`
	Lon       float64  `hcl:"lon"`
	Alt       *float64 `hcl:"alt,optional"`
	Billboard *bool    `hcl:"billboard,optional"`
}

// GeoLine is a polyline, or a polygon when Closed.
type GeoLine struct {
	Name   string      `hcl:",label"`
	Points [][]float64 `hcl:"points"`
	Closed *bool       `hcl:"closed,optional"`
}

// Marker is a fiducial anchor.
type Marker struct {
	Name    string  `hcl:",label"`
	Pattern *string `hcl:"pattern,optional"`
	Barcode *int    `hcl:"barcode,optional"`
}

type variableBlock struct {
	Name    string    `hcl:",label"`
	Default cty.Value `hcl:"default,optional"`
}

// variablesRoot is decoded first, without an evaluation context, to collect
// variable defaults.
type variablesRoot struct {
	Variables []*variableBlock `hcl:"variable,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

type contentRoot struct {
	Sessions   []*Session   `hcl:"session,block"`
	GeoAnchors []*GeoAnchor `hcl:"geo_anchor,block"`
	GeoLines   []*GeoLine   `hcl:"geo_line,block"`
	Markers    []*Marker    `hcl:"marker,block"`
}

// Load parses every .hcl file under paths (files or directories) into one
// Manifest. overrides replace variable defaults by name.
func Load(overrides map[string]cty.Value, paths ...string) (*Manifest, error) {
	files, err := findHCLFiles(paths)
	if err != nil {
		return nil, err
	}

	parser := hclparse.NewParser()
	bodies := make([]hcl.Body, 0, len(files))
	vars := make(map[string]cty.Value)
	for _, file := range files {
		f, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		var root variablesRoot
		if diags := gohcl.DecodeBody(f.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode variables in %s: %w", file, diags)
		}
		for _, v := range root.Variables {
			if _, dup := vars[v.Name]; dup {
				return nil, fmt.Errorf("variable %q declared twice", v.Name)
			}
			vars[v.Name] = v.Default
		}
		bodies = append(bodies, root.Remain)
	}

	for name, val := range overrides {
		if _, ok := vars[name]; !ok {
			return nil, fmt.Errorf("override for undeclared variable %q", name)
		}
		vars[name] = val
	}
	for name, val := range vars {
		if val.IsNull() {
			return nil, fmt.Errorf("variable %q has no default and no override", name)
		}
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"var": cty.ObjectVal(vars)},
	}

	m := &Manifest{}
	for i, body := range bodies {
		var root contentRoot
		if diags := gohcl.DecodeBody(body, evalCtx, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", files[i], diags)
		}
		m.Sessions = append(m.Sessions, root.Sessions...)
		m.GeoAnchors = append(m.GeoAnchors, root.GeoAnchors...)
		m.GeoLines = append(m.GeoLines, root.GeoLines...)
		m.Markers = append(m.Markers, root.Markers...)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// findHCLFiles walks paths and returns the .hcl files found, sorted, without
// duplicates. A path that does not exist is an error.
func findHCLFiles(paths []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			if filepath.Ext(path) != ".hcl" {
				return nil, fmt.Errorf("manifest %s: expected .hcl extension", path)
			}
			add(path)
			continue
		}
		err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(p) == ".hcl" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("no .hcl files found in %v", paths)
	}
	return out, nil
}

// Validate checks kinds, coordinate ranges and name uniqueness. Anchor names
// share one namespace across block types.
func (m *Manifest) Validate() error {
	kinds := make(map[xr.Kind]bool)
	for _, s := range m.Sessions {
		k, err := xr.ParseKind(s.Kind)
		if err != nil {
			return fmt.Errorf("session %q: %w", s.Kind, err)
		}
		if kinds[k] {
			return fmt.Errorf("session %q declared twice", s.Kind)
		}
		kinds[k] = true
		if (s.FakeLat == nil) != (s.FakeLon == nil) {
			return fmt.Errorf("session %q: fake_lat and fake_lon must be set together", s.Kind)
		}
		if s.Mode != nil {
			if k != xr.KindImmersive {
				return fmt.Errorf("session %q: mode applies to immersive sessions only", s.Kind)
			}
			if _, err := immersive.ParseMode(*s.Mode); err != nil {
				return fmt.Errorf("session %q: %w", s.Kind, err)
			}
		}
	}

	names := make(map[string]string)
	claim := func(block, name string) error {
		if prev, ok := names[name]; ok {
			return fmt.Errorf("%s %q: name already used by a %s block", block, name, prev)
		}
		names[name] = block
		return nil
	}
	for _, a := range m.GeoAnchors {
		if err := claim("geo_anchor", a.Name); err != nil {
			return err
		}
		if err := checkLatLon(a.Lat, a.Lon); err != nil {
			return fmt.Errorf("geo_anchor %q: %w", a.Name, err)
		}
	}
	for _, l := range m.GeoLines {
		if err := claim("geo_line", l.Name); err != nil {
			return err
		}
		minPoints := 2
		if l.Closed != nil && *l.Closed {
			minPoints = 3
		}
		if len(l.Points) < minPoints {
			return fmt.Errorf("geo_line %q: at least %d points required, got %d", l.Name, minPoints, len(l.Points))
		}
		for i, p := range l.Points {
			if len(p) != 2 && len(p) != 3 {
				return fmt.Errorf("geo_line %q: point %d must be [lat, lon] or [lat, lon, alt]", l.Name, i)
			}
			if err := checkLatLon(p[0], p[1]); err != nil {
				return fmt.Errorf("geo_line %q: point %d: %w", l.Name, i, err)
			}
		}
	}
	for _, mk := range m.Markers {
		if err := claim("marker", mk.Name); err != nil {
			return err
		}
		if mk.Pattern == nil && mk.Barcode == nil {
			return fmt.Errorf("marker %q: pattern or barcode is required", mk.Name)
		}
	}
	return nil
}

func checkLatLon(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("lat %g out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("lon %g out of range", lon)
	}
	return nil
}

// Session returns the session block for k, if declared.
func (m *Manifest) Session(k xr.Kind) (*Session, bool) {
	for _, s := range m.Sessions {
		if s.Kind == k.String() {
			return s, true
		}
	}
	return nil, false
}

// Kinds returns the declared session kinds in declaration order.
func (m *Manifest) Kinds() []xr.Kind {
	out := make([]xr.Kind, 0, len(m.Sessions))
	for _, s := range m.Sessions {
		if k, err := xr.ParseKind(s.Kind); err == nil {
			out = append(out, k)
		}
	}
	return out
}
