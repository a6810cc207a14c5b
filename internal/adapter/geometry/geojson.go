package geometry

import (
	"encoding/json"
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"

	"go.ngs.io/nexgddp-api/internal/domain"
)

// document covers the GeoJSON objects accepted as a region: a bare geometry,
// a Feature or a FeatureCollection.
type document struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
	Geometry    json.RawMessage `json:"geometry"`
	Geometries  []document      `json:"geometries"`
	Features    []document      `json:"features"`
	CRS         *crsMember      `json:"crs"`
}

// crsMember is the pre-RFC 7946 named CRS object.
type crsMember struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// FromGeoJSON decodes the Polygon and MultiPolygon geometries of data into a
// region. The CRS is taken from a legacy "crs" member, else EPSG:4326.
func FromGeoJSON(data []byte) (*Region, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.InvalidGeometryError{Reason: "malformed GeoJSON", Err: err}
	}
	r := NewRegion(domain.CRS)
	if doc.CRS != nil && doc.CRS.Properties.Name != "" {
		r.CRS = NormalizeCRS(doc.CRS.Properties.Name)
	}
	if err := collect(&doc, r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func collect(doc *document, r *Region) error {
	switch doc.Type {
	case "FeatureCollection":
		for i := range doc.Features {
			if err := collect(&doc.Features[i], r); err != nil {
				return err
			}
		}
	case "Feature":
		if len(doc.Geometry) == 0 || string(doc.Geometry) == "null" {
			return nil
		}
		var g document
		if err := json.Unmarshal(doc.Geometry, &g); err != nil {
			return &domain.InvalidGeometryError{Reason: "malformed feature geometry", Err: err}
		}
		return collect(&g, r)
	case "GeometryCollection":
		for i := range doc.Geometries {
			if err := collect(&doc.Geometries[i], r); err != nil {
				return err
			}
		}
	case "Polygon":
		p, err := decodePolygon(doc.Coordinates)
		if err != nil {
			return err
		}
		r.Polygons = append(r.Polygons, p)
	case "MultiPolygon":
		var parts []json.RawMessage
		if err := json.Unmarshal(doc.Coordinates, &parts); err != nil {
			return &domain.InvalidGeometryError{Reason: "malformed MultiPolygon coordinates", Err: err}
		}
		mp := make(geom.MultiPolygon, 0, len(parts))
		for _, part := range parts {
			p, err := decodePolygon(part)
			if err != nil {
				return err
			}
			mp = append(mp, p)
		}
		r.Polygons = append(r.Polygons, mp)
	default:
		return &domain.InvalidGeometryError{Reason: fmt.Sprintf("unsupported geometry type %q", doc.Type)}
	}
	return nil
}

func decodePolygon(coords json.RawMessage) (geom.Polygon, error) {
	var c interface{}
	if err := json.Unmarshal(coords, &c); err != nil {
		return nil, &domain.InvalidGeometryError{Reason: "malformed Polygon coordinates", Err: err}
	}
	g, err := geojson.FromGeoJSON(&geojson.Geometry{Type: "Polygon", Coordinates: c})
	if err != nil {
		return nil, &domain.InvalidGeometryError{Reason: "malformed Polygon coordinates", Err: err}
	}
	p, ok := g.(geom.Polygon)
	if !ok {
		return nil, &domain.InvalidGeometryError{Reason: fmt.Sprintf("decoded %T, want Polygon", g)}
	}
	return p, nil
}
