package importer

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ReadShapefile reads a shapefile and its .dbf attributes. Attribute names
// are lowercased. Each feature also gets longitude and latitude: the point
// itself for point layers, the bounding box center otherwise.
func ReadShapefile(path string) ([]Record, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: open shapefile %s", path)
	}
	defer r.Close() //nolint:errcheck

	fields := r.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimSpace(f.String()))
	}

	var (
		out     []Record
		noShape int
	)
	for r.Next() {
		_, shape := r.Shape()
		rec := make(Record, len(names)+2)
		for i, name := range names {
			if name == "" {
				continue
			}
			if v := strings.TrimSpace(strings.TrimRight(r.Attribute(i), "\x00")); v != "" {
				rec[name] = v
			}
		}
		if lon, lat, ok := shapeCenter(shape); ok {
			rec["longitude"] = lon
			rec["latitude"] = lat
		} else {
			noShape++
		}
		out = append(out, rec)
	}
	if err := r.Err(); err != nil {
		return nil, eris.Wrapf(err, "importer: read shapefile %s", path)
	}
	if noShape > 0 {
		zap.L().Debug("importer: features without geometry", zap.String("path", path), zap.Int("count", noShape))
	}
	return out, nil
}

func shapeCenter(s shp.Shape) (lon, lat float64, ok bool) {
	switch v := s.(type) {
	case nil, *shp.Null:
		return 0, 0, false
	case *shp.Point:
		return v.X, v.Y, true
	default:
		b := s.BBox()
		return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2, true
	}
}
