// Package geo has location helpers for AR message anchors.
package geo

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/eternallink/arlink/internal/model"
)

// Anchors are projected to Web Mercator (EPSG:3857) for planar work such
// as centroids. Distances use the haversine formula on WGS84 degrees.

// EarthRadiusKm is the mean Earth radius used for distances.
const EarthRadiusKm = 6371.0088

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Parse reads "lat,lon" or "lat,lon,alt" into a location.
func Parse(coords string) (model.Location, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return model.Location{}, fmt.Errorf("%w: %q", ErrInvalidCoordinates, coords)
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return model.Location{}, fmt.Errorf("%w: %q", ErrInvalidCoordinates, coords)
		}
		vals[i] = v
	}
	loc := model.Location{Latitude: vals[0], Longitude: vals[1]}
	if len(vals) == 3 {
		loc.Altitude = vals[2]
	}
	if err := loc.Validate(); err != nil {
		return model.Location{}, err
	}
	return loc, nil
}

// Format is the inverse of Parse.
func Format(loc model.Location) string {
	return strconv.FormatFloat(loc.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(loc.Longitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(loc.Altitude, 'f', -1, 64)
}

// Project converts a location to a Web Mercator point, keeping the
// altitude as Z.
func Project(loc model.Location) geom.Point {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(loc.Longitude, loc.Latitude, 0)
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Z:    loc.Altitude,
		Type: geom.DimXYZ,
	})
}

// Unproject converts a Web Mercator point back to a location.
func Unproject(p geom.Point) (model.Location, error) {
	c, ok := p.Coordinates()
	if !ok {
		return model.Location{}, ErrInvalidCoordinates
	}
	f := wgs84.EPSG().Transform(3857, 4326)
	lon, lat, _ := f(c.X, c.Y, 0)
	return model.Location{Latitude: lat, Longitude: lon, Altitude: c.Z}, nil
}

// Centroid returns the planar centre of the given anchors.
func Centroid(locs []model.Location) (model.Location, error) {
	if len(locs) == 0 {
		return model.Location{}, ErrInvalidCoordinates
	}
	pts := make([]geom.Point, len(locs))
	for i, l := range locs {
		pts[i] = Project(l)
	}
	c := geom.NewMultiPoint(pts).Centroid()
	xy, ok := c.XY()
	if !ok {
		return model.Location{}, ErrInvalidCoordinates
	}
	// Centroid is 2D; average the altitude separately.
	var alt float64
	for _, l := range locs {
		alt += l.Altitude
	}
	loc, err := Unproject(geom.NewPoint(geom.Coordinates{XY: xy, Z: alt / float64(len(locs)), Type: geom.DimXYZ}))
	if err != nil {
		return model.Location{}, err
	}
	return loc, nil
}

// DistanceKm is the great-circle distance between a and b.
func DistanceKm(a, b model.Location) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// SortByDistance orders msgs nearest first from origin. Ties keep their
// input order.
func SortByDistance(origin model.Location, msgs []model.ARMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return DistanceKm(origin, msgs[i].Location) < DistanceKm(origin, msgs[j].Location)
	})
}

// Within returns the messages no farther than radiusKm from origin.
func Within(origin model.Location, radiusKm float64, msgs []model.ARMessage) []model.ARMessage {
	var out []model.ARMessage
	for _, m := range msgs {
		if DistanceKm(origin, m.Location) <= radiusKm {
			out = append(out, m)
		}
	}
	return out
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
