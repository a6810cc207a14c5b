package geometry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"

	"go.ngs.io/nexgddp-api/internal/domain"
)

// epsgDefs holds proj4 definitions for the EPSG codes accepted by name.
// UTM zones (326xx, 327xx) are generated.
var epsgDefs = map[int]string{
	4326: "+proj=longlat +datum=WGS84 +no_defs",
	4269: "+proj=longlat +ellps=GRS80 +towgs84=0,0,0 +no_defs",
	3857: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +no_defs",
	5070: "+proj=aea +lat_0=23 +lon_0=-96 +lat_1=29.5 +lat_2=45.5 +x_0=0 +y_0=0 +datum=NAD83 +units=m +no_defs",
}

// NormalizeCRS rewrites the common spellings of an EPSG reference
// ("epsg:4326", "urn:ogc:def:crs:EPSG::4326", "OGC:CRS84") as "EPSG:<code>".
// Other strings are returned trimmed and unchanged. Empty means EPSG:4326.
func NormalizeCRS(crs string) string {
	s := strings.TrimSpace(crs)
	if s == "" {
		return domain.CRS
	}
	upper := strings.ToUpper(s)
	switch upper {
	case "OGC:CRS84", "URN:OGC:DEF:CRS:OGC:1.3:CRS84", "CRS84", "WGS84":
		return domain.CRS
	}
	for _, p := range []string{"URN:OGC:DEF:CRS:EPSG::", "URN:OGC:DEF:CRS:EPSG:", "EPSG::", "EPSG:"} {
		if rest, ok := strings.CutPrefix(upper, p); ok {
			if code, err := strconv.Atoi(rest); err == nil {
				return fmt.Sprintf("EPSG:%d", code)
			}
		}
	}
	return s
}

// SameCRS reports whether a and b name the same reference system.
func SameCRS(a, b string) bool {
	return NormalizeCRS(a) == NormalizeCRS(b)
}

// ParseCRS resolves an EPSG reference, proj4 string or WKT definition.
func ParseCRS(crs string) (*proj.SR, error) {
	n := NormalizeCRS(crs)
	if code, ok := strings.CutPrefix(n, "EPSG:"); ok {
		c, _ := strconv.Atoi(code)
		def, ok := epsgDefinition(c)
		if !ok {
			return nil, &domain.InvalidGeometryError{Reason: fmt.Sprintf("unsupported CRS %s", n)}
		}
		n = def
	}
	sr, err := proj.Parse(n)
	if err != nil {
		return nil, &domain.InvalidGeometryError{Reason: fmt.Sprintf("unparsable CRS %q", crs), Err: err}
	}
	return sr, nil
}

func epsgDefinition(code int) (string, bool) {
	if def, ok := epsgDefs[code]; ok {
		return def, true
	}
	switch {
	case code >= 32601 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600), true
	case code >= 32701 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700), true
	}
	return "", false
}
