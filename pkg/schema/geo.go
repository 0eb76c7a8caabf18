package schema

// ValidCoordinates returns the object's location when it is present and
// usable: within WGS84 range and not the 0,0 placeholder.
func ValidCoordinates(obj *Object) (Point, bool) {
	if obj == nil || obj.Location == nil {
		return Point{}, false
	}
	p := *obj.Location
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return Point{}, false
	}
	if p.Lat == 0 && p.Lng == 0 {
		return Point{}, false
	}
	return p, true
}
