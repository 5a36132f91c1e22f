package geo

// CumulativeDistances returns the distance in meters from the first vertex to
// every vertex of path.
func CumulativeDistances(path []Position) []float64 {
	n := len(path)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += Haversine(path[i-1], path[i])
		cum[i] = sum
	}
	return cum
}

// Interpolate walks dist meters along path and returns the position reached
// and the bearing of the segment it lies on. cum must come from
// CumulativeDistances(path).
func Interpolate(path []Position, cum []float64, dist float64) (Position, float64) {
	n := len(path)
	if n == 0 {
		return Position{}, 0
	}
	if n == 1 || cum[n-1] == 0 {
		return path[0], 0
	}
	if dist <= 0 {
		return path[0], Bearing(path[0], path[1])
	}
	if dist >= cum[n-1] {
		return path[n-1], Bearing(path[n-2], path[n-1])
	}
	// find segment
	i := 1
	for i < n && cum[i] < dist {
		i++
	}
	p0, p1 := path[i-1], path[i]
	d0, d1 := cum[i-1], cum[i]
	if d1 == d0 {
		return p0, Bearing(p0, p1)
	}
	frac := (dist - d0) / (d1 - d0)
	pos := Position{
		Lat: p0.Lat + (p1.Lat-p0.Lat)*frac,
		Lng: p0.Lng + (p1.Lng-p0.Lng)*frac,
	}
	return pos, Bearing(p0, p1)
}
