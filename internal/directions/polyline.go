package directions

import (
	"errors"
	"math"
	"strings"

	"bus-relay/internal/geo"
)

// Encoded polyline format: each coordinate is a signed delta from the previous
// one, scaled by 1e5, zig-zag folded and written as little-endian 5-bit chunks.
// Every chunk is offset by 63 and all but the last carry the 0x20 continuation flag.
const (
	polylinePrecision = 1e5
	chunkOffset       = 63
	chunkBase         = 32 // 5 bits per chunk
	maxChunks         = 7  // values fit in 32 bits
)

var ErrMalformedPolyline = errors.New("malformed polyline")

// DecodePolyline turns an encoded polyline into the positions it describes.
func DecodePolyline(encoded string) ([]geo.Position, error) {
	var (
		out      []geo.Position
		lat, lng int64
	)
	for i := 0; i < len(encoded); {
		dLat, next, err := readValue(encoded, i)
		if err != nil {
			return nil, err
		}
		dLng, next, err := readValue(encoded, next)
		if err != nil {
			return nil, err
		}
		i = next
		lat += dLat
		lng += dLng
		out = append(out, geo.Position{
			Lat: float64(lat) / polylinePrecision,
			Lng: float64(lng) / polylinePrecision,
		})
	}
	return out, nil
}

// readValue decodes one signed value starting at s[i] and returns it together
// with the index of the first unread character.
func readValue(s string, i int) (int64, int, error) {
	var (
		folded int64
		weight int64 = 1
	)
	for n := 0; ; n++ {
		if n == maxChunks {
			return 0, i, ErrMalformedPolyline
		}
		if i >= len(s) {
			return 0, i, ErrMalformedPolyline
		}
		chunk := int64(s[i]) - chunkOffset
		i++
		if chunk < 0 || chunk >= 2*chunkBase {
			return 0, i, ErrMalformedPolyline
		}
		folded += (chunk % chunkBase) * weight
		weight *= chunkBase
		if chunk < chunkBase {
			break
		}
	}
	return unfold(folded), i, nil
}

// unfold reverses zig-zag encoding: 0,1,2,3,... -> 0,-1,1,-2,...
func unfold(v int64) int64 {
	if v%2 == 1 {
		return -(v + 1) / 2
	}
	return v / 2
}

func fold(v int64) int64 {
	if v < 0 {
		return -2*v - 1
	}
	return 2 * v
}

// EncodePolyline is the inverse of DecodePolyline.
func EncodePolyline(path []geo.Position) string {
	var (
		b                strings.Builder
		prevLat, prevLng int64
	)
	for _, p := range path {
		lat := int64(math.Round(p.Lat * polylinePrecision))
		lng := int64(math.Round(p.Lng * polylinePrecision))
		writeValue(&b, lat-prevLat)
		writeValue(&b, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return b.String()
}

func writeValue(b *strings.Builder, v int64) {
	u := fold(v)
	for u >= chunkBase {
		b.WriteByte(byte(u%chunkBase + chunkBase + chunkOffset))
		u /= chunkBase
	}
	b.WriteByte(byte(u + chunkOffset))
}
