// Package feed exports the presence registry as a GTFS-Realtime
// VehiclePositions feed.
package feed

import (
	"sort"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"bus-relay/internal/catalog"
	"bus-relay/internal/geo"
)

const gtfsRealtimeVersion = "2.0"

// VehiclePositions builds a full-dataset feed from an online snapshot.
// Vehicles assigned to one of routes carry a trip descriptor with its id.
func VehiclePositions(online map[string]geo.Position, routes []catalog.Route, now time.Time) *gtfs.FeedMessage {
	ids := make([]string, 0, len(online))
	for id := range online {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ts := uint64(now.Unix())
	fm := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(ts),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(ids)),
	}
	for _, id := range ids {
		p := online[id]
		vp := &gtfs.VehiclePosition{
			Vehicle: &gtfs.VehicleDescriptor{
				Id:    proto.String(id),
				Label: proto.String(id),
			},
			Position: &gtfs.Position{
				Latitude:  proto.Float32(float32(p.Lat)),
				Longitude: proto.Float32(float32(p.Lng)),
			},
			Timestamp: proto.Uint64(ts),
		}
		if r, ok := catalog.RouteForVehicle(routes, id); ok {
			vp.Trip = &gtfs.TripDescriptor{RouteId: proto.String(r.ID)}
		}
		fm.Entity = append(fm.Entity, &gtfs.FeedEntity{
			Id:      proto.String(id),
			Vehicle: vp,
		})
	}
	return fm
}

// Marshal encodes the feed in protobuf wire format.
func Marshal(fm *gtfs.FeedMessage) ([]byte, error) {
	return proto.Marshal(fm)
}
