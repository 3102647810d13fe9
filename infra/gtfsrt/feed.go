// Package gtfsrt publishes the fleet as a GTFS-Realtime feed.
package gtfsrt

import (
	"context"
	"fmt"
	"math"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/scheduler"
	"github.com/kilianp07/fleetcast/core/store"
)

// Version is the GTFS-Realtime specification version of the feed.
const Version = "2.0"

// Feed renders active vehicles as VehiclePosition and TripUpdate entities.
type Feed struct {
	vehicles store.VehicleStore
	clock    scheduler.Clock
	limit    int
}

// NewFeed returns a feed over vehicles. limit caps the vehicles per feed; a
// non-positive value means no cap.
func NewFeed(vehicles store.VehicleStore, clock scheduler.Clock, limit int) *Feed {
	if clock == nil {
		clock = scheduler.SystemClock{}
	}
	return &Feed{vehicles: vehicles, clock: clock, limit: limit}
}

// Build reads the active vehicles and returns a full dataset message.
func (f *Feed) Build(ctx context.Context) (*gtfsrtpb.FeedMessage, error) {
	vehicles, err := f.vehicles.FindVehicles(ctx, store.VehicleFilter{Status: model.StatusActive}, f.limit)
	if err != nil {
		return nil, fmt.Errorf("gtfs-rt vehicles: %w", err)
	}
	msg := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(Version),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(f.clock.Now().Unix())),
		},
	}
	for _, v := range vehicles {
		msg.Entity = append(msg.Entity, VehicleEntity(v), TripUpdateEntity(v))
	}
	return msg, nil
}

// Marshal returns the protobuf encoding of Build.
func (f *Feed) Marshal(ctx context.Context) ([]byte, error) {
	msg, err := f.Build(ctx)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}

// JSON returns the protojson encoding of Build, for debugging.
func (f *Feed) JSON(ctx context.Context) ([]byte, error) {
	msg, err := f.Build(ctx)
	if err != nil {
		return nil, err
	}
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
}

func descriptors(v model.Vehicle) (*gtfsrtpb.TripDescriptor, *gtfsrtpb.VehicleDescriptor) {
	trip := &gtfsrtpb.TripDescriptor{RouteId: proto.String(v.RouteID)}
	vd := &gtfsrtpb.VehicleDescriptor{Id: proto.String(v.ID), Label: proto.String(v.ID)}
	return trip, vd
}

// VehicleEntity converts v into a VehiclePosition entity. Speed is converted
// from km/h to m/s.
func VehicleEntity(v model.Vehicle) *gtfsrtpb.FeedEntity {
	trip, vd := descriptors(v)
	vp := &gtfsrtpb.VehiclePosition{
		Trip:    trip,
		Vehicle: vd,
		Position: &gtfsrtpb.Position{
			Latitude:  proto.Float32(float32(v.Location.Latitude)),
			Longitude: proto.Float32(float32(v.Location.Longitude)),
			Bearing:   proto.Float32(float32(v.Heading)),
			Speed:     proto.Float32(float32(v.Speed / 3.6)),
		},
		OccupancyStatus:     OccupancyStatus(v.Occupancy.Level).Enum(),
		OccupancyPercentage: proto.Uint32(uint32(math.Round(v.Occupancy.Percentage))),
		CurrentStatus:       gtfsrtpb.VehiclePosition_IN_TRANSIT_TO.Enum(),
	}
	if v.NextStop != "" {
		vp.StopId = proto.String(v.NextStop)
	}
	if !v.LastUpdated.IsZero() {
		vp.Timestamp = proto.Uint64(uint64(v.LastUpdated.Unix()))
	}
	return &gtfsrtpb.FeedEntity{Id: proto.String("vp-" + v.ID), Vehicle: vp}
}

// TripUpdateEntity reports the current delay of v, in seconds.
func TripUpdateEntity(v model.Vehicle) *gtfsrtpb.FeedEntity {
	trip, vd := descriptors(v)
	tu := &gtfsrtpb.TripUpdate{
		Trip:    trip,
		Vehicle: vd,
		Delay:   proto.Int32(int32(math.Round(v.Delay * 60))),
	}
	if !v.LastUpdated.IsZero() {
		tu.Timestamp = proto.Uint64(uint64(v.LastUpdated.Unix()))
	}
	return &gtfsrtpb.FeedEntity{Id: proto.String("tu-" + v.ID), TripUpdate: tu}
}

// OccupancyStatus maps an occupancy level to the GTFS-Realtime enum.
func OccupancyStatus(l model.OccupancyLevel) gtfsrtpb.VehiclePosition_OccupancyStatus {
	switch l {
	case model.OccupancyLow:
		return gtfsrtpb.VehiclePosition_MANY_SEATS_AVAILABLE
	case model.OccupancyMedium:
		return gtfsrtpb.VehiclePosition_FEW_SEATS_AVAILABLE
	case model.OccupancyHigh:
		return gtfsrtpb.VehiclePosition_STANDING_ROOM_ONLY
	case model.OccupancyFull:
		return gtfsrtpb.VehiclePosition_FULL
	default:
		return gtfsrtpb.VehiclePosition_NO_DATA_AVAILABLE
	}
}
