package main

import (
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// realtimeServiceName is the health service name reported for the hub.
const realtimeServiceName = "pairchat.realtime"

// newHealthServer returns a gRPC server exposing only grpc.health.v1.Health,
// with both the overall and the realtime service SERVING.
func newHealthServer(opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(realtimeServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Online      int    `json:"online"`
	Rooms       int    `json:"rooms"`
}

func (app *application) healthz(w http.ResponseWriter, r *http.Request) {
	conns, online, rooms := app.hub.Counts()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Connections: conns,
		Online:      online,
		Rooms:       rooms,
	})
}
