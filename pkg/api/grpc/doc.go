// Package grpc exposes the grpc.health.v1 protocol so orchestrators and load
// balancers can probe a dago-probe server the same way they probe other
// gRPC services.
package grpc
