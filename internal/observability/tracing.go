// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InitTracer wires a global TracerProvider. If OTEL_EXPORTER_OTLP_ENDPOINT
// is set it ships spans over gRPC to that collector; otherwise it
// falls back to a stdout exporter so `tools/call` spans are still
// visible for local development without standing up a collector.
//
// The returned func shuts the exporter down; callers defer it.
func InitTracer(ctx context.Context) (func(context.Context), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("codex-mcp-streaming-http-bridge")))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var (
		bsp      sdktrace.SpanProcessor
		shutdown func(context.Context) error
	)

	if endpoint != "" {
		conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("dial otlp collector: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("build otlp exporter: %w", err)
		}
		bsp = sdktrace.NewBatchSpanProcessor(exporter)
		shutdown = exporter.Shutdown
	} else {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("build stdout exporter: %w", err)
		}
		bsp = sdktrace.NewBatchSpanProcessor(exporter)
		shutdown = exporter.Shutdown
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func(shutdownCtx context.Context) {
		ctx, cancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}, nil
}
