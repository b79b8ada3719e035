// Package server wires the instrumented demo host.
//
// Server Lifecycle:
//  1. Initialize logger (production or development)
//  2. Create the metrics registry
//  3. Start the tracing agent (probe, sinks, pipeline, tracer)
//  4. Open the traced user store and the traced todo client
//  5. Setup HTTP routes and middleware
//  6. Start HTTP server
//  7. Graceful shutdown: drain requests, close the store, flush spans
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := server.NewServer(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Run()
//	defer srv.Shutdown(ctx)
package server
