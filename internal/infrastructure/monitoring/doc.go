/*
Package monitoring provides Prometheus metrics for the server.

# Overview

Every Metrics value owns its registry, so the server and each test get an
isolated set of collectors. The registry is exposed through Handler.

# Metrics

- HTTP requests (count, latency, sizes) labelled by route template
- Runs by outcome, run duration and trace events per queue
- Deferred callback errors by source
- Runs rejected while another was in flight
- Component operations timed with Timer (store loads and saves)
- WebSocket connections and messages

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", metrics.GinHandler())

	timer := monitoring.NewTimer(metrics, "store", "save")
	err := store.Save(ctx, text)
	timer.StopErr(err)
*/
package monitoring
