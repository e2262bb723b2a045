/*
Package monitoring provides Prometheus metrics for the lecture service.

# Metrics

  - HTTP requests (count, latency) labelled by route template
  - Content loads by outcome ("ok" or the loader error kind)
  - Code blocks by kind (inline, external, skipped) and outcome
  - Resource handles registered and released by kind (timer, interval,
    animation_frame, listener), plus release failures by teardown step
  - Mounted views and WebSocket connections

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
