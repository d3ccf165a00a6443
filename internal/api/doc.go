// Package api hosts the operator HTTP surface. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the database.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/queue for task counts by state.
//   - POST /v1/users/{user_id}/articles/{article_id}/enqueue and
//     POST /v1/users/{user_id}/worlds/{world_id}/enqueue to request resyncs.
//   - GET /v1/users/{user_id}/articles/{article_id}/comments for the stored
//     unanswered comments of an article.
package api
