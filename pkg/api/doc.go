/*
Package api serves the trainyard HTTP API and the gRPC health service.

# HTTP routes

	POST   /api/users                  create user
	GET    /api/users[/{id}]           list or get users
	POST   /api/nodes                  register a GPU node
	GET    /api/nodes[/{id}]           nodes with their task summaries
	GET    /api/nodes/owner/{ownerId}  nodes of one owner
	PATCH  /api/nodes/{id}             update metadata or status
	DELETE /api/nodes/{id}             delete a node without RUNNING tasks
	GET    /api/tasks?consumerId=      list tasks
	POST   /api/tasks                  submit (multipart: name, consumerId,
	                                   estimatedMemoryMb, dataset, modelFile)
	GET    /api/tasks/{id}             get task
	POST   /api/tasks/{id}/finished    completion callback (multipart "model"
	                                   or raw body)
	PATCH  /api/tasks/{id}/status      {"status": "RUNNING"}
	PATCH  /api/tasks/{id}/reassign    move to another node
	DELETE /api/tasks/{id}             delete a task that is not RUNNING
	GET    /api/tasks/{id}/model       download <name>.pth
	GET    /health, /ready, /metrics

Errors are returned as {"error": "..."} with the status derived from the
error taxonomy in pkg/types:

	ErrValidation            400
	ErrNotFound              404
	ErrConflict              409
	ErrInsufficientCapacity  409
	anything else            500

Bodies larger than the configured upload limit get 413.

# Middleware

Every request is counted in trainyard_api_requests_total and timed in
trainyard_api_request_duration_seconds, labeled by the matched route
pattern. When a rate limit is configured, each client IP gets its own token
bucket (golang.org/x/time/rate) and excess requests get 429.

# gRPC

HealthGRPCServer registers the standard grpc.health.v1.Health service. Both
the empty service name and "trainyard" report SERVING while the store
answers a read transaction.
*/
package api
