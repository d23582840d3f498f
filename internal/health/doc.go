// Package health reports liveness and readiness of the client process.
//
// Readiness runs the registered dependency checks: the Redis mock state
// store when it is configured, and optionally a TCP dial to each service
// base URL. Failed critical checks make the process unready, failed
// non-critical checks only degrade it.
//
//	checker := health.NewChecker(version, health.WithLogger(logger))
//	checker.Register(health.RedisHealthCheck("mock-store", store))
//	checker.RegisterRoutes(engine)
package health
