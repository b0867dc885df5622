// Package handlers contains reusable pieces of the HTTP interface: health
// checks, middleware and trigger ingest.
//
// # Health Checks
//
// Checks run in parallel. A failing critical check makes the service
// unhealthy; a failing optional check only makes it not ready:
//
//	checker := handlers.NewCompositeHealthChecker("v0.1.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//
//	status := checker.Check(ctx)
//
// # Accounts
//
// Every /v1, /ws and /events request carries the account in the X-Account-ID
// header (or the account_id query parameter for browser streams). Handlers
// read it back with AccountFromContext.
//
// # Triggers
//
// ParseTrigger turns the body of POST /v1/triggers into the same domain event
// upstream modules publish on the event bus:
//
//	{"type":"task.triggered","account_id":"acc-1","task_id":"t-9","task_title":"Write report"}
package handlers
