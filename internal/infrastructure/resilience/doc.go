// Package resilience provides the circuit breaker that guards the lecture
// content backend.
//
// The breaker opens after repeated backend failures so a struggling content
// service is not hammered by learners re-opening lectures. Only errors that
// Settings.IsFailure accepts count as failures. The content client reports
// transport errors and 5xx responses, never 401/403/404.
package resilience
