// Package resilience guards text generation with a circuit breaker and
// bounded retries.
package resilience
