// Package client provides the HTTP client used to reach the lecture content
// backend and to load externally-sourced code blocks.
//
// Built on go-resty/resty with a retryablehttp transport:
//   - no automatic retries (retry is a user decision in the lecture view)
//   - circuit breaker counting only transport errors and 5xx responses
//   - optional outbound rate limiting via x/time/rate
//   - bearer authorization per request
//
// Example Usage:
//
//	c := client.NewClient(client.Options{BaseURL: cfg.Content.BaseURL})
//	resp, err := c.Get(ctx, "/content/intro.html", token)
package client
