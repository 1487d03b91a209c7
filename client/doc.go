// Package client provides the configurable HTTP client built on
// [net/http], with optional pacing, retry and throttling layers.
//
// # Building a Client
//
// Use [Build] to create a [Client] with functional options:
//
//	c, err := client.Build(
//		client.WithPacing(pacer.DefaultConfig()),
//		client.WithUserAgent("myapp/1.0"),
//	)
//
// Several clients can share one minimum-interval gate by passing the same
// state to [WithPacer]. The transport chain is, outermost first: pacer,
// throttle, user agent, base transport.
//
// # Executing Calls
//
// [Client.Execute] performs one logical call and returns the fully read
// response, whatever its status, once a non-429 response arrives:
//
//	resp, err := c.Execute(ctx, http.MethodPost, "https://api.example.com/v1/leads",
//		client.WithRawBody(body),
//		client.WithHeader("Content-Type", "application/json"),
//		client.WithAttemptTimeout(10*time.Second),
//	)
//
// Use [WithoutRedirects] to receive 3xx responses and re-issue the call
// manually with the same method, body and headers.
//
// # JSON Requests
//
// Construct a [URL] and [Request], then execute with [Client.Do]:
//
//	u := client.URL("https", "api.example.com", "/v1/resource")
//	req, err := client.Request(ctx, u, http.MethodGet)
//	err = c.Do(req, http.StatusOK, client.WithDestination(&result))
package client
