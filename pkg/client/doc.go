/*
Package client is a thin HTTP client for the trainyard API, used by the
trainyard CLI.

	c := client.NewClient("localhost:8000")
	nodes, err := c.ListNodes(ctx, "")

Non-2xx responses are returned as *APIError, which unwraps to the sentinel
errors of pkg/types:

	if errors.Is(err, types.ErrConflict) { ... }
*/
package client
