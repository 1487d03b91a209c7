// Package pacedhttp exposes the paced client builder.
package pacedhttp

import (
	"github.com/erplink/pacedhttp/client"
	"github.com/erplink/pacedhttp/client/pacer"
)

// NewClient instantiates a *client.Client paced with [pacer.DefaultConfig].
// Later WithPacing or WithPacer options replace the default pacing.
func NewClient(opts ...client.Option) (*client.Client, error) {
	return client.Build(append([]client.Option{client.WithPacing(pacer.DefaultConfig())}, opts...)...)
}
