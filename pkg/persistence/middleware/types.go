// Package middleware wraps a ports.Store with cross-cutting behaviour:
// credential guarding, field encryption, caching and instrumentation.
package middleware

import "github.com/aretw0/vellora/pkg/ports"

// Middleware allows wrapping a Store to add behavior.
type Middleware func(ports.Store) ports.Store

// Chain wraps store with mws. The first middleware is the outermost one.
func Chain(store ports.Store, mws ...Middleware) ports.Store {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			store = mws[i](store)
		}
	}
	return store
}
