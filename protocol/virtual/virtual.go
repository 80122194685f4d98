// Package virtual implements the "virtual:" pseudo-protocol: virtual
// locators are never resolved directly (they are manufactured by the
// scheduler's peer-propagation pass, §4.G) and fetching one is a passthrough
// to its inner locator's already-cached entry.
package virtual

import (
	"context"
	"fmt"

	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/protocol"
)

// ErrNotDirectlyResolvable is returned by Resolve: virtual locators are
// constructed by peer propagation, never by a direct descriptor resolve.
type ErrNotDirectlyResolvable struct{}

func (ErrNotDirectlyResolvable) Error() string {
	return "virtual: locators are not resolved directly; they are produced by peer propagation"
}

// Protocol implements protocol.Protocol for KindVirtual.
type Protocol struct{}

// New returns a virtual Protocol.
func New() *Protocol { return &Protocol{} }

func (p *Protocol) Resolve(ctx context.Context, pc *protocol.Context, req protocol.Request) (protocol.ResolveResult, error) {
	return protocol.ResolveResult{}, ErrNotDirectlyResolvable{}
}

// Fetch delegates to the inner locator's own protocol, since a virtual
// locator's archive (if any) is identical to its physical counterpart's —
// only the dependency graph differs (invariant 3).
func (p *Protocol) Fetch(ctx context.Context, pc *protocol.Context, loc locator.Locator) (protocol.FetchResult, error) {
	inner := loc.PhysicalLocator()
	innerProto, ok := protocol.Get(inner.Reference.Kind)
	if !ok {
		return protocol.FetchResult{}, fmt.Errorf("virtual: no protocol registered for inner kind %s", inner.Reference.Kind)
	}
	return innerProto.Fetch(ctx, pc, inner)
}

func init() {
	protocol.Register(locator.KindVirtual, New())
}
