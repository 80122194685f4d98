package scheduler

import "github.com/corepm/corepm/locator"

// ResolveDone is published when a descriptor finishes resolving to a locator.
type ResolveDone struct {
	Locator locator.Locator
}

// FetchDone is published when a locator's archive (or synthetic entry) has
// been fetched and cached.
type FetchDone struct {
	Locator  locator.Locator
	Checksum string
}

// LoadDone is published when a locator's manifest has been parsed and its
// Resolution registered in the tree.
type LoadDone struct {
	Locator locator.Locator
}
