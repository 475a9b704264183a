package tools

import (
	"github.com/tudor-baraboi/cfr-agents/pkg/cache"
	"github.com/tudor-baraboi/cfr-agents/pkg/embedder"
	"github.com/tudor-baraboi/cfr-agents/pkg/indexer"
	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
	"github.com/tudor-baraboi/cfr-agents/pkg/sources"
)

// Deps carries the shared services the full catalog is built from.
type Deps struct {
	Proxy    *proxyclient.Client
	Fetcher  *cache.Fetcher
	Indexer  *indexer.Indexer
	Embedder embedder.Embedder
	ECFR     *sources.ECFRClient
	DRS      *sources.DRSClient
	ADAMS    *sources.ADAMSClient

	// PersonalFetchCap bounds the text returned by
	// fetch_personal_document. Zero means the default.
	PersonalFetchCap int
}

// NewCatalog builds the full tool registry. Agents take filtered
// views of it via Subset.
func NewCatalog(d Deps) *Registry {
	// A nil *indexer.Indexer in a scheduler interface would not be nil
	// anymore; leave the slot empty instead.
	var sched scheduler
	if d.Indexer != nil {
		sched = d.Indexer
	}

	return NewRegistry(
		NewSearchIndexedTool(d.Proxy),
		NewFetchCFRTool(d.ECFR, d.Fetcher, sched),
		NewFetchDRSTool(d.DRS, d.Fetcher, sched),
		NewSearchDRSTool(d.DRS),
		NewSearchAPSTool(d.ADAMS),
		NewFetchAPSTool(d.ADAMS, d.Fetcher, sched),
		NewListDocumentsTool(d.Proxy),
		NewFetchPersonalDocumentTool(d.Proxy, d.PersonalFetchCap),
		NewSearchPersonalDocumentTool(d.Proxy, d.Embedder),
		NewDeleteDocumentTool(d.Proxy),
	)
}
