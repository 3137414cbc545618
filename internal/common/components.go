package common

const (
	ComponentIndexer         = "indexer"
	ComponentFetcher         = "fetcher"
	ComponentDispatcher      = "dispatcher"
	ComponentConnectionPool  = "connection-pool"
	ComponentReorgController = "reorg-controller"
	ComponentEntityStore     = "entity-store"
	ComponentMMR             = "mmr"
	ComponentMaintenance     = "maintenance"
	ComponentRetry           = "retry"
)

var AllComponents = map[string]struct{}{
	ComponentIndexer:         {},
	ComponentFetcher:         {},
	ComponentDispatcher:      {},
	ComponentConnectionPool:  {},
	ComponentReorgController: {},
	ComponentEntityStore:     {},
	ComponentMMR:             {},
	ComponentMaintenance:     {},
	ComponentRetry:           {},
}
