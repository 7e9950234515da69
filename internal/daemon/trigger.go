package daemon

import "github.com/mschirtzinger/stockledger/internal/docstore"

// watchedCollections are the collections the daemon subscribes to.
var watchedCollections = []docstore.Collection{
	docstore.CollectionStock,
	docstore.CollectionArticle,
	docstore.CollectionProcessing,
}

// TriggerFor reports whether ev should schedule a sync pass.
func TriggerFor(ev docstore.ChangeEvent) bool {
	switch ev.Collection {
	case docstore.CollectionStock, docstore.CollectionArticle:
		return true
	case docstore.CollectionProcessing:
		return ev.OperationType == docstore.OpDelete
	default:
		return false
	}
}
