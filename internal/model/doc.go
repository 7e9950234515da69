// Package model defines the records exchanged between the operational
// document store and the warehouse ledger.
//
// The operational store owns Article, Stock and Warehouse; the sync engine
// only reads them. Watermark records belong to the engine and mark how far
// each synchronization group has been projected into the ledger:
//
//	Watermark{Name: "Article", Group: GroupArticle}  // catalog merge boundary
//	Watermark{Name: "<warehouse id>", Group: GroupStock} // per-location stock boundary
//
// Stock references Article and Warehouse by ID only. Nothing enforces those
// references at the source, so consumers must tolerate dangling IDs.
package model
