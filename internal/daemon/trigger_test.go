package daemon

import (
	"testing"

	"github.com/mschirtzinger/stockledger/internal/docstore"
)

func TestTriggerFor(t *testing.T) {
	tests := []struct {
		collection docstore.Collection
		op         docstore.OperationType
		want       bool
	}{
		{docstore.CollectionStock, docstore.OpInsert, true},
		{docstore.CollectionStock, docstore.OpUpdate, true},
		{docstore.CollectionStock, docstore.OpDelete, true},
		{docstore.CollectionStock, docstore.OpReplace, true},
		{docstore.CollectionArticle, docstore.OpInsert, true},
		{docstore.CollectionArticle, docstore.OpUpdate, true},
		{docstore.CollectionArticle, docstore.OpReplace, true},
		{docstore.CollectionProcessing, docstore.OpInsert, false},
		{docstore.CollectionProcessing, docstore.OpUpdate, false},
		{docstore.CollectionProcessing, docstore.OpReplace, false},
		{docstore.CollectionProcessing, docstore.OpDelete, true},
		{docstore.CollectionWarehouse, docstore.OpInsert, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.collection)+"/"+string(tt.op), func(t *testing.T) {
			ev := docstore.ChangeEvent{Collection: tt.collection, OperationType: tt.op}
			if got := TriggerFor(ev); got != tt.want {
				t.Errorf("TriggerFor(%s %s) = %v, want %v", tt.collection, tt.op, got, tt.want)
			}
		})
	}
}
