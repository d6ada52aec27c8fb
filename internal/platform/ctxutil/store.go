package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type storeDataKey struct{}

// StoreData carries the merchant scope of a request. Every dashboard call is
// scoped to exactly one store.
type StoreData struct {
	StoreID uuid.UUID
}

func WithStoreData(ctx context.Context, sd *StoreData) context.Context {
	return context.WithValue(ctx, storeDataKey{}, sd)
}

func GetStoreData(ctx context.Context) *StoreData {
	val := ctx.Value(storeDataKey{})
	if sd, ok := val.(*StoreData); ok {
		return sd
	}
	return nil
}
