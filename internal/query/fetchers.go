package query

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/tasksync/internal/api"
	"github.com/mschirtzinger/tasksync/internal/schema"
)

// FetcherFor returns the network read for key backed by client.
func FetcherFor(client api.Client, key Key) (FetchFunc, error) {
	f := key.Filter
	switch key.Collection {
	case schema.CollectionTasks:
		return func(ctx context.Context) ([]schema.Record, error) {
			items, err := client.ListTasks(ctx, f)
			if err != nil {
				return nil, err
			}
			return schema.RecordsFromJSON(schema.CollectionTasks, items)
		}, nil
	case schema.CollectionProjects:
		return func(ctx context.Context) ([]schema.Record, error) {
			items, err := client.ListProjects(ctx, f)
			if err != nil {
				return nil, err
			}
			return schema.RecordsFromJSON(schema.CollectionProjects, items)
		}, nil
	case schema.CollectionTimeEntries:
		return func(ctx context.Context) ([]schema.Record, error) {
			items, err := client.ListTimeEntries(ctx, f)
			if err != nil {
				return nil, err
			}
			return schema.RecordsFromJSON(schema.CollectionTimeEntries, items)
		}, nil
	case schema.CollectionUsers:
		return func(ctx context.Context) ([]schema.Record, error) {
			items, err := client.ListUsers(ctx)
			if err != nil {
				return nil, err
			}
			return schema.RecordsFromJSON(schema.CollectionUsers, items)
		}, nil
	default:
		return nil, fmt.Errorf("no fetcher for collection %q", key.Collection)
	}
}
