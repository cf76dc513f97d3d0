package catalogue

import "context"

// Store is the catalogue's persistence boundary. The core only ever reads
// Nodes/Datasets and reads+writes Stations/Datasets through the sync
// package — it never owns schema migrations, which live with the
// admin/CMS collaborator that manages the catalogue's source data.
type Store interface {
	// ActiveNodes returns every node with Active=true and a non-empty
	// host, datasets attached.
	ActiveNodes(ctx context.Context) ([]Node, error)
	// GetNode returns a single node with its datasets attached.
	GetNode(ctx context.Context, nodeID string) (Node, error)

	// GetStationByWIGOS looks up a station by its WIGOS identifier.
	// Returns ErrNotFound if absent.
	GetStationByWIGOS(ctx context.Context, wigos string) (Station, error)
	// GetDatasetByID looks up a dataset by its URN. Returns ErrNotFound if
	// absent.
	GetDatasetByID(ctx context.Context, datasetID string) (Dataset, error)

	// UpsertDatasets replaces the dataset rows owned by nodeID with the
	// given set, marking any existing dataset absent from the set as
	// DatasetDeleted.
	UpsertDatasets(ctx context.Context, nodeID string, datasets []Dataset) error
	// UpsertStations inserts or updates stations and recomputes their
	// dataset membership. Stations absent from the set are left untouched
	// — stations are never deleted by a sync.
	UpsertStations(ctx context.Context, stations []Station) error
}

// ErrNotFound is returned by Store lookups that miss.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "catalogue: not found" }
