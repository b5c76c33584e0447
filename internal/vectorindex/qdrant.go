// Package vectorindex adapts the embeddings executor's upsert contract to a
// Qdrant collection, so derived sensor-behavior vectors become searchable
// for downstream similarity jobs without the Analysis Job Runtime knowing
// anything about the wire protocol underneath.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/qdrant/go-client/qdrant"

	"github.com/fieldops/controlplane/internal/platform/logging"
)

// hashSensorID maps a sensor ID to Qdrant's numeric point ID space, so
// repeated upserts for the same sensor land on the same point.
func hashSensorID(sensorID string) uint64 {
	return xxhash.Sum64String(sensorID)
}

// Config collects the Qdrant collection's connection and shape.
type Config struct {
	Addr           string
	CollectionName string
	VectorSize     uint64
	APIKey         string
}

// Index upserts sensor embedding vectors into a single Qdrant collection,
// keyed by sensor ID so a later write for the same sensor overwrites
// rather than accumulates.
type Index struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
	logger     *logging.Logger
}

// Open connects to Qdrant and ensures the target collection exists with
// the configured vector size under cosine distance.
func Open(ctx context.Context, cfg Config, logger *logging.Logger) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Addr,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: connect: %w", err)
	}

	idx := &Index{client: client, collection: cfg.CollectionName, vectorSize: cfg.VectorSize, logger: logger}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureCollection(ctx context.Context) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("vectorindex: collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     idx.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// UpsertEmbedding stores vector under sensorID, attaching payload as the
// point's searchable metadata. It satisfies the embeddings executor's
// VectorUpserter contract.
func (idx *Index) UpsertEmbedding(ctx context.Context, sensorID string, vector []float32, payload map[string]any) error {
	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDNum(hashSensorID(sensorID)),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorindex: upsert %s: %w", sensorID, err)
	}
	return nil
}

// Close releases the underlying Qdrant connection.
func (idx *Index) Close() error {
	return idx.client.Close()
}
