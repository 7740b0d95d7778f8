// internal/storage/mongo.go

// Package storage persists cleaned vehicles and run statistics to MongoDB,
// with a degraded disconnected mode when the store is unreachable.
package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/carscout/carscout/internal/cleaner"
	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/utils"
)

// Status values returned by store operations.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
)

// UpdateResult reports what a vehicle upload did.
type UpdateResult struct {
	Status   string `json:"status"`
	Inserted int    `json:"inserted"`
}

// Store wraps the vehicle and run-stats collections. When both connection
// modes fail at startup the Store stays in a disconnected state where every
// operation short-circuits to StatusSkipped instead of raising; callers
// check Connected before depending on persistence.
type Store struct {
	cfg       config.MongoConfig
	client    *mongo.Client
	vehicles  *mongo.Collection
	stats     *mongo.Collection
	connected bool
	logger    utils.Logger
}

// Connect dials the store, trying a standard TLS connection first and
// falling back once to a relaxed-verification mode. A Store is always
// returned; check Connected for the outcome.
func Connect(ctx context.Context, cfg config.MongoConfig) *Store {
	s := &Store{cfg: cfg, logger: utils.NewComponentLogger("storage")}

	client, err := s.dial(ctx, false)
	if err != nil {
		s.logger.Warnf("primary connection failed: %v, retrying with relaxed TLS", err)
		client, err = s.dial(ctx, true)
	}
	if err != nil {
		s.logger.Errorf("store unreachable, operating disconnected: %v", err)
		return s
	}

	s.client = client
	s.vehicles = client.Database(cfg.Database).Collection(cfg.Collection)
	s.stats = client.Database(cfg.Database).Collection(cfg.StatsCollection)
	s.connected = true
	s.logger.Infof("connected to %s/%s", cfg.Database, cfg.Collection)
	return s
}

func (s *Store) dial(ctx context.Context, relaxedTLS bool) (*mongo.Client, error) {
	uri := fmt.Sprintf("mongodb+srv://%s:%s@%s/?retryWrites=true&w=majority",
		s.cfg.User, s.cfg.Password, s.cfg.Cluster)

	opts := options.Client().ApplyURI(uri).SetServerSelectionTimeout(s.cfg.Timeout)
	if relaxedTLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(dialCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}
	if err := client.Ping(dialCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return client, nil
}

// Connected reports whether store operations will persist.
func (s *Store) Connected() bool {
	return s.connected
}

// UpdateDatabase appends cleaned records to the vehicle collection. Records
// are never overwritten; identity dedup happened at the link level before
// fetching.
func (s *Store) UpdateDatabase(ctx context.Context, records []cleaner.Record) (*UpdateResult, error) {
	if !s.connected {
		s.logger.Warn("disconnected, skipping vehicle upload")
		return &UpdateResult{Status: StatusSkipped}, nil
	}
	if len(records) == 0 {
		return &UpdateResult{Status: StatusOK}, nil
	}

	docs := make([]interface{}, 0, len(records))
	now := time.Now().UTC()
	for _, r := range records {
		docs = append(docs, bson.M{
			"brand_model":    r.BrandModel,
			"price":          r.Price,
			"mileage":        r.Mileage,
			"transmission":   r.Transmission,
			"fuel":           r.Fuel,
			"year":           r.Year,
			"co2":            r.CO2,
			"emission_class": r.EmissionClass,
			"warranty":       r.WarrantyMonths,
			"brand":          r.Brand,
			"model":          r.Model,
			"link":           r.Link,
			"date":           r.Date,
			"ingested_at":    now,
		})
	}

	res, err := s.vehicles.InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("failed to insert vehicles: %w", err)
	}
	s.logger.Infof("inserted %d vehicle records", len(res.InsertedIDs))
	return &UpdateResult{Status: StatusOK, Inserted: len(res.InsertedIDs)}, nil
}

// SaveRunStats persists one run summary keyed by its start time. The write
// replaces any document with the same start time, so a run is recorded
// exactly once even if finalization retries.
func (s *Store) SaveRunStats(ctx context.Context, startTime time.Time, doc interface{}) (string, error) {
	if !s.connected {
		s.logger.Warn("disconnected, skipping run-stats save")
		return StatusSkipped, nil
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.stats.ReplaceOne(ctx, bson.M{"start_time": startTime}, doc, opts)
	if err != nil {
		return "", fmt.Errorf("failed to save run stats: %w", err)
	}
	return StatusOK, nil
}

// LastRun returns the most recent run summary, or nil when none exists.
func (s *Store) LastRun(ctx context.Context) (bson.M, error) {
	if !s.connected {
		return nil, nil
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "start_time", Value: -1}})
	var doc bson.M
	err := s.stats.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}
	return doc, nil
}

// RunStats aggregates run summaries from the last days days, grouped by
// calendar day with a per-day success rate.
func (s *Store) RunStats(ctx context.Context, days int) ([]bson.M, error) {
	if !s.connected {
		return nil, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"start_time": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$dateToString": bson.M{
				"format": "%Y-%m-%d",
				"date":   "$start_time",
			}},
			"runs": bson.M{"$sum": 1},
			"completed": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$status", "completed"}}, 1, 0},
			}},
			"vehicles": bson.M{"$sum": "$vehicles_stored"},
		}}},
		{{Key: "$addFields", Value: bson.M{
			"success_rate": bson.M{"$cond": bson.A{
				bson.M{"$gt": bson.A{"$runs", 0}},
				bson.M{"$divide": bson.A{"$completed", "$runs"}},
				0,
			}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: -1}}}},
	}

	cur, err := s.stats.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate run stats: %w", err)
	}
	defer cur.Close(ctx)

	var out []bson.M
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode run stats: %w", err)
	}
	return out, nil
}

// CollectionStats summarizes the vehicle collection: document count,
// distinct brands, and the most recently ingested documents.
func (s *Store) CollectionStats(ctx context.Context) (bson.M, error) {
	if !s.connected {
		return bson.M{"status": StatusSkipped}, nil
	}

	count, err := s.vehicles.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count vehicles: %w", err)
	}

	brands, err := s.vehicles.Distinct(ctx, "brand", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "ingested_at", Value: -1}}).SetLimit(5)
	cur, err := s.vehicles.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent vehicles: %w", err)
	}
	defer cur.Close(ctx)

	var recent []bson.M
	if err := cur.All(ctx, &recent); err != nil {
		return nil, fmt.Errorf("failed to decode recent vehicles: %w", err)
	}

	return bson.M{
		"status":      StatusOK,
		"total":       count,
		"brands":      brands,
		"recent":      recent,
		"brand_count": len(brands),
	}, nil
}

// Close disconnects from the store.
func (s *Store) Close(ctx context.Context) error {
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.client.Disconnect(ctx)
}
