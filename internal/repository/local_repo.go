package repository

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
)

type localEntry struct {
	Key       string     `bson:"_id"`
	Value     string     `bson:"value"`
	UpdatedAt time.Time  `bson:"updatedAt"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
	Version   int64      `bson:"version"`
}

// maxUpdateAttempts bounds optimistic retries on a contended key.
const maxUpdateAttempts = 16

func (e localEntry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// writeDoc sets value and expiry and bumps the version so in-flight
// Updates of the same key notice the write.
func writeDoc(value string, ttl time.Duration, now time.Time) bson.M {
	doc := bson.M{
		"$set": bson.M{"value": value, "updatedAt": now},
		"$inc": bson.M{"version": 1},
	}
	if ttl > 0 {
		doc["$set"].(bson.M)["expiresAt"] = now.Add(ttl)
	} else {
		doc["$unset"] = bson.M{"expiresAt": ""}
	}
	return doc
}

// LocalRepo is the MongoDB backend for durable local storage.
type LocalRepo struct {
	collection *mongo.Collection
}

var _ storage.KV = (*LocalRepo)(nil)

func NewLocalRepo(db *mongo.Database) *LocalRepo {
	return &LocalRepo{
		collection: db.Collection("client_storage"),
	}
}

// EnsureIndexes creates the TTL index that lets MongoDB reap expired entries.
func (r *LocalRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

func (r *LocalRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var entry localEntry
	err := r.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	// the TTL monitor runs once a minute, so expired entries can still be read
	if entry.expired(time.Now()) {
		return "", false, nil
	}
	return entry.Value, true, nil
}

func (r *LocalRepo) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": key}, writeDoc(value, ttl, time.Now()), options.Update().SetUpsert(true))
	return err
}

// Update is optimistic: the write only lands if the version read is still
// current, otherwise fn runs again on the fresh value. A missing key is
// created with InsertOne, which loses to a concurrent insert by a
// duplicate-key error.
func (r *LocalRepo) Update(ctx context.Context, key string, ttl time.Duration, fn storage.UpdateFunc) error {
	for i := 0; i < maxUpdateAttempts; i++ {
		var entry localEntry
		err := r.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
		exists := err == nil
		if err != nil && err != mongo.ErrNoDocuments {
			return err
		}

		now := time.Now()
		current, found := entry.Value, exists && !entry.expired(now)
		if !found {
			current = ""
		}
		next, err := fn(current, found)
		if err != nil {
			return err
		}

		if !exists {
			fresh := localEntry{Key: key, Value: next, UpdatedAt: now, Version: 1}
			if ttl > 0 {
				exp := now.Add(ttl)
				fresh.ExpiresAt = &exp
			}
			_, err := r.collection.InsertOne(ctx, fresh)
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return err
		}

		filter := bson.M{"_id": key, "version": entry.Version}
		if entry.Version == 0 {
			// written before entries were versioned
			filter["version"] = bson.M{"$in": bson.A{0, nil}}
		}
		res, err := r.collection.UpdateOne(ctx, filter, writeDoc(next, ttl, now))
		if err != nil {
			return err
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}
	return errors.Errorf("mongo: update %s: too much contention", key)
}

func (r *LocalRepo) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": keys}})
	return err
}

func (r *LocalRepo) Keys(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var keys []string
	for cursor.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, doc.Key)
	}
	return keys, cursor.Err()
}
