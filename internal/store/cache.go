// Package store implements the bounded read-through cache backing the
// historical getTransactionsByAddress query (spec.md §6). The engine core
// itself holds no on-disk state (spec.md §1 Non-goals); this package is
// the explicitly out-of-core persistence layer the Facade consults.
//
// Grounded on the teacher's internal/repository/db (bson filter / cursor
// idiom) repurposed from an account/tx-flow analytics store to a plain
// query-result cache, fronted by an allegro/bigcache in-memory layer the
// way the teacher's go.mod declares but the retrieved files never wire.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/allegro/bigcache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chain-gateway/internal/config"
	"chain-gateway/internal/logger"
	"chain-gateway/internal/types"
)

// coHistory is the Mongo collection name backing the read-through cache
// when store.mongo_uri is configured.
const coHistory = "tx_history"

// fiHistoryPk is the primary key field of a tx_history document: the
// query key returned by TxQueryKey.
const fiHistoryPk = "_id"

// fiHistoryTxs is the field holding the cached, JSON-encoded tx slice.
const fiHistoryTxs = "txs"

// historyDoc is the bson shape of one cached query result.
type historyDoc struct {
	Key string `bson:"_id"`
	Txs []byte `bson:"txs"`
}

// Cache is the historical-query read-through cache: bigcache in front,
// an optional Mongo collection behind for entries worth surviving an
// eviction cycle. Mongo is best-effort — a query miss that also misses
// Mongo (or that runs with no Mongo configured at all) simply falls
// through to a fresh adapter scan, so store.Cache is never a hard
// dependency for correctness.
type Cache struct {
	bc     *bigcache.BigCache
	client *mongo.Client
	col    *mongo.Collection
	log    logger.Logger
}

// New creates a Cache per cfg. MongoURI may be empty, in which case the
// cache runs in-memory only.
func New(cfg config.Store, log logger.Logger) (*Cache, error) {
	bcConf := bigcache.DefaultConfig(10 * time.Minute)
	if cfg.CacheBytes > 0 {
		bcConf.HardMaxCacheSize = cfg.CacheBytes / (1024 * 1024)
	}
	bc, err := bigcache.NewBigCache(bcConf)
	if err != nil {
		return nil, fmt.Errorf("can not create bigcache instance: %w", err)
	}

	c := &Cache{bc: bc, log: log}
	if cfg.MongoURI == "" {
		return c, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("can not connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("can not reach mongo: %w", err)
	}

	dbName := cfg.MongoDB
	if dbName == "" {
		dbName = "chaingateway"
	}
	c.client = client
	c.col = client.Database(dbName).Collection(coHistory)
	log.Noticef("history cache backed by mongo database %s", dbName)
	return c, nil
}

// TxQueryKey builds the cache key for one getTransactionsByAddress query.
// Chain name is part of the key since one process serves exactly one
// backend but the key format is shared code.
func TxQueryKey(chain, address string, fromBlock, toBlock *uint64, token *string) string {
	key := fmt.Sprintf("%s:%s:%d:%d", chain, address, derefU64(fromBlock), derefU64(toBlock))
	if token != nil {
		key += ":" + *token
	}
	return key
}

func derefU64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

// GetTxs returns the cached result for key, checking the in-memory layer
// first and falling through to Mongo (if configured) on a miss, back-
// filling bigcache when Mongo has it.
func (c *Cache) GetTxs(key string) ([]types.NormalizedTx, bool) {
	if raw, err := c.bc.Get(key); err == nil {
		var txs []types.NormalizedTx
		if jsonErr := json.Unmarshal(raw, &txs); jsonErr == nil {
			return txs, true
		}
	}

	if c.col == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var doc historyDoc
	err := c.col.FindOne(ctx, bson.D{{fiHistoryPk, key}}).Decode(&doc)
	if err != nil {
		if err != mongo.ErrNoDocuments {
			c.log.Warningf("history cache mongo lookup failed for %s: %s", key, err.Error())
		}
		return nil, false
	}

	var txs []types.NormalizedTx
	if err := json.Unmarshal(doc.Txs, &txs); err != nil {
		c.log.Warningf("history cache decode failed for %s: %s", key, err.Error())
		return nil, false
	}

	if setErr := c.bc.Set(key, doc.Txs); setErr != nil {
		c.log.Warningf("history cache backfill failed for %s: %s", key, setErr.Error())
	}
	return txs, true
}

// SetTxs stores the result for key into the in-memory layer and, when
// Mongo is configured, upserts it there too.
func (c *Cache) SetTxs(key string, txs []types.NormalizedTx) {
	raw, err := json.Marshal(txs)
	if err != nil {
		c.log.Warningf("history cache encode failed for %s: %s", key, err.Error())
		return
	}

	if err := c.bc.Set(key, raw); err != nil {
		c.log.Warningf("history cache set failed for %s: %s", key, err.Error())
	}

	if c.col == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = c.col.UpdateOne(ctx,
		bson.D{{fiHistoryPk, key}},
		bson.D{{"$set", bson.D{{fiHistoryPk, key}, {fiHistoryTxs, raw}}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.log.Warningf("history cache mongo upsert failed for %s: %s", key, err.Error())
	}
}

// Close releases the in-memory cache and any Mongo client resources.
func (c *Cache) Close() {
	if c.bc != nil {
		_ = c.bc.Close()
	}
	if c.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.client.Disconnect(ctx)
	}
}
