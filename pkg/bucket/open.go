package bucket

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	errs "github.com/matzehuels/neonfeed/pkg/errors"
)

// Supported backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
)

// Backends lists the names accepted by [Open].
var Backends = []string{BackendMemory, BackendFile, BackendRedis, BackendMongo, BackendSQLite}

// Config selects and configures a backend.
type Config struct {
	Backend string

	Dir string // file

	RedisAddr     string // redis
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	MongoURI      string // mongo
	MongoDatabase string

	SQLitePath string // sqlite
}

// Open connects to the configured backend. Network backends are pinged so
// that a bad address fails here rather than on first use.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil

	case BackendFile:
		return NewFileStore(cfg.Dir)

	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, errs.New(errs.ErrCodeInvalidConfig, "redis backend requires an address")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(client, cfg.RedisPrefix), nil

	case BackendMongo:
		if cfg.MongoURI == "" {
			return nil, errs.New(errs.ErrCodeInvalidConfig, "mongo backend requires a URI")
		}
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			client.Disconnect(context.Background())
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		store, err := NewMongoStore(ctx, client, cfg.MongoDatabase)
		if err != nil {
			client.Disconnect(context.Background())
			return nil, err
		}
		return store, nil

	case BackendSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath)

	default:
		return nil, errs.New(errs.ErrCodeUnsupported, "unknown bucket backend %q (want one of %v)", cfg.Backend, Backends)
	}
}
