package app

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/agrovision/cropscan/internal/forum"
	"github.com/agrovision/cropscan/internal/identify"
	"github.com/agrovision/cropscan/internal/infra/backend"
	"github.com/agrovision/cropscan/internal/infra/config"
	"github.com/agrovision/cropscan/internal/infra/queue"
	blobstore "github.com/agrovision/cropscan/internal/infra/store/blob"
	taskstore "github.com/agrovision/cropscan/internal/infra/store/task"
	"github.com/agrovision/cropscan/internal/knowledge"
	"github.com/agrovision/cropscan/internal/session"

	"github.com/redis/go-redis/v9"
)

type dependencyInjector struct {
	cfgPath string

	cfg    *config.Config
	logger *slog.Logger

	client *backend.Client
	store  *session.Store
	state  session.State
	sess   *session.Session

	redis *redis.Client

	blob  identify.BlobStore
	tasks identify.TaskStore
	queue identify.TaskQueue
	owner *identify.CachingResolver

	identify  *identify.Service
	knowledge *knowledge.Service
	forum     *forum.Service
}

func newDI(cfgPath string) *dependencyInjector {
	return &dependencyInjector{cfgPath: cfgPath}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(di.cfgPath)
	}
	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		level := slog.LevelInfo
		if di.Config().LogLevel == "debug" {
			level = slog.LevelDebug
		}
		di.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) Backend() *backend.Client {
	if di.client == nil {
		cfg := di.Config().Backend
		di.client = backend.New(backend.Config{
			URL:     cfg.URL,
			AnonKey: cfg.AnonKey,
			Timeout: cfg.Timeout,
		})
	}
	return di.client
}

func (di *dependencyInjector) SessionStore() *session.Store {
	if di.store == nil {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		di.store = session.NewStore(filepath.Join(dir, "cropscan", "session.json"))
	}
	return di.store
}

func (di *dependencyInjector) Session() *session.Session {
	if di.sess == nil {
		state, err := di.SessionStore().Load()
		if err != nil && err != session.ErrNoSession {
			di.Logger().Warn("load session", slog.String("error", err.Error()))
		}
		di.state = state

		client := di.Backend()
		di.sess = session.New(state.Pair(), state.Identity, client.RefreshToken)
		di.sess.OnExpired(func() {
			if err := di.SessionStore().Clear(); err != nil {
				slog.Warn("clear session store", slog.String("error", err.Error()))
			}
		})
		client.SetTokenSource(di.sess.AccessToken)
	}
	return di.sess
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping: %+v", err)
		}
		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) BlobStore(ctx context.Context) identify.BlobStore {
	if di.blob == nil {
		cfg := di.Config()
		if cfg.Mode == config.ModeSelfhost {
			store, err := blobstore.NewMinIOStore(ctx, blobstore.MinIOConfig{
				Endpoint:        cfg.MinIO.Endpoint,
				AccessKeyID:     cfg.MinIO.AccessKeyID,
				SecretAccessKey: cfg.MinIO.SecretAccessKey,
				UseSSL:          cfg.MinIO.UseSSL,
				Bucket:          cfg.MinIO.Bucket,
				PublicBaseURL:   cfg.MinIO.PublicBaseURL,
			})
			if err != nil {
				log.Fatalf("BlobStore minio: %+v", err)
			}
			di.blob = store
			di.Logger().Info("using MinIO blob store",
				slog.String("endpoint", cfg.MinIO.Endpoint),
				slog.String("bucket", cfg.MinIO.Bucket),
			)
		} else {
			di.blob = blobstore.NewHostedStore(di.Backend(), cfg.Identify.Bucket)
		}
	}
	return di.blob
}

func (di *dependencyInjector) TaskStore(ctx context.Context) identify.TaskStore {
	if di.tasks == nil {
		if di.Config().Mode == config.ModeSelfhost {
			di.tasks = taskstore.NewRedisStore(di.RedisClient(ctx))
		} else {
			di.tasks = taskstore.NewRESTStore(di.Backend())
		}
	}
	return di.tasks
}

func (di *dependencyInjector) TaskQueue(ctx context.Context) identify.TaskQueue {
	if di.queue == nil {
		cfg := di.Config()
		if cfg.Mode == config.ModeSelfhost {
			q, err := queue.NewNATSQueue(queue.Config{
				URL:           cfg.NATS.URL,
				Name:          cfg.NATS.QueueName,
				Subject:       cfg.NATS.Subject,
				MaxReconnects: cfg.NATS.MaxReconnects,
			})
			if err != nil {
				log.Fatalf("TaskQueue nats: %+v", err)
			}
			di.queue = q
		} else {
			di.queue = queue.Webhook{}
		}
	}
	return di.queue
}

func (di *dependencyInjector) OwnerResolver() *identify.CachingResolver {
	if di.owner == nil {
		sess := di.Session()

		if di.Config().Mode == config.ModeSelfhost {
			// Self-hosted deployments use the auth id directly.
			di.owner = identify.NewCachingResolver("", func(ctx context.Context) (string, error) {
				return sess.Identity().UserID, nil
			}, nil)
			return di.owner
		}

		client := di.Backend()
		di.owner = identify.NewCachingResolver(
			di.state.OwnerID,
			func(ctx context.Context) (string, error) {
				var ownerID string
				err := sess.Do(ctx, "resolve owner", func(ctx context.Context) error {
					var rerr error
					id := sess.Identity()
					ownerID, rerr = client.ResolveOwner(ctx, id.UserID, id.Name)
					return rerr
				})
				return ownerID, err
			},
			func(ownerID string) {
				di.persistSession(ownerID)
			},
		)
	}
	return di.owner
}

// persistSession writes the current tokens and owner cache back to disk.
func (di *dependencyInjector) persistSession(ownerID string) {
	sess := di.Session()
	if !sess.LoggedIn() {
		return
	}

	pair := sess.Tokens()
	state := session.State{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Identity:     sess.Identity(),
		OwnerID:      ownerID,
	}
	if ownerID == "" {
		state.OwnerID = di.state.OwnerID
	}

	if err := di.SessionStore().Save(state); err != nil {
		slog.Warn("persist session", slog.String("error", err.Error()))
	} else {
		di.state = state
	}
}

func (di *dependencyInjector) IdentifyService(ctx context.Context) *identify.Service {
	if di.identify == nil {
		cfg := di.Config().Identify
		di.identify = identify.NewService(
			di.Session(),
			di.BlobStore(ctx),
			di.TaskStore(ctx),
			di.TaskQueue(ctx),
			di.OwnerResolver(),
			cfg.MaxImageDim,
			cfg.PollInterval,
		)
	}
	return di.identify
}

func (di *dependencyInjector) KnowledgeService() *knowledge.Service {
	if di.knowledge == nil {
		di.knowledge = knowledge.NewService(di.Backend(), di.Session(), di.OwnerResolver())
	}
	return di.knowledge
}

func (di *dependencyInjector) ForumService() *forum.Service {
	if di.forum == nil {
		di.forum = forum.NewService(di.Backend(), di.Session(), di.OwnerResolver())
	}
	return di.forum
}
