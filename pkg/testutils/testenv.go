// Package testutils provides container-backed Redis, NATS and MinIO instances for integration tests.
package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Env holds clients connected to the shared containers.
type Env struct {
	Redis     *redis.Client
	NATS      *nats.Conn
	JetStream nats.JetStreamContext
	Minio     MinioEnv
}

// MinioEnv locates the MinIO container. Buckets are not cleared between tests.
type MinioEnv struct {
	Endpoint  string
	AccessKey string
	SecretKey string
}

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

var (
	once    sync.Once
	env     *Env
	initErr error

	globalCleanup func()
)

// GetTestEnvironment starts Redis, NATS and MinIO on first use and returns the shared clients.
// Redis is flushed on every call so tests start from an empty keyspace.
func GetTestEnvironment(ctx context.Context) (*Env, error) {
	once.Do(func() {
		env, initErr = setupGlobalTestEnvironment(ctx)
	})
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize test environment: %w", initErr)
	}

	if err := env.Redis.FlushAll(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to flush Redis: %w", err)
	}
	return env, nil
}

// CleanupTestEnvironment should be called from TestMain after all tests
func CleanupTestEnvironment() {
	if globalCleanup != nil {
		globalCleanup()
	}
}

func setupGlobalTestEnvironment(ctx context.Context) (*Env, error) {
	redisC, err := tcRedis.Run(ctx, "redis:7")
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis: %w", err)
	}

	redisURL, err := redisC.ConnectionString(ctx)
	if err != nil {
		_ = redisC.Terminate(ctx)
		return nil, err
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		_ = redisC.Terminate(ctx)
		return nil, err
	}
	rc := redis.NewClient(opt)
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = redisC.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	natsC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"-js", "-sd", "/data/jetstream"},
			Tmpfs:        map[string]string{"/data/jetstream": "rw"},
			WaitingFor:   wait.ForLog("Listening for client connections").WithStartupTimeout(10 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		_ = rc.Close()
		_ = redisC.Terminate(ctx)
		return nil, fmt.Errorf("failed to start NATS: %w", err)
	}

	natsURL, err := NATSURL(ctx, natsC)
	if err != nil {
		return nil, err
	}
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	minioC, endpoint, err := startMinio(ctx)
	if err != nil {
		nc.Close()
		_ = rc.Close()
		_ = natsC.Terminate(ctx)
		_ = redisC.Terminate(ctx)
		return nil, err
	}

	globalCleanup = func() {
		ctx := context.Background()
		nc.Close()
		_ = rc.Close()
		_ = minioC.Terminate(ctx)
		_ = natsC.Terminate(ctx)
		_ = redisC.Terminate(ctx)
	}

	return &Env{
		Redis:     rc,
		NATS:      nc,
		JetStream: js,
		Minio:     MinioEnv{Endpoint: endpoint, AccessKey: minioUser, SecretKey: minioPassword},
	}, nil
}

func startMinio(ctx context.Context) (testcontainers.Container, string, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start MinIO: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", err
	}
	port, err := c.MappedPort(ctx, "9000/tcp")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", err
	}
	return c, fmt.Sprintf("%s:%s", host, port.Port()), nil
}

// BucketName derives a bucket name unique to a test. S3 names are lower case and at most
// 63 characters.
func BucketName(testName string) string {
	name := strings.ToLower(StreamName(testName))
	name = strings.ReplaceAll(name, "_", "-")
	return strings.TrimRight(name[:min(len(name), 63)], "-")
}

// NATSURL returns the client URL of a NATS container.
func NATSURL(ctx context.Context, c testcontainers.Container) (string, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := c.MappedPort(ctx, "4222/tcp")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("nats://%s:%s", host, port.Port()), nil
}

// StreamName derives a JetStream stream name unique to a test.
func StreamName(testName string) string {
	name := strings.NewReplacer("/", "_", " ", "_", ".", "_", "*", "_", ">", "_").Replace(testName)
	name = "TEST_" + strings.ToUpper(name)
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
