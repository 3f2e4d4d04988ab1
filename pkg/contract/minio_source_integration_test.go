//go:build integration

package contract_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3ekko/ekko-bridge/pkg/contract"
	"github.com/web3ekko/ekko-bridge/pkg/testutils"
)

func minioTestConfig(t *testing.T, env *testutils.Env) contract.MinioConfig {
	t.Helper()
	return contract.MinioConfig{
		Endpoint:   env.Minio.Endpoint,
		AccessKey:  env.Minio.AccessKey,
		SecretKey:  env.Minio.SecretKey,
		BucketName: testutils.BucketName(t.Name()),
		BasePath:   "contracts",
	}
}

func TestMinioSource_StoreAndLoad(t *testing.T) {
	ctx := context.Background()
	env, err := testutils.GetTestEnvironment(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile("testdata/rantai_suplai.json")
	require.NoError(t, err)

	cfg := minioTestConfig(t, env)
	src, err := contract.NewMinioSource(cfg, "/rantai_suplai.json")
	require.NoError(t, err)
	assert.Equal(t, "minio:"+cfg.BucketName+"/contracts/rantai_suplai.json", src.String())

	// the bucket does not exist yet and is created by Store
	require.NoError(t, src.Store(ctx, data))

	got, err := src.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	s, err := contract.Load(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "rantai_suplai", s.Name())
	m, err := s.Message("get_product_status")
	require.NoError(t, err)
	assert.Equal(t, "0x6d1b5a8e", m.SelectorHex())

	// the object lives under the base path
	client, err := minio.New(cfg.Endpoint, &minio.Options{Creds: credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")})
	require.NoError(t, err)
	info, err := client.StatObject(ctx, cfg.BucketName, "contracts/rantai_suplai.json", minio.StatObjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "application/json", info.ContentType)

	// a second store overwrites in the existing bucket
	require.NoError(t, src.Store(ctx, data))
}

func TestMinioSource_MissingObject(t *testing.T) {
	ctx := context.Background()
	env, err := testutils.GetTestEnvironment(ctx)
	require.NoError(t, err)

	cfg := minioTestConfig(t, env)
	seed, err := contract.NewMinioSource(cfg, "present.json")
	require.NoError(t, err)
	data, err := os.ReadFile("testdata/rantai_suplai.json")
	require.NoError(t, err)
	require.NoError(t, seed.Store(ctx, data))

	src, err := contract.NewMinioSource(cfg, "absent.json")
	require.NoError(t, err)

	_, err = src.Fetch(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contracts/absent.json")
	var resp minio.ErrorResponse
	require.True(t, errors.As(err, &resp), err.Error())
	assert.Equal(t, "NoSuchKey", resp.Code)

	_, err = contract.Load(ctx, src)
	assert.ErrorIs(t, err, contract.ErrSchema)
}

func TestMinioSource_StoreRejectsInvalidMetadata(t *testing.T) {
	ctx := context.Background()
	env, err := testutils.GetTestEnvironment(ctx)
	require.NoError(t, err)

	cfg := minioTestConfig(t, env)
	src, err := contract.NewMinioSource(cfg, "broken.json")
	require.NoError(t, err)

	err = src.Store(ctx, []byte(`{"spec": 1}`))
	assert.ErrorIs(t, err, contract.ErrSchema)

	_, err = src.Fetch(ctx)
	assert.Error(t, err, "nothing was uploaded")
}
