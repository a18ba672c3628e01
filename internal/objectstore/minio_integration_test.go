package objectstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinioPutGetRemove(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("PAWCONNECT_TEST_MINIO_ENDPOINT"))
	if endpoint == "" {
		t.Skip("PAWCONNECT_TEST_MINIO_ENDPOINT is not set")
	}

	store, err := NewMinio(Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("PAWCONNECT_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("PAWCONNECT_TEST_MINIO_SECRET_KEY"),
		Bucket:    "pawconnect-test",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, store.EnsureBucket(ctx))

	key := NewKey("hello.txt")
	payload := []byte("0123456789")
	require.NoError(t, store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), "text/plain"))

	body, info, err := store.Get(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(body)
	body.Close()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, "text/plain", info.ContentType)

	require.NoError(t, store.Remove(ctx, key))
	require.NoError(t, store.Remove(ctx, key), "removing a missing key is idempotent")

	_, _, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
