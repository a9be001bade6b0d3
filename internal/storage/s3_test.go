//go:build integration

package storage

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/cloo-solutions/docuchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(ctx context.Context, t *testing.T) *S3Client {
	rc := testutil.NewRustFSContainer(ctx, t)
	t.Cleanup(func() { _ = rc.Terminate(ctx) })

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        rc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "docuchat-test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))
	return client
}

func TestS3Client_UploadFetchDelete(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(ctx, t)

	uploadURL, err := client.GenerateUploadURL(ctx, "uploads/guide.txt", "text/plain")
	require.NoError(t, err)
	require.NotEmpty(t, uploadURL)

	body := []byte("The pipeline fetches uploads before extraction.")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Less(t, resp.StatusCode, 300, "presigned upload should succeed")

	fetched, err := client.FetchObject(ctx, "uploads/guide.txt")
	require.NoError(t, err)
	assert.Equal(t, body, fetched)

	require.NoError(t, client.DeleteObject(ctx, "uploads/guide.txt"))

	_, err = client.FetchObject(ctx, "uploads/guide.txt")
	assert.Error(t, err, "fetching a deleted object should fail")
}

func TestS3Client_FetchObject_Missing(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(ctx, t)

	_, err := client.FetchObject(ctx, "uploads/never-uploaded.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never-uploaded.pdf")
}

func TestS3Client_EnsureBucket_Idempotent(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(ctx, t)

	require.NoError(t, client.EnsureBucket(ctx))
}
