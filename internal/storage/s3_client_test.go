package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := NewClient(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestSignedURL(t *testing.T) {
	ctx := context.Background()
	c, err := NewClient(ctx, S3Config{
		Region:     "us-east-1",
		Bucket:     "avatars",
		AccessKey:  "test",
		SecretKey:  "test",
		Endpoint:   "http://localhost:9000",
		PresignTTL: 15 * time.Minute,
	})
	require.NoError(t, err)

	signed, err := c.SignedURL(ctx, "/users/42.png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "http://localhost:9000/avatars/users/42.png?"), signed)
	assert.Contains(t, signed, "X-Amz-Signature=")
	assert.Contains(t, signed, "X-Amz-Expires=900")

	_, err = c.SignedURL(ctx, "")
	assert.Error(t, err)
}

func TestSignedURLPrefersPublicBase(t *testing.T) {
	c, err := NewClient(context.Background(), S3Config{
		Region:     "us-east-1",
		Bucket:     "avatars",
		AccessKey:  "test",
		SecretKey:  "test",
		PublicBase: "https://cdn.studysphere.test/",
	})
	require.NoError(t, err)

	signed, err := c.SignedURL(context.Background(), "users/42.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.studysphere.test/users/42.png", signed)
}
