package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/models"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	data, _ := io.ReadAll(in.Body)
	f.body = string(data)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_Archive(t *testing.T) {
	putter := &fakePutter{}
	a := newS3Archiver(putter, "pages")
	a.now = func() time.Time { return time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC) }

	key, err := a.Archive(context.Background(), "p1", models.SourceFlipkart, "<html></html>")
	require.NoError(t, err)

	assert.Equal(t, "snapshots/p1/flipkart/20261019T060000.000Z.html", key)
	assert.Equal(t, "pages", *putter.input.Bucket)
	assert.Equal(t, key, *putter.input.Key)
	assert.Equal(t, "<html></html>", putter.body)
}

func TestS3Archiver_PropagatesErrors(t *testing.T) {
	a := newS3Archiver(&fakePutter{err: errors.New("denied")}, "pages")
	_, err := a.Archive(context.Background(), "p1", models.SourceAmazon, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}
