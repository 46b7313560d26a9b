package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	body []byte
	err  error
	key  string
}

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.key = *in.Key
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func TestFetchR2Object(t *testing.T) {
	g := &fakeGetter{body: []byte("version: r2\n")}
	data, err := FetchR2Object(context.Background(), g, "bucket", "config/rewards.yaml")
	require.NoError(t, err)
	assert.Equal(t, "version: r2\n", string(data))
	assert.Equal(t, "config/rewards.yaml", g.key)
}

func TestFetchR2ObjectErrors(t *testing.T) {
	_, err := FetchR2Object(context.Background(), &fakeGetter{err: errors.New("no such key")}, "b", "k")
	assert.ErrorContains(t, err, "no such key")

	big := &fakeGetter{body: bytes.Repeat([]byte("x"), maxConfigObjectBytes+10)}
	_, err = FetchR2Object(context.Background(), big, "b", "k")
	assert.ErrorContains(t, err, "exceeds")
}
