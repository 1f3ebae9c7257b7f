package bazaarreport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, input *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.StringValue(input.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2WithContext(_ aws.Context, input *s3.ListObjectsV2Input, _ ...request.Option) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.StringValue(input.Prefix)) {
			out.Contents = append(out.Contents, &s3.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, input *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.StringValue(input.Key)]
	if !ok {
		return nil, errors.New("no such key")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

type snapshot struct {
	Connections int `json:"connections"`
}

func newReporter(api s3iface.S3API, bucket, outFile string, connections *int, now *time.Time) *Reporter {
	r := NewReporter(bazaarcli.NewService("bazaar-ws"), "registry", api, func(context.Context) (interface{}, error) {
		return snapshot{Connections: *connections}, nil
	}).WithLogger(zerolog.Nop())
	r.bucket = bucket
	r.outFile = outFile
	r.now = func() time.Time { return *now }
	return r
}

func TestReportKey(t *testing.T) {
	ts := time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)
	assert.Equal(t, "bazaar-ws/registry/2024-05-01/13/2024-05-01-13:04:05.json", ReportKey("bazaar-ws", "registry", ts))
}

func TestReporter(t *testing.T) {
	t.Run("s3", func(t *testing.T) {
		api := &fakeS3{objects: map[string][]byte{}}
		connections := 3
		now := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
		r := newReporter(api, "reports", "", &connections, &now)

		assert.Nil(t, r.Write(context.Background()))
		now = now.Add(time.Minute)
		connections = 7
		assert.Nil(t, r.Write(context.Background()))
		assert.Len(t, api.objects, 2)

		var latest snapshot
		key, err := Latest(context.Background(), api, "reports", "bazaar-ws", "registry", now, &latest)
		assert.Nil(t, err)
		assert.Equal(t, "bazaar-ws/registry/2024-05-01/13/2024-05-01-13:01:00.json", key)
		assert.Equal(t, 7, latest.Connections)
	})

	t.Run("latest looks back across days", func(t *testing.T) {
		api := &fakeS3{objects: map[string][]byte{
			"bazaar-ws/registry/2024-04-29/23/2024-04-29-23:59:00.json": []byte(`{"connections":2}`),
		}}
		var latest snapshot
		_, err := Latest(context.Background(), api, "reports", "bazaar-ws", "registry", time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC), &latest)
		assert.Nil(t, err)
		assert.Equal(t, 2, latest.Connections)

		_, err = Latest(context.Background(), api, "reports", "bazaar-ws", "registry", time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC), &latest)
		assert.NotNil(t, err)
	})

	t.Run("no bucket writes locally", func(t *testing.T) {
		connections := 1
		now := time.Now()
		outFile := filepath.Join(t.TempDir(), "snapshots", "registry.json")
		r := newReporter(nil, "", outFile, &connections, &now)

		assert.Nil(t, r.Write(context.Background()))
		data, err := os.ReadFile(outFile)
		assert.Nil(t, err)
		assert.JSONEq(t, `{"connections":1}`, string(data))
	})

	t.Run("stdout", func(t *testing.T) {
		connections := 4
		now := time.Now()
		r := newReporter(nil, "", "", &connections, &now)
		var buf bytes.Buffer
		r.stdout = &buf

		assert.Nil(t, r.Write(context.Background()))
		assert.JSONEq(t, `{"connections":4}`, buf.String())
	})

	t.Run("generate error", func(t *testing.T) {
		r := NewReporter(bazaarcli.NewService("bazaar-ws"), "registry", nil, func(context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
		assert.EqualError(t, r.Write(context.Background()), "generating registry report: boom")
	})
}
