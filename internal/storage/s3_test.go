package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-etl/internal/domain"
)

// fakeS3 is an in-memory bucket store.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]string // "bucket/key" -> body
	putFails int               // number of PutObject calls to fail before succeeding
	puts     int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]string{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putFails > 0 {
		f.putFails--
		return nil, errors.New("503 slow down")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Prefix)
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			key := strings.TrimPrefix(k, aws.ToString(in.Bucket)+"/")
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestS3Publisher_Overwrite(t *testing.T) {
	fake := newFakeS3()
	fake.objects["lake/out/immigration/year=2016/month=4/part-old.parquet"] = "old"
	fake.objects["lake/out/immigration/year=2016/month=5/part-keep.parquet"] = "keep"
	fake.objects["lake/out/immigration/_SUCCESS"] = ""

	staged := t.TempDir()
	writeFile(t, filepath.Join(staged, "year=2016", "month=4", "part-new.parquet"), "new")

	p := newS3Publisher(fake, slog.New(slog.DiscardHandler))
	err := p.Publish(context.Background(), staged, "s3://lake/out/immigration",
		[]string{"year=2016/month=4"}, domain.ModeOverwrite)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"lake/out/immigration/_SUCCESS",
		"lake/out/immigration/year=2016/month=4/part-new.parquet",
		"lake/out/immigration/year=2016/month=5/part-keep.parquet",
	}, fake.keys())
	assert.Equal(t, "new", fake.objects["lake/out/immigration/year=2016/month=4/part-new.parquet"])
}

func TestS3Publisher_OverwriteUnpartitioned(t *testing.T) {
	fake := newFakeS3()
	fake.objects["lake/out/states/part-old.parquet"] = "old"

	staged := t.TempDir()
	writeFile(t, filepath.Join(staged, "part-new.parquet"), "new")

	p := newS3Publisher(fake, slog.New(slog.DiscardHandler))
	require.NoError(t, p.Publish(context.Background(), staged, "s3://lake/out/states", []string{""}, domain.ModeOverwrite))

	assert.Equal(t, []string{"lake/out/states/_SUCCESS", "lake/out/states/part-new.parquet"}, fake.keys())
}

func TestS3Publisher_Append(t *testing.T) {
	fake := newFakeS3()
	fake.objects["lake/songplays/year=2018/month=11/part-1.parquet"] = "1"

	staged := t.TempDir()
	writeFile(t, filepath.Join(staged, "year=2018", "month=11", "part-2.parquet"), "2")

	p := newS3Publisher(fake, slog.New(slog.DiscardHandler))
	require.NoError(t, p.Publish(context.Background(), staged, "s3://lake/songplays",
		[]string{"year=2018/month=11"}, domain.ModeAppend))

	assert.Equal(t, []string{
		"lake/songplays/_SUCCESS",
		"lake/songplays/year=2018/month=11/part-1.parquet",
		"lake/songplays/year=2018/month=11/part-2.parquet",
	}, fake.keys())
}

func TestS3Publisher_RetriesTransientFailures(t *testing.T) {
	fake := newFakeS3()
	fake.putFails = 2

	staged := t.TempDir()
	writeFile(t, filepath.Join(staged, "part-1.parquet"), "1")

	p := newS3Publisher(fake, slog.New(slog.DiscardHandler))
	require.NoError(t, p.Publish(context.Background(), staged, "s3://lake/airports", []string{""}, domain.ModeOverwrite))
	assert.Equal(t, 4, fake.puts, "two failed attempts, the file and the marker")
}

func TestS3Publisher_GivesUp(t *testing.T) {
	fake := newFakeS3()
	fake.putFails = 100

	staged := t.TempDir()
	writeFile(t, filepath.Join(staged, "part-1.parquet"), "1")

	p := newS3Publisher(fake, slog.New(slog.DiscardHandler))
	p.maxRetries = 2
	err := p.Publish(context.Background(), staged, "s3://lake/airports", []string{""}, domain.ModeOverwrite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{name: "standard", input: "s3://my-bucket/out/states", wantBucket: "my-bucket", wantKey: "out/states"},
		{name: "trailing_slash", input: "s3://b/out/states/", wantBucket: "b", wantKey: "out/states"},
		{name: "escaped_value_kept", input: "s3://b/t/ts=08%3A30", wantBucket: "b", wantKey: "t/ts=08%3A30"},
		{name: "wrong_scheme", input: "https://bucket/key", wantErr: true},
		{name: "empty_key", input: "s3://bucket/", wantErr: true},
		{name: "empty_bucket", input: "s3:///key", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := ParseS3Path(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}
