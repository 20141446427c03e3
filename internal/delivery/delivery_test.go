package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/claimgate/internal/model"
)

func sampleBundle() *model.ExportBundle {
	return &model.ExportBundle{
		Metadata: model.ExportMetadata{ManuscriptID: "ms-1", BundleID: "bnd-0123456789abcdef", ContentHash: "sha256:00"},
		Files: []model.BundleFile{
			{Name: "manuscript.md", ContentType: "text/markdown", Data: []byte("# Title\n")},
			{Name: "metadata.json", ContentType: "application/json", Data: []byte("{}")},
		},
		Archive: []byte("PK"),
	}
}

func TestObjects(t *testing.T) {
	objs := Objects("exports", sampleBundle())
	require.Len(t, objs, 3)
	assert.Equal(t, "exports/ms-1/bnd-0123456789abcdef/manuscript.md", objs[0].Key)
	assert.Equal(t, "exports/ms-1/bnd-0123456789abcdef/bundle.zip", objs[2].Key)
	assert.Equal(t, "application/zip", objs[2].ContentType)
}

func TestDirSink(t *testing.T) {
	dir := t.TempDir()
	loc, err := NewDirSink(dir).Deliver(context.Background(), sampleBundle())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ms-1", "bnd-0123456789abcdef"), loc)

	data, err := os.ReadFile(filepath.Join(loc, "manuscript.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Title\n", string(data))

	data, err = os.ReadFile(filepath.Join(loc, ArchiveName))
	require.NoError(t, err)
	assert.Equal(t, "PK", string(data))

	matches, err := filepath.Glob(filepath.Join(loc, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDirSink_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDirSink(t.TempDir()).Deliver(ctx, sampleBundle())
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeS3 struct {
	keys   []string
	bodies map[string][]byte
	failOn string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if *in.Key == f.failOn {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.bodies == nil {
		f.bodies = map[string][]byte{}
	}
	f.keys = append(f.keys, *in.Key)
	f.bodies[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	client := &fakeS3{}
	loc, err := NewS3SinkWithClient(client, "journal-exports", "claimgate").Deliver(context.Background(), sampleBundle())
	require.NoError(t, err)
	assert.Equal(t, "s3://journal-exports/claimgate/ms-1/bnd-0123456789abcdef/", loc)
	assert.Len(t, client.keys, 3)
	assert.Equal(t, []byte("{}"), client.bodies["claimgate/ms-1/bnd-0123456789abcdef/metadata.json"])
}

func TestS3Sink_PutFailure(t *testing.T) {
	client := &fakeS3{failOn: "ms-1/bnd-0123456789abcdef/bundle.zip"}
	_, err := NewS3SinkWithClient(client, "b", "").Deliver(context.Background(), sampleBundle())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

type bufWriter struct {
	bytes.Buffer
	key    string
	closed map[string][]byte
}

func (w *bufWriter) Close() error {
	w.closed[w.key] = w.Bytes()
	return nil
}

func TestGCSSink(t *testing.T) {
	committed := map[string][]byte{}
	open := func(_ context.Context, bucket, key, _ string) io.WriteCloser {
		assert.Equal(t, "bkt", bucket)
		return &bufWriter{key: key, closed: committed}
	}
	loc, err := NewGCSSinkWithOpener(open, "bkt", "").Deliver(context.Background(), sampleBundle())
	require.NoError(t, err)
	assert.Equal(t, "gs://bkt/ms-1/bnd-0123456789abcdef/", loc)
	assert.Equal(t, []byte("PK"), committed["ms-1/bnd-0123456789abcdef/bundle.zip"])
	assert.Len(t, committed, 3)
}

func TestNew_UnknownSink(t *testing.T) {
	_, err := New(context.Background(), model.DeliveryConfig{Sink: "ftp"})
	assert.Error(t, err)

	s, err := New(context.Background(), model.DeliveryConfig{Sink: "dir", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &DirSink{}, s)

	_, err = New(context.Background(), model.DeliveryConfig{Sink: "s3"})
	assert.Error(t, err)
}
