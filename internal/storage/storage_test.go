package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ReleasesDir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ReleasesDir, "foo-1.0.0.zip"), []byte("zip"), 0o644))

	ctx := context.Background()
	s := NewFileSystem(root)

	names, err := s.List(ctx, ReleasesDir)
	require.NoError(t, err)
	require.Equal(t, []string{"foo-1.0.0.zip"}, names)

	names, err = s.List(ctx, AssetsDir)
	require.NoError(t, err)
	require.Empty(t, names)

	info, err := s.Stat(ctx, Key(ReleasesDir, "foo-1.0.0.zip"))
	require.NoError(t, err)
	require.Equal(t, int64(3), info.Size)

	_, err = s.Stat(ctx, Key(ReleasesDir, "missing.zip"))
	require.ErrorIs(t, err, ErrNotExist)
	_, err = s.Stat(ctx, Key(ReleasesDir, "nested"))
	require.ErrorIs(t, err, ErrNotExist)

	exists, err := Exists(ctx, s, Key(ReleasesDir, "foo-1.0.0.zip"))
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, s.Put(ctx, Key(ReleasesDir, "foo-2.0.0.zip"), strings.NewReader("new zip"), "application/zip"))
	obj, err := s.Open(ctx, Key(ReleasesDir, "foo-2.0.0.zip"))
	require.NoError(t, err)
	defer obj.Close()
	require.Equal(t, int64(7), obj.Info().Size)
	content, err := io.ReadAll(io.NewSectionReader(obj, 0, obj.Info().Size))
	require.NoError(t, err)
	require.Equal(t, "new zip", string(content))

	names, err = s.List(ctx, ReleasesDir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"foo-1.0.0.zip", "foo-2.0.0.zip"}, names)
}

func TestFileSystemStoreListFollowsSymlinks(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ReleasesDir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo-2.0.0.zip"), []byte("zip"), 0o644))
	require.NoError(t, os.Symlink("foo-2.0.0.zip", filepath.Join(dir, "foo.zip")))
	require.NoError(t, os.Symlink("nested", filepath.Join(dir, "dir.zip")))
	require.NoError(t, os.Symlink("missing.zip", filepath.Join(dir, "dangling.zip")))

	names, err := NewFileSystem(root).List(context.Background(), ReleasesDir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"foo-2.0.0.zip", "foo.zip"}, names)
}

func TestFileSystemStoreKeysStayInRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "data")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644))

	s := NewFileSystem(root)
	_, err := s.Stat(context.Background(), "../secret.txt")
	require.ErrorIs(t, err, ErrNotExist)
	_, err = s.Stat(context.Background(), "")
	require.Error(t, err)
}

const listResponse = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>test</Name>
  <Prefix>updates/releases/</Prefix>
  <KeyCount>2</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <Delimiter>/</Delimiter>
  <IsTruncated>false</IsTruncated>
  <Contents>
    <Key>updates/releases/foo-1.0.0.zip</Key>
    <LastModified>2024-05-01T10:00:00.000Z</LastModified>
    <Size>3</Size>
  </Contents>
  <Contents>
    <Key>updates/releases/foo.zip</Key>
    <LastModified>2024-05-02T10:00:00.000Z</LastModified>
    <Size>4</Size>
  </Contents>
</ListBucketResult>`

func createS3Client(t *testing.T, handler http.HandlerFunc) (*s3.Client, func()) {
	ts := httptest.NewServer(handler)
	s3Cfg, err := awsConfig.LoadDefaultConfig(context.TODO(),
		awsConfig.WithRegion("auto"),
		awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               ts.URL,
				HostnameImmutable: true,
			}, nil
		})),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)
	return s3.NewFromConfig(s3Cfg), ts.Close
}

func TestS3Store(t *testing.T) {
	client, closeFn := createS3Client(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/test" && r.URL.Query().Get("list-type") == "2":
			if r.URL.Query().Get("prefix") != "updates/releases/" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			_, _ = io.WriteString(w, listResponse)
		case r.Method == http.MethodHead && r.URL.Path == "/test/updates/releases/foo.zip":
			w.Header().Set("Content-Length", "4")
			w.Header().Set("Last-Modified", "Thu, 02 May 2024 10:00:00 GMT")
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/test/updates/releases/foo.zip":
			w.Header().Set("Last-Modified", "Thu, 02 May 2024 10:00:00 GMT")
			_, _ = io.WriteString(w, "data")
		case r.Method == http.MethodPut && r.URL.Path == "/test/updates/releases/foo-2.0.0.zip":
			body, _ := io.ReadAll(r.Body)
			if string(body) != "zip" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	defer closeFn()

	ctx := context.Background()
	s := NewS3(client, "test", "/updates/")

	names, err := s.List(ctx, ReleasesDir)
	require.NoError(t, err)
	require.Equal(t, []string{"foo-1.0.0.zip", "foo.zip"}, names)

	info, err := s.Stat(ctx, Key(ReleasesDir, "foo.zip"))
	require.NoError(t, err)
	require.Equal(t, int64(4), info.Size)
	require.Equal(t, 2024, info.ModTime.Year())

	_, err = s.Stat(ctx, Key(ReleasesDir, "bar.zip"))
	require.ErrorIs(t, err, ErrNotExist)

	obj, err := s.Open(ctx, Key(ReleasesDir, "foo.zip"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = obj.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "data", string(buf))
	tmpName := obj.(*tempObject).Name()
	require.NoError(t, obj.Close())
	_, err = os.Stat(tmpName)
	require.True(t, os.IsNotExist(err), fmt.Sprintf("temp file %s should be removed", tmpName))

	f, err := os.CreateTemp(t.TempDir(), "upload")
	require.NoError(t, err)
	_, err = f.WriteString("zip")
	require.NoError(t, err)
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, s.Put(ctx, Key(ReleasesDir, "foo-2.0.0.zip"), f, "application/zip"))
}
