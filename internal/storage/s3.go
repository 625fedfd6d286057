package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3 serves objects from an S3 compatible bucket (e.g. Cloudflare R2).
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey":
		return true
	}
	return false
}

func (s *S3) List(ctx context.Context, dir string) ([]string, error) {
	prefix := s.objectKey(dir) + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    &s.bucket,
		Prefix:    &prefix,
		Delimiter: aws.String("/"),
	})
	ret := make([]string, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			ret = append(ret, name)
		}
	}
	return ret, nil
}

func (s *S3) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	res, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, err
	}
	return &ObjectInfo{
		Key:     key,
		Size:    aws.ToInt64(res.ContentLength),
		ModTime: aws.ToTime(res.LastModified),
	}, nil
}

type tempObject struct {
	*os.File
	info ObjectInfo
}

func (o *tempObject) Info() ObjectInfo {
	return o.info
}

func (o *tempObject) Close() error {
	err := o.File.Close()
	if rmErr := os.Remove(o.File.Name()); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// Open downloads the object into a temporary file which is removed on Close.
func (s *S3) Open(ctx context.Context, key string) (Object, error) {
	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, err
	}
	defer res.Body.Close()

	tmp, err := os.CreateTemp("", "release-object-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	obj := &tempObject{File: tmp}
	n, err := io.Copy(tmp, res.Body)
	if err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	obj.info = ObjectInfo{
		Key:     key,
		Size:    n,
		ModTime: aws.ToTime(res.LastModified),
	}
	return obj, nil
}

func (s *S3) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(s.objectKey(key)),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err := s.client.PutObject(ctx, input)
	return err
}
