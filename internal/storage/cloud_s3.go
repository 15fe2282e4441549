package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"go-file-engine/internal/model"
)

// s3Client maps slash paths onto keys of one bucket. Directories are the
// common prefixes of their children plus an optional "dir/" marker object.
type s3Client struct {
	bucket   string
	api      *s3.Client
	uploader *manager.Uploader
}

func NewS3Client(ctx context.Context, desc model.ResourceDescriptor, cred model.Credential) (ObjectClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if desc.Region != "" {
		opts = append(opts, awsconfig.WithRegion(desc.Region))
	}
	if cred.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cred.AccessKey, cred.SecretKey, cred.AccessToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if desc.Endpoint != "" {
			o.BaseEndpoint = aws.String(desc.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Client{
		bucket:   desc.Bucket,
		api:      api,
		uploader: manager.NewUploader(api),
	}, nil
}

func (c *s3Client) Features() CloudFeatures {
	return CloudFeatures{}
}

func objectKey(key string) string {
	return trimLeadingSlash(CleanPath(key))
}

func prefixKey(key string) string {
	k := objectKey(key)
	if k == "" {
		return ""
	}
	return k + "/"
}

func (c *s3Client) List(ctx context.Context, key string) ([]model.FileEntry, error) {
	prefix := prefixKey(key)
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var entries []model.FileEntry
	found := prefix == ""
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, common := range page.CommonPrefixes {
			found = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(common.Prefix), prefix), "/")
			if name != "" {
				entries = append(entries, model.FileEntry{Name: name, IsDir: true})
			}
		}
		for _, object := range page.Contents {
			found = true
			name := strings.TrimPrefix(aws.ToString(object.Key), prefix)
			if name == "" {
				continue
			}
			entries = append(entries, model.FileEntry{
				Name:    name,
				Size:    aws.ToInt64(object.Size),
				ModTime: aws.ToTime(object.LastModified).UTC(),
				Hash:    strings.Trim(aws.ToString(object.ETag), `"`),
			})
		}
	}

	if !found {
		return nil, &model.OpError{Kind: model.KindNotFound, Op: "list", Path: key, Protocol: model.ProtocolS3}
	}
	return entries, nil
}

func (c *s3Client) Stat(ctx context.Context, key string) (model.FileEntry, error) {
	k := objectKey(key)
	if k == "" {
		return model.FileEntry{Name: "/", IsDir: true}, nil
	}

	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(k)})
	if err == nil {
		return model.FileEntry{
			Name:    BaseName(key),
			Size:    aws.ToInt64(head.ContentLength),
			ModTime: aws.ToTime(head.LastModified).UTC(),
			Hash:    strings.Trim(aws.ToString(head.ETag), `"`),
		}, nil
	}
	if model.KindOf(mapCloudError(model.ProtocolS3, "stat", key, err)) != model.KindNotFound {
		return model.FileEntry{}, err
	}

	out, listErr := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(k + "/"),
		MaxKeys: aws.Int32(1),
	})
	if listErr != nil {
		return model.FileEntry{}, listErr
	}
	if len(out.Contents) == 0 {
		return model.FileEntry{}, err
	}
	return model.FileEntry{Name: BaseName(key), IsDir: true}, nil
}

func (c *s3Client) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(objectKey(key))})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (c *s3Client) Upload(ctx context.Context, key string, r io.Reader, _ int64) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(key)),
		Body:   r,
	})
	return err
}

// Delete removes the object or, for a directory, every key beneath it.
// Buckets have no trash so permanent is ignored.
func (c *s3Client) Delete(ctx context.Context, key string, _ bool) error {
	entry, err := c.Stat(ctx, key)
	if err != nil {
		return err
	}
	if !entry.IsDir {
		_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(objectKey(key))})
		return err
	}

	return c.eachKey(ctx, prefixKey(key), func(keys []string) error {
		objects := make([]types.ObjectIdentifier, 0, len(keys))
		for _, k := range keys {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
		return nil
	})
}

// Move is a server-side copy followed by a delete, per object.
func (c *s3Client) Move(ctx context.Context, from string, to string) error {
	entry, err := c.Stat(ctx, from)
	if err != nil {
		return err
	}
	if !entry.IsDir {
		return c.moveObject(ctx, objectKey(from), objectKey(to))
	}

	fromPrefix, toPrefix := prefixKey(from), prefixKey(to)
	return c.eachKey(ctx, fromPrefix, func(keys []string) error {
		for _, k := range keys {
			if err := c.moveObject(ctx, k, toPrefix+strings.TrimPrefix(k, fromPrefix)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *s3Client) moveObject(ctx context.Context, from string, to string) error {
	_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(copySource(c.bucket, from)),
	})
	if err != nil {
		return err
	}
	_, err = c.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(from)})
	return err
}

func (c *s3Client) Mkdir(ctx context.Context, key string) error {
	k := prefixKey(key)
	if k == "" {
		return nil
	}
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(k),
		Body:   strings.NewReader(""),
	})
	return err
}

func (c *s3Client) Quota(context.Context) (int64, error) {
	return model.SizeUnknown, nil
}

func (c *s3Client) eachKey(ctx context.Context, prefix string, fn func(keys []string) error) error {
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(page.Contents))
		for _, object := range page.Contents {
			keys = append(keys, aws.ToString(object.Key))
		}
		if len(keys) == 0 {
			continue
		}
		if err := fn(keys); err != nil {
			return err
		}
	}
	return nil
}

func copySource(bucket string, key string) string {
	return bucket + "/" + escapeSegments(key)
}
