package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements Store against one S3 bucket, optionally pinned to a
// top-level folder. The folder is prepended on every write and stripped from
// keys surfaced by List/GetMetadata, so callers always see relative keys.
type S3Store struct {
	bucket   string
	folder   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Store creates an S3-backed store. Region and credentials are resolved
// from the environment the same way the rest of the AWS SDK does.
func NewS3Store(ctx context.Context, bucket, folder string) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return NewS3StoreWithClient(client, bucket, folder), nil
}

// NewS3StoreWithClient wraps an existing client; used by tests and by callers
// that share one client across stores.
func NewS3StoreWithClient(client *s3.Client, bucket, folder string) *S3Store {
	return &S3Store{
		bucket:   bucket,
		folder:   folder,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

// OpenRead streams the object body.
func (s *S3Store) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinFolder(s.folder, key)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	return out.Body, nil
}

// Exists reports whether the object is present.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.head(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetMetadata returns the object descriptor without reading the body.
func (s *S3Store) GetMetadata(ctx context.Context, key string) (Object, error) {
	head, err := s.head(ctx, key)
	if err != nil {
		return Object{}, err
	}
	obj := Object{
		Key:          key,
		ETag:         NormalizeETag(aws.ToString(head.ETag)),
		UserMetadata: head.Metadata,
	}
	if head.ContentLength != nil {
		obj.ContentLength = *head.ContentLength
	}
	if head.LastModified != nil {
		obj.LastModified = head.LastModified.UTC()
	}
	return obj, nil
}

func (s *S3Store) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinFolder(s.folder, key)),
	})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, fmt.Errorf("s3 head %s: %w", key, err)
	}
	return out, nil
}

// List enumerates objects under the given prefix, in key order.
func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var objs []Object
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(joinFolder(s.folder, prefix)),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %s: %w", prefix, err)
		}
		for _, c := range page.Contents {
			obj := Object{
				Key:  stripFolder(s.folder, aws.ToString(c.Key)),
				ETag: NormalizeETag(aws.ToString(c.ETag)),
			}
			if c.Size != nil {
				obj.ContentLength = *c.Size
			}
			if c.LastModified != nil {
				obj.LastModified = c.LastModified.UTC()
			}
			objs = append(objs, obj)
		}
	}
	return objs, nil
}

// OpenWrite returns a stream that uploads through manager.Uploader via an
// io.Pipe, so arbitrarily large bodies never buffer in memory. The upload is
// not finalized until Close returns nil.
func (s *S3Store) OpenWrite(ctx context.Context, key string, contentType string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(joinFolder(s.folder, key)),
			Body:        pr,
			ContentType: aws.String(contentType),
		})
		if err != nil {
			// Unblock the writer side if the upload died mid-stream.
			pr.CloseWithError(err)
		}
		w.done <- err
	}()
	return w, nil
}

type s3Writer struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.pw.Write(p) }

// Abort fails the pipe so the in-flight upload errors out instead of
// finalizing a truncated object.
func (w *s3Writer) Abort(err error) {
	w.pw.CloseWithError(err)
	<-w.done
}

func (w *s3Writer) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	if err := <-w.done; err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	return nil
}

// SetMetadata replaces user metadata with a self-copy. The original
// content type is preserved.
func (s *S3Store) SetMetadata(ctx context.Context, key string, meta map[string]string) error {
	head, err := s.head(ctx, key)
	if err != nil {
		return err
	}
	full := joinFolder(s.folder, key)
	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(full),
		CopySource:        aws.String(s.bucket + "/" + full),
		Metadata:          meta,
		MetadataDirective: s3types.MetadataDirectiveReplace,
		ContentType:       head.ContentType,
	})
	if err != nil {
		return fmt.Errorf("s3 set metadata %s: %w", key, err)
	}
	return nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinFolder(s.folder, key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}
