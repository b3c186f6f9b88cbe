package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// multipartThreshold is the S3 minimum part size (5 MiB). Bodies above it
// are uploaded in parts.
const multipartThreshold int64 = 5 * 1024 * 1024

// Bucket implements domain.BlobStore over one S3 bucket.
type Bucket struct {
	client   *s3.Client
	bucket   string
	uploader *manager.Uploader
}

// NewBucket creates a Bucket for the client's archive bucket.
func NewBucket(c *Client) *Bucket {
	return &Bucket{
		client: c.s3,
		bucket: c.bucket,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = multipartThreshold
		}),
	}
}

// Exists reports whether an object is stored at path.
func (b *Bucket) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
	return true, nil
}

// Upload stores obj with a SHA-256 checksum and its record count as
// metadata.
func (b *Bucket) Upload(ctx context.Context, obj domain.BlobObject) error {
	in := &s3.PutObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(obj.Path),
		Body:              bytes.NewReader(obj.Body),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		Metadata:          map[string]string{"records": strconv.Itoa(obj.Records)},
	}
	if obj.ContentType != "" {
		in.ContentType = aws.String(obj.ContentType)
	}

	var err error
	if int64(len(obj.Body)) > multipartThreshold {
		_, err = b.uploader.Upload(ctx, in)
	} else {
		_, err = b.client.PutObject(ctx, in)
	}
	if err != nil {
		return fmt.Errorf("s3blob: upload %s (%d bytes): %w", obj.Path, len(obj.Body), err)
	}
	return nil
}

// isNotFound matches NoSuchKey, the HeadObject NotFound type, and plain 404
// responses from compatible providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.BlobStore = (*Bucket)(nil)
