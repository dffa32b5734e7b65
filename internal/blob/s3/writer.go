package s3blob

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// minPartSize is the S3 minimum part size for multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter. Every object it stores carries the
// same user metadata (custody and chain of the bot that wrote it) and a
// SHA-256 checksum verified by the server.
type Writer struct {
	client *s3.Client
	bucket string
	meta   map[string]string
}

// NewWriter creates a Writer over the client's bucket. meta becomes the
// x-amz-meta-* headers of every upload and may be nil.
func NewWriter(c *Client, meta map[string]string) *Writer {
	return &Writer{client: c.s3, bucket: c.bucket, meta: meta}
}

// Put uploads data in a single PutObject request.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := w.client.PutObject(ctx, w.input(key, data, contentType))
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

// PutMultipart uploads data in parts of at least 5 MiB. The content type
// is derived from the key's extension.
func (w *Writer) PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, w.input(key, data, contentTypeFor(key))); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

func (w *Writer) input(key string, data io.Reader, contentType string) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:            aws.String(w.bucket),
		Key:               aws.String(key),
		Body:              data,
		Metadata:          w.meta,
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	return in
}

// contentTypeFor maps the archive extensions to their media types.
func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".jsonl":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
