package blockstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/fschiettecatte/mps-sub006/pkg/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Minio stores compressed block envelopes as objects named
// prefix/<blockID> in a MinIO or S3-compatible bucket.
type Minio struct {
	client *minio.Client
	bucket string
	prefix string
	codec  Codec
}

// NewMinioClient builds a client from cfg. It does not contact the server.
func NewMinioClient(cfg config.MinioConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client for %s: %w", cfg.Endpoint, err)
	}
	return client, nil
}

func NewMinio(client *minio.Client, bucket, prefix string, codec Codec) *Minio {
	return &Minio{client: client, bucket: bucket, prefix: prefix, codec: codec}
}

func (m *Minio) key(blockID uint64) string {
	return path.Join(m.prefix, strconv.FormatUint(blockID, 10))
}

func (m *Minio) Fetch(ctx context.Context, blockID uint64) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.key(blockID), minio.GetObjectOptions{})
	if err != nil {
		return nil, m.fetchError(blockID, err)
	}
	defer obj.Close()

	envelope, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.fetchError(blockID, err)
	}
	return Decompress(envelope)
}

func (m *Minio) fetchError(blockID uint64, err error) error {
	if isMissingObject(err) {
		return notFound(blockID)
	}
	return fmt.Errorf("minio get block %d: %w", blockID, err)
}

func isMissingObject(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (m *Minio) Put(ctx context.Context, blockID uint64, block []byte) error {
	envelope, err := Compress(m.codec, block)
	if err != nil {
		return err
	}
	_, err = m.client.PutObject(ctx, m.bucket, m.key(blockID),
		bytes.NewReader(envelope), int64(len(envelope)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("minio put block %d: %w", blockID, err)
	}
	return nil
}
