// Package archive выгружает принятые документы во внешнее хранилище.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/config"
)

// ContentType тип содержимого документов факса
const ContentType = "image/tiff"

// Metadata сведения о сессии, сохраняемые вместе с документом
type Metadata struct {
	SessionID       string
	RemoteStationID string
	Direction       string
}

// Uploader выгружает файл документа и возвращает ключ объекта
type Uploader interface {
	Upload(ctx context.Context, filePath string, meta Metadata) (string, error)
}

// putObjectAPI часть s3.Client, нужная для выгрузки
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader выгружает документы в S3 или совместимое хранилище
type S3Uploader struct {
	client putObjectAPI
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Uploader создает S3Uploader. Учетные данные берутся из стандартной
// цепочки AWS SDK (переменные окружения, shared config, IAM роль).
func NewS3Uploader(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket обязателен")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: загрузка конфигурации AWS: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newS3Uploader(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3Uploader(client putObjectAPI, bucket, prefix string, logger *zap.Logger) *S3Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Upload реализует Uploader
func (u *S3Uploader) Upload(ctx context.Context, filePath string, meta Metadata) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}

	key := ObjectKey(u.prefix, meta.SessionID, filePath)
	metadata := map[string]string{}
	if meta.SessionID != "" {
		metadata["session-id"] = meta.SessionID
	}
	if meta.RemoteStationID != "" {
		metadata["remote-station-id"] = meta.RemoteStationID
	}
	if meta.Direction != "" {
		metadata["direction"] = meta.Direction
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(ContentType),
		Metadata:      metadata,
	})
	if err != nil {
		return "", fmt.Errorf("archive: выгрузка s3://%s/%s: %w", u.bucket, key, err)
	}

	u.logger.Info("документ выгружен в архив",
		zap.String("bucket", u.bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size()),
		zap.String("session_id", meta.SessionID))
	return key, nil
}

// ObjectKey строит ключ объекта: <prefix>/<session id>/<имя файла>
func ObjectKey(prefix, sessionID, filePath string) string {
	parts := []string{strings.Trim(prefix, "/")}
	if sessionID != "" {
		parts = append(parts, sessionID)
	}
	parts = append(parts, filepath.Base(filePath))
	return strings.TrimPrefix(path.Join(parts...), "/")
}

var _ Uploader = (*S3Uploader)(nil)
