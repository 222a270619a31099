package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// VideoPartSize is the multipart chunk size for streamed video uploads.
	VideoPartSize = 10 * 1024 * 1024
	// VideoUploadConcurrency bounds in-flight parts per upload.
	VideoUploadConcurrency = 3
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	VideoBucket     string
	VideoPrefix     string // e.g. "video_clase"
}

// S3 uploads class videos to object storage and builds their public URLs.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the environment
// (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = VideoPartSize
		u.Concurrency = VideoUploadConcurrency
		u.LeavePartsOnError = false
	})
	logger.Info("S3 client ready",
		zap.String("region", cfg.Region),
		zap.String("video_bucket", cfg.VideoBucket),
	)
	return &S3{client: client, uploader: uploader, cfg: cfg, logger: logger}, nil
}

// NewVideoKey returns a fresh video key: {uuid}.mp4. Meeting rows store this
// bare key; the object lives under the configured prefix (ObjectKey).
func (s *S3) NewVideoKey() string {
	return uuid.New().String() + ".mp4"
}

// ObjectKey returns the full object key for a bare video key: {prefix}/{key}.
func (s *S3) ObjectKey(videoKey string) string {
	return path.Join(s.cfg.VideoPrefix, videoKey)
}

// PublicVideoURL returns the public retrieval URL for a bare video key.
func (s *S3) PublicVideoURL(videoKey string) string {
	return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", s.cfg.Region, s.cfg.VideoBucket, s.ObjectKey(videoKey))
}

// UploadVideo streams body into the video bucket under the bare video key
// using multipart upload. contentLength <= 0 means unknown length.
func (s *S3) UploadVideo(ctx context.Context, videoKey, contentType string, body io.Reader, contentLength int64) (string, error) {
	if contentType == "" {
		contentType = "video/mp4"
	}
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.VideoBucket),
		Key:           aws.String(s.ObjectKey(videoKey)),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLengthPtr,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", videoKey, err)
	}
	return s.PublicVideoURL(videoKey), nil
}

// DeleteVideo removes a video object by its bare key.
func (s *S3) DeleteVideo(ctx context.Context, videoKey string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.VideoBucket),
		Key:    aws.String(s.ObjectKey(videoKey)),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", videoKey, err)
	}
	return nil
}
