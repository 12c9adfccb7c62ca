package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/clubfeed/eventpipe/internal/config"
	"github.com/clubfeed/eventpipe/internal/resilience"
)

const defaultMaxImageBytes = 10 << 20

// ErrNotAnImage is returned when the source URL does not serve an image.
var ErrNotAnImage = errors.New("source does not serve an image")

// PutObjectAPI is the subset of the S3 client used by the uploader.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader copies post images from short-lived social media CDN URLs into
// a bucket and returns their permanent public URL.
type S3Uploader struct {
	client     PutObjectAPI
	httpClient *http.Client
	breaker    *resilience.HTTPBreaker
	bucket     string
	prefix     string
	publicBase string
	maxBytes   int64
	logger     *slog.Logger
}

// NewS3Uploader builds an uploader from the storage settings.
func NewS3Uploader(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	logger.Info("s3 uploader initialized", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)

	return NewUploader(s3.NewFromConfig(awsCfg, s3Opts...), cfg, &http.Client{Timeout: 30 * time.Second}, logger), nil
}

// NewUploader wires an uploader around an existing S3 client.
func NewUploader(client PutObjectAPI, cfg config.StorageConfig, httpClient *http.Client, logger *slog.Logger) *S3Uploader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &S3Uploader{
		client:     client,
		httpClient: httpClient,
		breaker:    resilience.NewHTTPBreaker(resilience.DefaultBreakerConfig("image-download"), logger),
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		publicBase: publicBaseURL(cfg),
		maxBytes:   defaultMaxImageBytes,
		logger:     logger,
	}
}

// Upload downloads sourceURL and stores it under a key derived from the URL,
// so uploading the same image twice overwrites one object.
func (u *S3Uploader) Upload(ctx context.Context, sourceURL string) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", fmt.Errorf("source image url is empty")
	}

	data, contentType, err := u.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	key := u.objectKey(sourceURL, contentType)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	return u.publicBase + "/" + key, nil
}

func (u *S3Uploader) download(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image request: %w", err)
	}

	resp, err := u.breaker.Do(ctx, u.httpClient, req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}

	contentType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("%w: content type %q", ErrNotAnImage, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, u.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > u.maxBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", u.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("image body is empty")
	}

	return data, contentType, nil
}

func (u *S3Uploader) objectKey(sourceURL, contentType string) string {
	// CDN URLs carry expiring signatures in the query string.
	stable, _, _ := strings.Cut(sourceURL, "?")
	sum := sha256.Sum256([]byte(stable))
	name := hex.EncodeToString(sum[:16]) + extensionFor(contentType)
	if u.prefix == "" {
		return name
	}
	return u.prefix + "/" + name
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/heic":
		return ".heic"
	default:
		return ""
	}
}

func publicBaseURL(cfg config.StorageConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(cfg.PublicBaseURL, "/")
	}
	if cfg.Endpoint != "" {
		return strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
}
