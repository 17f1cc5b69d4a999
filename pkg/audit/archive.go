package audit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// ArchiveConfig configures the object storage archive
type ArchiveConfig struct {
	Bucket       string
	Region       string
	Endpoint     string // Optional, for MinIO and other S3-compatible stores
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// objectPutter is satisfied by *s3.Client
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes NDJSON exports to object storage under
// org/<organization id>/<timestamp>.ndjson.
type Archiver struct {
	client  objectPutter
	bucket  string
	service *Service
	now     func() time.Time
}

// NewS3Archiver builds an S3 client from cfg
func NewS3Archiver(ctx context.Context, cfg ArchiveConfig, service *Service) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newArchiver(client, cfg.Bucket, service), nil
}

func newArchiver(client objectPutter, bucket string, service *Service) *Archiver {
	return &Archiver{client: client, bucket: bucket, service: service, now: time.Now}
}

// ArchiveKey returns the object key for an archive of organizationID taken at t
func ArchiveKey(organizationID string, t time.Time) string {
	return fmt.Sprintf("org/%s/%s.ndjson", organizationID, t.UTC().Format("20060102T150405Z"))
}

// Archive exports every entry matching filter as NDJSON and uploads it.
// It returns the object key.
func (a *Archiver) Archive(ctx context.Context, actorUserID string, filter Filter) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "audit.Archive",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("org.id", filter.OrganizationID),
		),
	)
	defer span.End()

	data, err := a.service.Export(ctx, actorUserID, filter, ExportFormatNDJSON)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		return "", err
	}

	key := ArchiveKey(filter.OrganizationID, a.now())
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return "", fmt.Errorf("failed to upload archive: %w", err)
	}

	span.SetAttributes(attribute.String("s3.key", key), attribute.Int("archive.bytes", len(data)))
	return key, nil
}
