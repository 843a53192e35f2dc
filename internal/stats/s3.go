package stats

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ExportConfig configures uploads of exported run artifacts.
type S3ExportConfig struct {
	Bucket   string
	Region   string
	Endpoint string // For S3-compatible services (MinIO, etc.)
	// Static credentials are optional; the default AWS chain is used when
	// they are empty.
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Exporter struct {
	client objectPutter
	config S3ExportConfig
}

func NewS3Exporter(ctx context.Context, cfg S3ExportConfig) (*S3Exporter, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &S3Exporter{client: s3.NewFromConfig(awsCfg, s3Opts...), config: cfg}, nil
}

// ObjectKey returns the key a run artifact is uploaded under.
func (e *S3Exporter) ObjectKey(runID, file string) string {
	prefix := strings.TrimSuffix(e.config.Prefix, "/")
	key := runArtifactPath(runID, file)
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// UploadRun uploads every artifact file found in baseDir/<run-id> and
// returns the keys written.
func (e *S3Exporter) UploadRun(ctx context.Context, baseDir, runID string) ([]string, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, runID)
	if _, err := os.Stat(runDir); err != nil {
		return nil, err
	}

	var keys []string
	for _, file := range runArtifactFiles {
		path := filepath.Join(runDir, file)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return keys, err
		}

		key := e.ObjectKey(runID, file)
		_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(e.config.Bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentType(file)),
		})
		_ = f.Close()
		if err != nil {
			return keys, fmt.Errorf("s3 put %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
