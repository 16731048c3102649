// Package export archives ledger history snapshots to object storage for
// audit and offline analysis.
package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/fablemind/companion-metering/internal/config"
)

type Archiver struct {
	bucket        string
	publicBaseURL string
	prefix        string
	client        *s3.Client
}

// NewArchiver builds the S3-backed archiver from gateway config. Callers
// should check config.ExportEnabled first; an unset bucket is an error here.
func NewArchiver(cfg config.Config) (*Archiver, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.S3Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.S3PublicBaseURL == "" {
		return nil, fmt.Errorf("s3 public base url is required")
	}
	prefix := cfg.S3Prefix
	if prefix == "" {
		prefix = "ledger-exports"
	}

	options := s3.Options{
		Region:       cfg.S3Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		UsePathStyle: cfg.S3UsePathStyle,
	}
	if cfg.S3Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	return &Archiver{
		bucket:        cfg.S3Bucket,
		publicBaseURL: strings.TrimRight(cfg.S3PublicBaseURL, "/"),
		prefix:        strings.Trim(prefix, "/"),
		client:        s3.New(options),
	}, nil
}

// Archive uploads one export document and returns its public URL. Keys are
// unique per upload; exports are never overwritten.
func (a *Archiver) Archive(ctx context.Context, uid string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to archive")
	}

	key := a.generateKey(uid)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put export object: %w", err)
	}

	return a.publicBaseURL + "/" + key, nil
}

func (a *Archiver) generateKey(uid string) string {
	ts := time.Now().UTC().Format("2006/01/02")
	name := fmt.Sprintf("%s-%s.json", time.Now().UTC().Format("150405"), uuid.NewString())
	return path.Join(a.prefix, ts, uid, name)
}
