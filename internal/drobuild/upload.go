package drobuild

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ReleaseClient wraps the S3 client for the release bucket (any
// S3-compatible endpoint works: AWS, R2, MinIO).
type ReleaseClient struct {
	Client     *s3.Client
	BucketName string
}

// NewReleaseClient initializes an S3 client from configuration values.
func NewReleaseClient(cfg *Config) (*ReleaseClient, error) {
	endpoint := cfg.Values["DROBUILD_S3_ENDPOINT"]
	accessKey := cfg.Values["DROBUILD_S3_ACCESS_KEY_ID"]
	secretKey := cfg.Values["DROBUILD_S3_SECRET_ACCESS_KEY"]
	bucketName := cfg.Values["DROBUILD_S3_BUCKET"]
	region := cfg.Values["DROBUILD_S3_REGION"]
	if region == "" {
		region = "auto"
	}

	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("release bucket settings missing in configuration (DROBUILD_S3_ENDPOINT, DROBUILD_S3_ACCESS_KEY_ID, DROBUILD_S3_SECRET_ACCESS_KEY, DROBUILD_S3_BUCKET)")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion(region),
	}

	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &ReleaseClient{
		Client:     client,
		BucketName: bucketName,
	}, nil
}

// UploadLocalFile uploads a file from disk to the release bucket.
func (r *ReleaseClient) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	contentType := "application/octet-stream"
	if strings.HasSuffix(key, ".tgz") {
		contentType = "application/gzip"
	} else if strings.HasSuffix(key, ".b3") {
		contentType = "text/plain"
	}

	_, err = r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType),
	})
	return err
}

// publishArchive uploads the finished package archive plus its BLAKE3
// checksum sidecar to the configured release bucket.
func publishArchive(ctx context.Context, cfg *Config) error {
	archive := archivePath()
	if _, err := os.Stat(archive); err != nil {
		return fmt.Errorf("no package archive at %s, run 'drobuild package' first", archive)
	}

	client, err := NewReleaseClient(cfg)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s-%s.tgz", AppName, AppVersion)

	sum, err := hashFile(archive)
	if err != nil {
		return fmt.Errorf("failed to hash archive: %w", err)
	}

	arrowPrintf(colSuccess, "Uploading %s to bucket %s\n", key, client.BucketName)
	if err := client.UploadLocalFile(ctx, key, archive); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	sumPath := archive + ".b3"
	if err := os.WriteFile(sumPath, []byte(fmt.Sprintf("%s  %s\n", sum, key)), 0o644); err != nil {
		return fmt.Errorf("failed to write checksum sidecar: %w", err)
	}
	if err := client.UploadLocalFile(ctx, key+".b3", sumPath); err != nil {
		return fmt.Errorf("failed to upload checksum sidecar: %w", err)
	}

	arrowPrintln(colSuccess, "Publish complete")
	return nil
}
