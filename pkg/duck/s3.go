package duck

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for S3-compatible storage (AWS S3, MinIO, etc.)
type S3Config struct {
	AccessKeyID     string // S3 access key ID
	SecretAccessKey string // S3 secret access key
	Endpoint        string // S3 endpoint URL (e.g., "http://localhost:9000" for MinIO, empty for AWS)
	Region          string // S3 region (e.g., "us-east-1")
	UseSSL          bool
	URLStyle        string // "path" or "virtual"
}

// LoadS3ConfigFromEnv loads S3 configuration from environment variables.
//
// Environment variables:
//   - S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID
//   - S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY
//   - S3_ENDPOINT or AWS_ENDPOINT_URL (MinIO)
//   - S3_REGION or AWS_REGION (defaults to "us-east-1")
//   - S3_USE_SSL, S3_URL_STYLE
//
// When neither key is set the default AWS credentials chain is used.
func LoadS3ConfigFromEnv() (*S3Config, error) {
	accessKeyID := firstEnv("S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	secretAccessKey := firstEnv("S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")

	if (accessKeyID == "") != (secretAccessKey == "") {
		return nil, fmt.Errorf("S3 access key ID and secret access key must be set together (for the default credentials chain, leave both unset)")
	}

	endpoint := firstEnv("S3_ENDPOINT", "AWS_ENDPOINT_URL")
	region := firstEnv("S3_REGION", "AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	isMinIO := endpoint != "" && !strings.Contains(endpoint, "amazonaws.com")
	if isMinIO && accessKeyID == "" {
		return nil, fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set (endpoint: %s)", endpoint)
	}

	cfg := &S3Config{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Endpoint:        endpoint,
		Region:          region,
		UseSSL:          !isMinIO,
		URLStyle:        "path",
	}
	if useSSL := os.Getenv("S3_USE_SSL"); useSSL != "" {
		cfg.UseSSL = useSSL == "true" || useSSL == "1"
	}
	if urlStyle := os.Getenv("S3_URL_STYLE"); urlStyle != "" {
		cfg.URLStyle = urlStyle
	}
	return cfg, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// IsS3URI reports whether path is an s3:// object URI.
func IsS3URI(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// ConfigureS3 loads httpfs on the connection and creates the secret DuckDB
// uses to read s3:// paths.
func ConfigureS3(ctx context.Context, log *slog.Logger, conn Connection, cfg *S3Config) error {
	for _, stmt := range []string{"INSTALL httpfs", "LOAD httpfs"} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to %s: %w", strings.ToLower(stmt), err)
		}
	}

	secretSQL := "CREATE OR REPLACE SECRET s3_secret (TYPE s3"
	if cfg.AccessKeyID != "" {
		secretSQL += fmt.Sprintf(", KEY_ID '%s'", escapeLiteral(cfg.AccessKeyID))
		secretSQL += fmt.Sprintf(", SECRET '%s'", escapeLiteral(cfg.SecretAccessKey))
	} else {
		secretSQL += ", PROVIDER credential_chain"
	}
	if cfg.Endpoint != "" {
		// DuckDB expects host:port without scheme.
		endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
		secretSQL += fmt.Sprintf(", ENDPOINT '%s'", escapeLiteral(endpoint))
	}
	if cfg.Region != "" {
		secretSQL += fmt.Sprintf(", REGION '%s'", escapeLiteral(cfg.Region))
	}
	secretSQL += fmt.Sprintf(", URL_STYLE '%s', USE_SSL %t)", escapeLiteral(cfg.URLStyle), cfg.UseSSL)

	if _, err := conn.ExecContext(ctx, secretSQL); err != nil {
		return fmt.Errorf("failed to create S3 secret: %w", err)
	}
	log.Info("configured S3 access", "endpoint", cfg.Endpoint, "region", cfg.Region)
	return nil
}

// CheckS3Objects verifies every s3:// path exists before DuckDB is asked to
// read it, so a typo fails fast with a clear error.
func CheckS3Objects(ctx context.Context, cfg *S3Config, paths ...string) error {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpointURL := cfg.Endpoint
			if !strings.HasPrefix(endpointURL, "http://") && !strings.HasPrefix(endpointURL, "https://") {
				endpointURL = "http://" + endpointURL
			}
			o.BaseEndpoint = aws.String(endpointURL)
		}
		o.UsePathStyle = cfg.URLStyle == "path"
	})

	for _, path := range paths {
		if !IsS3URI(path) {
			continue
		}
		parsed, err := url.Parse(path)
		if err != nil {
			return fmt.Errorf("invalid s3 URI %q: %w", path, err)
		}
		bucket := parsed.Host
		key := strings.TrimPrefix(parsed.Path, "/")
		if bucket == "" || key == "" {
			return fmt.Errorf("s3 URI %q must include a bucket and a key", path)
		}
		// Glob patterns are resolved by DuckDB; only check the bucket.
		if strings.ContainsAny(key, "*?[") {
			if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
				return fmt.Errorf("s3 bucket %s is not accessible: %w", bucket, err)
			}
			continue
		}
		if _, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
			return fmt.Errorf("s3 object %s is not accessible: %w", path, err)
		}
	}
	return nil
}

// escapeLiteral escapes a value for use inside a single-quoted SQL literal.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
