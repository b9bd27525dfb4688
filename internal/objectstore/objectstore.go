// SPDX-License-Identifier: MPL-2.0

// Package objectstore uploads release artifacts to an S3-compatible bucket
// so the published download URLs are fetchable by consumers. The registry
// document itself never lives here; publish only pushes archives and their
// checksum sidecars.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/runpack/runpack/internal/packager"
)

const (
	archiveContentType = "application/gzip"
	sidecarContentType = "text/plain"
)

// ErrInvalidStoreConfig is the sentinel error wrapped by store config
// validation failures.
var ErrInvalidStoreConfig = errors.New("invalid object store config")

type (
	// Config selects and authenticates the target bucket. A zero Config
	// means no store is configured and publish skips the upload step.
	Config struct {
		// Endpoint is the S3-compatible host:port. Empty disables uploads.
		Endpoint string `json:"endpoint" mapstructure:"endpoint"`
		// AccessKey and SecretKey are static credentials.
		AccessKey string `json:"access_key" mapstructure:"access_key"`
		SecretKey string `json:"secret_key" mapstructure:"secret_key"`
		// Bucket receives the artifacts.
		Bucket string `json:"bucket" mapstructure:"bucket"`
		// Region is passed through to bucket creation.
		Region string `json:"region" mapstructure:"region"`
		// UseSSL selects https for the endpoint.
		UseSSL bool `json:"use_ssl" mapstructure:"use_ssl"`
		// PublicBaseURL is the consumer-facing URL prefix for uploaded
		// objects. When empty, URLs are derived from the endpoint and
		// bucket.
		PublicBaseURL string `json:"public_base_url" mapstructure:"public_base_url"`
	}

	// Client uploads artifacts to one bucket.
	Client struct {
		api s3API
		cfg Config
		log *log.Logger
	}

	// s3API is the slice of the minio client the uploader needs.
	s3API interface {
		BucketExists(ctx context.Context, bucket string) (bool, error)
		MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
		PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	}
)

// Configured reports whether an object store endpoint is set.
func (c Config) Configured() bool {
	return c.Endpoint != ""
}

// Validate checks that a configured store has everything uploads need.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if c.AccessKey == "" {
		errs = append(errs, errors.New("access_key is required"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret_key is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidStoreConfig, errors.Join(errs...))
	}
	return nil
}

// New builds a Client from static credentials.
func New(cfg Config, logger *log.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	return &Client{api: mc, cfg: cfg, log: logger}, nil
}

// EnsureBucket creates the configured bucket if it does not exist yet.
// Idempotent.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", c.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.api.MakeBucket(ctx, c.cfg.Bucket, minio.MakeBucketOptions{Region: c.cfg.Region}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", c.cfg.Bucket, err)
	}
	c.log.Info("bucket created", "bucket", c.cfg.Bucket, "region", c.cfg.Region)
	return nil
}

// UploadArtifact streams the archive and its checksum sidecar into the
// bucket under <name>/<archive-filename> and returns the download URL
// consumers fetch the archive from.
func (c *Client) UploadArtifact(ctx context.Context, artifact *packager.Artifact) (string, error) {
	key := path.Join(artifact.Name, path.Base(artifact.ArchivePath))

	if err := c.putFile(ctx, key, artifact.ArchivePath, archiveContentType); err != nil {
		return "", err
	}
	if err := c.putFile(ctx, key+".sha256", artifact.SidecarPath, sidecarContentType); err != nil {
		return "", err
	}

	url := c.downloadURL(key)
	c.log.Info("artifact uploaded",
		"runtime", artifact.Tag(),
		"bucket", c.cfg.Bucket,
		"key", key,
		"url", url)
	return url, nil
}

// putFile uploads one local file under key.
func (c *Client) putFile(ctx context.Context, key, filePath, contentType string) (err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filePath, err)
	}

	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := c.api.PutObject(ctx, c.cfg.Bucket, key, f, info.Size(), opts); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// downloadURL joins the public base URL, or an endpoint-derived one, with
// the object key.
func (c *Client) downloadURL(key string) string {
	base := strings.TrimSuffix(c.cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if c.cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + c.cfg.Endpoint + "/" + c.cfg.Bucket
	}
	return base + "/" + key
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
