// Package storage talks to the S3-compatible bucket that holds uploaded
// document files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var (
	ErrBucketNotConfigured = errors.New("storage bucket is not configured")
	ErrInvalidStorageURL   = errors.New("storage url does not point into the bucket")
)

type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PresignTTL      time.Duration
}

type Client struct {
	s3      *s3.Client
	presign *s3.PresignClient
	opts    Options
}

type PresignedUpload struct {
	UploadURL  string    `json:"upload_url"`
	StorageURL string    `json:"storage_url"`
	Key        string    `json:"key"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// New builds the client. A missing bucket is not an error here; every call
// then fails with ErrBucketNotConfigured.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config failed: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Client{
		s3:      client,
		presign: s3.NewPresignClient(client),
		opts:    opts,
	}, nil
}

// ObjectURL is the permanent URL stored on a document for key.
func (c *Client) ObjectURL(key string) string {
	return ObjectURL(c.opts, key)
}

func ObjectURL(opts Options, key string) string {
	if opts.Endpoint != "" {
		return strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", opts.Bucket, opts.Region, key)
}

// ObjectKey extracts the object key from a storage URL. It accepts
// virtual-hosted URLs, path-style URLs and s3:// URIs for the bucket.
func ObjectKey(bucket, storageURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(storageURL))
	if err != nil || u.Host == "" {
		return "", ErrInvalidStorageURL
	}
	path := strings.TrimPrefix(u.Path, "/")

	var key string
	switch {
	case u.Scheme == "s3" && u.Host == bucket:
		key = path
	case strings.HasPrefix(u.Host, bucket+".s3."):
		key = path
	case strings.HasPrefix(path, bucket+"/"):
		key = strings.TrimPrefix(path, bucket+"/")
	}
	if key == "" {
		return "", ErrInvalidStorageURL
	}
	return key, nil
}

// KeyOf is ObjectKey for this client's bucket.
func (c *Client) KeyOf(storageURL string) (string, error) {
	if c.opts.Bucket == "" {
		return "", ErrBucketNotConfigured
	}
	return ObjectKey(c.opts.Bucket, storageURL)
}

// NewUploadKey names a fresh object under documents/ keeping the extension.
func NewUploadKey(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return "documents/" + uuid.NewString()
	}
	return "documents/" + uuid.NewString() + "." + ext
}

func (c *Client) PresignUpload(ctx context.Context, key, contentType string) (*PresignedUpload, error) {
	if c.opts.Bucket == "" {
		return nil, ErrBucketNotConfigured
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	req, err := c.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(c.opts.PresignTTL))
	if err != nil {
		return nil, fmt.Errorf("presign upload failed: %w", err)
	}
	return &PresignedUpload{
		UploadURL:  req.URL,
		StorageURL: c.ObjectURL(key),
		Key:        key,
		ExpiresAt:  time.Now().Add(c.opts.PresignTTL),
	}, nil
}

// Download fetches the whole object behind storageURL.
func (c *Client) Download(ctx context.Context, storageURL string) ([]byte, error) {
	if c.opts.Bucket == "" {
		return nil, ErrBucketNotConfigured
	}
	key, err := ObjectKey(c.opts.Bucket, storageURL)
	if err != nil {
		return nil, err
	}
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s failed: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s failed: %w", key, err)
	}
	return body, nil
}

func (c *Client) Delete(ctx context.Context, storageURL string) error {
	if c.opts.Bucket == "" {
		return ErrBucketNotConfigured
	}
	key, err := ObjectKey(c.opts.Bucket, storageURL)
	if err != nil {
		return err
	}
	if _, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object %s failed: %w", key, err)
	}
	return nil
}
