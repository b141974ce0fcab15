package gcio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/MichaelMauderer/Gazer/imaging"
	"github.com/MichaelMauderer/Gazer/scene"
)

// S3Options configures access to an S3 compatible object store. Empty
// fields fall back to the default AWS configuration chain.
type S3Options struct {
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
}

// ObjectGetter is the subset of the S3 client used to fetch scenes.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source fetches scene files from s3://bucket/key URIs.
type S3Source struct {
	Client ObjectGetter
}

// NewS3Source builds a client from opts.
func NewS3Source(ctx context.Context, opts S3Options) (*S3Source, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Source{Client: client}, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 uri %q: %w", uri, err)
	}
	if u.Scheme != SchemeS3 || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q", uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 uri %q has no key", uri)
	}
	return u.Host, key, nil
}

// Fetch downloads the object at uri. Missing buckets or keys map to ErrNotFound.
func (s *S3Source) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(uri, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}

func classifyS3Error(uri string, err error) error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return fmt.Errorf("failed to fetch %s: %w", uri, err)
}

// Loader returns a Loader for s3:// URIs pointing at gc containers or images.
func (s *S3Source) Loader(reg Registry, newInterp InterpolatorFactory) Loader {
	if newInterp == nil {
		newInterp = defaultInterpolator
	}
	return func(ctx context.Context, uri string) (*scene.Scene, error) {
		data, err := s.Fetch(ctx, uri)
		if err != nil {
			return nil, err
		}
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(uri), "."))
		if imaging.IsImagePath(uri) {
			img, err := imaging.Decode(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", uri, err)
			}
			return ImageScene(img, newInterp()), nil
		}
		if ext != "gc" {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
		}
		st, _, err := DecodeStack(data, reg)
		if err != nil {
			return nil, err
		}
		return st.Scene(newInterp())
	}
}
