package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

// S3Config configures access to an S3-compatible object store.
type S3Config struct {
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string `json:"session_token" yaml:"session_token"`
	ForcePathStyle  bool   `json:"force_path_style" yaml:"force_path_style"`
}

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Opener opens objects as seekable streams backed by ranged GETs.
type S3Opener struct {
	api s3API
}

// NewS3Opener returns an AWS-backed opener.
func NewS3Opener(ctx context.Context, cfg S3Config) (*S3Opener, error) {
	if cfg.Region == "" {
		return nil, errors.New("s3 region required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3OpenerWithAPI(client), nil
}

func newS3OpenerWithAPI(api s3API) *S3Opener {
	return &S3Opener{api: api}
}

func bucketKey(loc types.Location) (string, string, error) {
	bucket := strings.TrimSuffix(strings.TrimPrefix(loc.Host, SchemeS3+"://"), "/")
	key := strings.TrimPrefix(loc.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: s3 location needs bucket and key: %s", ErrOpen, loc)
	}
	return bucket, key, nil
}

// Open checks that the object exists and returns a stream positioned at 0.
// No data is fetched until the first Read. Every later GET is issued with
// ctx, so the stream stops working once ctx is cancelled; keep ctx alive
// until the stream is closed.
func (o *S3Opener) Open(ctx context.Context, loc types.Location) (Stream, error) {
	bucket, key, err := bucketKey(loc)
	if err != nil {
		return nil, err
	}
	size, err := o.head(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return &s3Stream{ctx: ctx, api: o.api, bucket: bucket, key: key, size: size}, nil
}

func (o *S3Opener) Size(ctx context.Context, loc types.Location) (int64, error) {
	bucket, key, err := bucketKey(loc)
	if err != nil {
		return 0, err
	}
	return o.head(ctx, bucket, key)
}

func (o *S3Opener) head(ctx context.Context, bucket, key string) (int64, error) {
	out, err := o.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: head object %s/%s: %w", ErrOpen, bucket, key, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// s3Stream reads from pos onwards with a single open-ended ranged GET. A Seek
// to a different position drops the current body; the next Read reopens.
type s3Stream struct {
	ctx    context.Context
	api    s3API
	bucket string
	key    string
	size   int64
	pos    int64
	body   io.ReadCloser
	closed bool
}

func (s *s3Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("read on closed s3 stream")
	}
	if s.pos >= s.size {
		return 0, io.EOF
	}
	if s.body == nil {
		if err := s.ctx.Err(); err != nil {
			return 0, fmt.Errorf("get object %s/%s at %d: stream context: %w", s.bucket, s.key, s.pos, err)
		}
		out, err := s.api.GetObject(s.ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key),
			Range:  aws.String(fmt.Sprintf("bytes=%d-", s.pos)),
		})
		if err != nil {
			return 0, fmt.Errorf("get object %s/%s at %d: %w", s.bucket, s.key, s.pos, err)
		}
		s.body = out.Body
	}

	n, err := s.body.Read(p)
	s.pos += int64(n)
	if err == io.EOF && s.pos < s.size {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (s *s3Stream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		target = s.size + offset
	default:
		return s.pos, fmt.Errorf("invalid whence %d", whence)
	}
	if target < 0 {
		return s.pos, fmt.Errorf("negative position %d", target)
	}
	if target != s.pos {
		s.dropBody()
		s.pos = target
	}
	return s.pos, nil
}

func (s *s3Stream) dropBody() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

func (s *s3Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.dropBody()
}
