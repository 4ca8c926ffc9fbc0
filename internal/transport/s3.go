package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/grabber/internal/utils"
)

// S3 fetches s3://bucket/key objects. The SDK's own retries are disabled so a
// failed attempt surfaces immediately to the caller's retry policy.
type S3 struct {
	profile string

	mu      sync.Mutex
	cfg     *aws.Config
	regions map[string]string
	clients map[string]*s3.Client
}

func NewS3(profile string) *S3 {
	return &S3{
		profile: profile,
		regions: make(map[string]string),
		clients: make(map[string]*s3.Client),
	}
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(link string) (bucket, key string, err error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 URL: %s", link)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 URL must name a bucket and an object key: %s", link)
	}
	return bucket, key, nil
}

func (s *S3) loadConfig(ctx context.Context) (aws.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil {
		return *s.cfg, nil
	}
	opts := []func(*config.LoadOptions) error{config.WithRetryMaxAttempts(1)}
	if s.profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(s.profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("error loading AWS config: %w", err)
	}
	s.cfg = &cfg
	return cfg, nil
}

// client returns a client for the bucket's region, discovering it on first use.
func (s *S3) client(ctx context.Context, bucket string) (*s3.Client, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return nil, utils.NewError(utils.KindConfig, "transport/s3", err)
	}
	s.mu.Lock()
	region, ok := s.regions[bucket]
	s.mu.Unlock()
	if !ok {
		region, err = manager.GetBucketRegion(ctx, s3.NewFromConfig(cfg), bucket)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("op", "transport/s3").Str("bucket", bucket).Str("region", region).Msg("Bucket region resolved")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions[bucket] = region
	c, ok := s.clients[region]
	if !ok {
		c = s3.NewFromConfig(cfg, func(o *s3.Options) { o.Region = region })
		s.clients[region] = c
	}
	return c, nil
}

func (s *S3) Open(ctx context.Context, link string, connectTimeout time.Duration) (*Response, error) {
	const op = "transport/s3"
	bucket, key, err := ParseS3URL(link)
	if err != nil {
		return nil, utils.NewError(utils.KindConfig, op, err)
	}
	cctx, stop, cancel := connectContext(ctx, connectTimeout)
	c, err := s.client(cctx, bucket)
	if err != nil {
		err = classifyS3(cctx, op, err)
		cancel()
		return nil, err
	}
	out, err := c.GetObject(cctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = classifyS3(cctx, op, err)
		cancel()
		return nil, err
	}
	if !stop() {
		out.Body.Close()
		cancel()
		return nil, utils.NewError(utils.KindTimeout, op, ErrConnectTimeout)
	}
	length := int64(-1)
	if out.ContentLength != nil {
		length = *out.ContentLength
	}
	log.Debug().Str("op", op).Str("bucket", bucket).Str("key", key).Int64("length", length).Msg("Object opened")
	return &Response{
		StatusCode:    200,
		ContentLength: length,
		Body:          &body{op: op, rc: out.Body, ctx: cctx, cancel: cancel},
	}, nil
}

// classifyS3 uses the HTTP status of a service error when there is one.
func classifyS3(ctx context.Context, op string, err error) error {
	var notFound manager.BucketNotFound
	if errors.As(err, &notFound) {
		return utils.NewError(utils.KindTransportTerminal, op, err)
	}
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) && status.HTTPStatusCode() != 0 {
		if serr := CheckStatus(op, status.HTTPStatusCode()); serr != nil {
			return utils.NewError(utils.KindOf(serr), op, err)
		}
	}
	return classify(ctx, op, err)
}
