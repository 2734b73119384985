// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"
)

// S3Config configures the production object store adapter. Endpoint is
// optional and enables path-style addressing for S3-compatible stores.
type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	PollInterval time.Duration
}

// S3Store is the aws-sdk-go-v2 backed object store adapter.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	poll    time.Duration
}

// NewS3Store builds the client from the default AWS config chain, with
// optional static credentials and custom endpoint.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, model.WrapErr(model.KindEngineConfig, "aws_config_failed", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 10 * time.Second
	}

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		poll:    poll,
	}, nil
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3(err, bucket, key)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, model.WrapErr(model.KindTransientNetwork, "object_read_failed", err)
	}
	return data, nil
}

func (s *S3Store) Head(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, classifyS3(err, bucket, key)
	}
	return ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ModTime:     aws.ToTime(out.LastModified).UTC(),
	}, nil
}

func (s *S3Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.Head(ctx, bucket, key)
	if err == nil {
		return true, nil
	}
	if model.KindOf(err) == model.KindNotFound {
		return false, nil
	}
	return false, err
}

func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3(err, bucket, prefix)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Bucket:  bucket,
				Key:     aws.ToString(obj.Key),
				ETag:    strings.Trim(aws.ToString(obj.ETag), `"`),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified).UTC(),
			})
		}
	}
	return out, nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return classifyS3(err, bucket, key)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3(err, bucket, key)
	}
	return nil
}

func (s *S3Store) PresignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", classifyS3(err, bucket, key)
	}
	return req.URL, nil
}

// Subscribe polls the bucket listing on the configured interval, paced by a
// rate limiter so many buckets sharing a client cannot stampede the API.
// The seen set is process-local: after a restart every object is redelivered
// once and absorbed by version idempotency downstream.
func (s *S3Store) Subscribe(ctx context.Context, bucket string, h EventHandler) error {
	logger := log.WithComponent("objstore.s3")
	limiter := rate.NewLimiter(rate.Every(s.poll), 1)
	seen := make(map[string]string) // key -> etag

	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		objects, err := s.List(ctx, bucket, "")
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn().Err(err).Str(log.FieldBucket, bucket).Msg("bucket poll failed")
			continue
		}

		current := make(map[string]bool, len(objects))
		for _, obj := range objects {
			current[obj.Key] = true
			if seen[obj.Key] == obj.ETag {
				continue
			}
			evt := model.ObjectEvent{
				Type:      model.ObjectCreated,
				Bucket:    bucket,
				ObjectKey: obj.Key,
				ETag:      obj.ETag,
				Size:      obj.Size,
				ModTime:   obj.ModTime,
			}
			if err := h(ctx, evt); err != nil {
				continue // redeliver on the next poll
			}
			seen[obj.Key] = obj.ETag
		}

		for key := range seen {
			if current[key] {
				continue
			}
			evt := model.ObjectEvent{
				Type:      model.ObjectRemoved,
				Bucket:    bucket,
				ObjectKey: key,
				ModTime:   time.Now().UTC(),
			}
			if err := h(ctx, evt); err != nil {
				continue
			}
			delete(seen, key)
		}
	}
}

func (s *S3Store) Close() error { return nil }

// classifyS3 maps SDK errors onto the pipeline error taxonomy.
func classifyS3(err error, bucket, key string) error {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return model.E(model.KindNotFound, "object_missing", "object %s/%s not found", bucket, key)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return model.E(model.KindNotFound, "object_missing", "object %s/%s not found", bucket, key)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return model.WrapErr(model.KindPermanentDownstream, "object_access_denied", err)
		case "SlowDown", "RequestTimeout", "ServiceUnavailable", "InternalError", "Throttling":
			return model.WrapErr(model.KindTransientNetwork, "object_store_unavailable", err)
		}
	}
	return model.WrapErr(model.KindTransientNetwork, "object_store_unavailable", err)
}
