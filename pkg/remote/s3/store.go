// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package s3

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

// Page is one page of a flat key listing
type Page struct {
	Objects []remote.Object
	Next    string // Continuation token, empty on the last page
}

// ObjectStore is the flat key space of one bucket. Get reports a missing
// key as an errdefs not found error.
type ObjectStore interface {
	ListPage(ctx context.Context, prefix, token string) (Page, error)
	Put(ctx context.Context, key string, data []byte, contentType, acl string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// API is the subset of *s3.Client used by the AWS driver
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var _ API = (*s3.Client)(nil)

type awsStore struct {
	api    API
	bucket string
}

// NewAWSStore wraps an S3 API client bound to bucket
func NewAWSStore(api API, bucket string) ObjectStore {
	return &awsStore{api: api, bucket: bucket}
}

func newAWSAPI(ctx context.Context, cfg Config) (API, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	creds := cfg.Credentials
	switch creds.Type {
	case "static":
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	case "shared":
		if creds.Profile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(creds.Profile))
		}
		if creds.File != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedCredentialsFiles([]string{creds.File}))
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

func isAWSNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (s *awsStore) ListPage(ctx context.Context, prefix, token string) (Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}

	out, err := s.api.ListObjectsV2(ctx, input)
	if err != nil {
		return Page{}, errors.Errorf("listing objects: %w", err)
	}

	page := Page{Objects: make([]remote.Object, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		o := remote.Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
		if obj.LastModified != nil {
			o.Time = obj.LastModified.UTC()
		}
		page.Objects = append(page.Objects, o)
	}
	if aws.ToBool(out.IsTruncated) {
		page.Next = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (s *awsStore) Put(ctx context.Context, key string, data []byte, contentType, acl string) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACL(acl),
	})
	if err != nil {
		return errors.Errorf("putting object: %w", err)
	}
	return nil
}

func (s *awsStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, errdefs.NotFound("download", key, err)
		}
		return nil, errors.Errorf("getting object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Errorf("reading object body: %w", err)
	}
	return data, nil
}

func (s *awsStore) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Errorf("deleting object: %w", err)
	}
	return nil
}

type minioStore struct {
	client *minio.Client
	bucket string
}

func newMinioStore(cfg Config) (ObjectStore, error) {
	endpoint := cfg.Endpoint
	secure := !cfg.Insecure
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		secure = u.Scheme != "http"
	}

	var creds *miniocreds.Credentials
	switch cfg.Credentials.Type {
	case "environment":
		creds = miniocreds.NewEnvAWS()
	case "shared":
		creds = miniocreds.NewFileAWSCredentials(cfg.Credentials.File, cfg.Credentials.Profile)
	default:
		creds = miniocreds.NewStaticV4(cfg.Credentials.AccessKeyID, cfg.Credentials.SecretAccessKey, cfg.Credentials.SessionToken)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Errorf("creating minio client: %w", err)
	}
	return &minioStore{client: client, bucket: cfg.Bucket}, nil
}

// ListPage drains the minio listing channel; minio-go paginates internally
// so there is never a continuation token.
func (s *minioStore) ListPage(ctx context.Context, prefix, _ string) (Page, error) {
	var page Page
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return Page{}, errors.Errorf("listing objects: %w", obj.Err)
		}
		page.Objects = append(page.Objects, remote.Object{Key: obj.Key, Size: obj.Size, Time: obj.LastModified.UTC()})
	}
	return page, nil
}

func (s *minioStore) Put(ctx context.Context, key string, data []byte, contentType, acl string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"x-amz-acl": acl},
	})
	if err != nil {
		return errors.Errorf("putting object: %w", err)
	}
	return nil
}

func (s *minioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Errorf("getting object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if code := minio.ToErrorResponse(err).Code; strings.EqualFold(code, "NoSuchKey") {
			return nil, errdefs.NotFound("download", key, err)
		}
		return nil, errors.Errorf("reading object: %w", err)
	}
	return data, nil
}

func (s *minioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.Errorf("deleting object: %w", err)
	}
	return nil
}
