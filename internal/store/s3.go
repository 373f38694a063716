package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

// S3 serves s3:// URIs through the AWS SDK.
type S3 struct {
	logger     *zap.Logger
	client     *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader

	Region         string
	Endpoint       string
	ForcePathStyle bool
}

type S3Option func(*S3)

func S3WithRegion(region string) S3Option {
	return func(s *S3) {
		s.Region = region
	}
}

func S3WithEndpoint(endpoint string) S3Option {
	return func(s *S3) {
		s.Endpoint = endpoint
	}
}

func S3WithForcePathStyle(forcePathStyle bool) S3Option {
	return func(s *S3) {
		s.ForcePathStyle = forcePathStyle
	}
}

func S3WithLogger(l *zap.Logger) S3Option {
	return func(s *S3) {
		s.logger = l
	}
}

func NewS3(opts ...S3Option) (*S3, error) {
	s := &S3{
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}

	awsConfig := &aws.Config{
		S3ForcePathStyle: aws.Bool(s.ForcePathStyle),
	}
	if s.Region != "" {
		awsConfig.Region = aws.String(s.Region)
	}
	if s.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, err
	}
	s.client = s3.New(sess)
	s.uploader = s3manager.NewUploader(sess)
	s.downloader = s3manager.NewDownloader(sess)
	return s, nil
}

func (s *S3) parse(uri string) (bucket, key string, err error) {
	scheme, bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", "", err
	}
	if scheme != "s3" {
		return "", "", fmt.Errorf("s3 store cannot serve %q", uri)
	}
	return bucket, key, nil
}

func isNoSuchKey(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
		return true
	}
	return false
}

func (s *S3) Exists(ctx context.Context, uri string) (bool, error) {
	_, err := s.Head(ctx, uri)
	if IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3) Read(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := s.parse(uri)
	if err != nil {
		return nil, err
	}

	buf := aws.NewWriteAtBuffer([]byte{})
	_, err = s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if isNoSuchKey(err) {
		return nil, &TransportError{Op: "read", URI: uri, Err: ErrNotExist}
	}
	if err != nil {
		return nil, &TransportError{Op: "read", URI: uri, Err: err}
	}
	return buf.Bytes(), nil
}

func (s *S3) Write(ctx context.Context, uri string, data []byte) error {
	bucket, key, err := s.parse(uri)
	if err != nil {
		return err
	}

	s.logger.Debug("s3 write",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return &TransportError{Op: "write", URI: uri, Err: err}
	}
	return nil
}

func (s *S3) Copy(ctx context.Context, src, dst string) error {
	srcBucket, srcKey, err := s.parse(src)
	if err != nil {
		return err
	}
	dstBucket, dstKey, err := s.parse(dst)
	if err != nil {
		return err
	}

	_, err = s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcBucket + "/" + srcKey),
	})
	if isNoSuchKey(err) {
		return &TransportError{Op: "copy", URI: src, Err: ErrNotExist}
	}
	if err != nil {
		return &TransportError{Op: "copy", URI: src, Err: err}
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, uri string) error {
	bucket, key, err := s.parse(uri)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNoSuchKey(err) {
		return &TransportError{Op: "delete", URI: uri, Err: err}
	}
	return nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, key, err := s.parse(prefix)
	if err != nil {
		return nil, err
	}

	var uris []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	}
	err = s.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				uris = append(uris, "s3://"+bucket+"/"+aws.StringValue(obj.Key))
			}
			return true
		})
	if err != nil {
		return nil, &TransportError{Op: "list", URI: prefix, Err: err}
	}
	return uris, nil
}

func (s *S3) Head(ctx context.Context, uri string) (*ObjectInfo, error) {
	bucket, key, err := s.parse(uri)
	if err != nil {
		return nil, err
	}

	// A bucket or prefix URI heads the bucket itself.
	if key == "" || strings.HasSuffix(key, "/") {
		_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(bucket),
		})
		if isNoSuchKey(err) {
			return nil, &TransportError{Op: "head", URI: uri, Err: ErrNotExist}
		}
		if err != nil {
			return nil, &TransportError{Op: "head", URI: uri, Err: err}
		}
		return &ObjectInfo{}, nil
	}

	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if isNoSuchKey(err) {
		return nil, &TransportError{Op: "head", URI: uri, Err: ErrNotExist}
	}
	if err != nil {
		return nil, &TransportError{Op: "head", URI: uri, Err: err}
	}
	return &ObjectInfo{Size: aws.Int64Value(out.ContentLength)}, nil
}
