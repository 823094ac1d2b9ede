package passwords

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	getObject = func(ctx context.Context, c *s3.Client, in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return c.GetObject(ctx, in)
	}
)

// S3Options configures access to an S3-compatible store holding the
// common-password list. Empty credentials fall back to the default AWS
// credential chain.
type S3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// LoadCommonPasswords reads a newline-separated password list from a local
// path or an s3://bucket/key URL. An empty source yields an empty set. A
// source that cannot be read is logged and also yields an empty set.
func LoadCommonPasswords(ctx context.Context, source string, opts S3Options, log logging.Logger) map[string]struct{} {
	set := map[string]struct{}{}
	if source == "" {
		return set
	}

	rc, err := openCommonList(ctx, source, opts)
	if err != nil {
		log.Warn(ctx, "common password list unavailable, using empty set", "source", source, "err", err)
		return set
	}
	defer rc.Close()

	set, err = parseCommonList(rc)
	if err != nil {
		log.Warn(ctx, "common password list unreadable, using empty set", "source", source, "err", err)
		return map[string]struct{}{}
	}
	log.Info(ctx, "common password list loaded", "source", source, "count", len(set))
	return set
}

func parseCommonList(r io.Reader) (map[string]struct{}, error) {
	set := map[string]struct{}{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		set[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

func openCommonList(ctx context.Context, source string, opts S3Options) (io.ReadCloser, error) {
	if !strings.HasPrefix(source, "s3://") {
		return os.Open(source)
	}

	bucket, key, err := parseS3URL(source)
	if err != nil {
		return nil, err
	}

	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}

	out, err := getObject(ctx, client, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func parseS3URL(source string) (string, string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", "", err
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 url %q", source)
	}
	return u.Host, key, nil
}

func newS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
