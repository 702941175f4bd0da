package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/go-units"
	"github.com/ethpandaops/runkeeper/pkg/config"
	"github.com/ethpandaops/runkeeper/pkg/execution"
	"github.com/sirupsen/logrus"
)

// LogSink writes digests to the log.
type LogSink struct {
	log logrus.FieldLogger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a new LogSink.
func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log.WithField("component", "notify-log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, d *execution.Digest) error {
	s.log.WithFields(logrus.Fields{
		"run_id":     d.RunID,
		"project_id": d.ProjectID,
		"total":      d.Stats.Total,
		"passed":     d.Stats.Passed,
		"failed":     d.Stats.Failed,
		"progress":   d.Stats.ProgressPercentage,
		"pass_rate":  d.Stats.PassRate,
		"recipients": strings.Join(d.Recipients, ","),
	}).Info("Run completion digest")

	return nil
}

// objectPutter is the subset of the S3 client used by S3Sink.
type objectPutter interface {
	PutObject(
		ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
}

// S3Sink archives each digest as digest.json and summary.md under
// <prefix>/<project>/<run>/ in an S3-compatible bucket.
type S3Sink struct {
	log    logrus.FieldLogger
	cfg    *config.S3ArchiveConfig
	client objectPutter
}

var _ Sink = (*S3Sink)(nil)

// NewS3Sink creates a new S3Sink from the given configuration.
func NewS3Sink(log logrus.FieldLogger, cfg *config.S3ArchiveConfig) *S3Sink {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return &S3Sink{
		log:    log.WithField("component", "notify-s3"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Send(ctx context.Context, d *execution.Digest) error {
	body, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling digest: %w", err)
	}

	prefix := s.resolvePrefix(d)

	if err := s.put(ctx, prefix+"/digest.json", body, "application/json"); err != nil {
		return err
	}

	summary := []byte(RenderSummary(d))
	if err := s.put(ctx, prefix+"/summary.md", summary, "text/markdown"); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"bucket": s.cfg.Bucket,
		"prefix": prefix,
		"size":   units.HumanSize(float64(len(body) + len(summary))),
	}).Info("Archived run digest")

	return nil
}

func (s *S3Sink) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("writing s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}

	return nil
}

// resolvePrefix builds the key prefix for a digest.
func (s *S3Sink) resolvePrefix(d *execution.Digest) string {
	prefix := s.cfg.Prefix
	if prefix == "" {
		prefix = "digests"
	}

	return strings.TrimRight(prefix, "/") + "/" + d.ProjectID + "/" + d.RunID
}
