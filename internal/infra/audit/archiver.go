package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/opsforge/opsplane/internal/infra/config"
)

const archiveCheckInterval = time.Minute

// objectPutter is the slice of the S3 client the archiver needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver rotates the active JSONL segment when it outgrows the configured
// size and ships the closed segment to object storage. Closed segments stay
// on disk as well; pruning them is a retention decision left to operators.
type Archiver struct {
	sink     *JSONLSink
	client   objectPutter
	bucket   string
	prefix   string
	maxBytes int64
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewArchiver builds an archiver over the sink using the ambient AWS
// credential chain.
func NewArchiver(sink *JSONLSink, awsCfg aws.Config, cfg config.ArchiveConfig, logger *slog.Logger) *Archiver {
	maxBytes := int64(cfg.MaxSizeMB) * 1024 * 1024
	if maxBytes <= 0 {
		maxBytes = 64 * 1024 * 1024
	}
	return &Archiver{
		sink:     sink,
		client:   s3.NewFromConfig(awsCfg),
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
		maxBytes: maxBytes,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic size check.
func (a *Archiver) Start(_ context.Context) error {
	a.startOnce.Do(func() {
		go a.loop()
	})
	return nil
}

// Stop halts the archiver.
func (a *Archiver) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		close(a.stop)
		select {
		case <-a.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

func (a *Archiver) loop() {
	defer close(a.done)

	ticker := time.NewTicker(archiveCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.maybeArchive(context.Background()); err != nil {
				a.logger.Error("audit archive cycle failed", "error", err)
			}
		case <-a.stop:
			return
		}
	}
}

func (a *Archiver) maybeArchive(ctx context.Context) error {
	size, err := a.sink.Size()
	if err != nil {
		return fmt.Errorf("checking segment size: %w", err)
	}
	if size < a.maxBytes {
		return nil
	}

	rotated, err := a.sink.Rotate()
	if err != nil {
		return fmt.Errorf("rotating segment: %w", err)
	}
	return a.upload(ctx, rotated)
}

func (a *Archiver) upload(ctx context.Context, segment string) error {
	file, err := os.Open(segment)
	if err != nil {
		return fmt.Errorf("opening rotated segment: %w", err)
	}
	defer file.Close()

	key := path.Join(a.prefix, filepath.Base(segment))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("uploading segment to s3://%s/%s: %w", a.bucket, key, err)
	}

	a.logger.Info("audit segment archived", "segment", filepath.Base(segment), "bucket", a.bucket, "key", key)
	return nil
}
