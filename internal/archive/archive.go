// Package archive uploads received publications to an S3 bucket.
//
// Publications are queued by Enqueue, which never blocks the read loop of
// the client, and uploaded one object per publication by Run:
//
//	<prefix>/<channel>/<received UTC>-<seq>.bin
//
// The channel is escaped into a single path segment.
// When the queue is full the publication is dropped and counted.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vango-dev/pubsub/internal/errors"
)

// DefaultQueueSize is used when Config.QueueSize is not positive.
const DefaultQueueSize = 1024

// drainTimeout bounds the uploads still queued when Run's context ends.
const drainTimeout = 5 * time.Second

// PutObjectAPI is the subset of *s3.Client used by Archive.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Record is one queued publication.
type Record struct {
	Channel  string
	Data     []byte
	Received time.Time
	Seq      uint64
}

// Config configures an Archive.
type Config struct {
	Bucket    string
	Prefix    string
	QueueSize int
	Logger    *slog.Logger

	// Registry receives the archive collectors. Nil disables metrics.
	Registry  prometheus.Registerer
	Namespace string
}

// Archive is a bounded upload queue in front of S3.
type Archive struct {
	client PutObjectAPI
	bucket string
	prefix string
	queue  chan Record
	logger *slog.Logger
	now    func() time.Time

	seq      atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64

	uploads *prometheus.CounterVec
}

// New creates an Archive. Run must be called to start uploading.
func New(client PutObjectAPI, cfg Config) *Archive {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		queue:  make(chan Record, size),
		logger: logger.With("component", "archive", "bucket", cfg.Bucket),
		now:    time.Now,
	}
	if cfg.Registry != nil {
		a.uploads = promauto.With(cfg.Registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "archive",
			Name:      "publications_total",
			Help:      "Publications handled by the archive by result",
		}, []string{"result"})
	}
	return a
}

// Enqueue copies data into the upload queue.
// It returns false when the queue is full and the publication was dropped.
func (a *Archive) Enqueue(channel string, data []byte) bool {
	rec := Record{
		Channel:  channel,
		Data:     append([]byte(nil), data...),
		Received: a.now(),
		Seq:      a.seq.Add(1),
	}
	select {
	case a.queue <- rec:
		return true
	default:
		a.dropped.Add(1)
		a.count("dropped")
		a.logger.Warn("archive queue full, publication dropped",
			"channel", channel,
			"seq", rec.Seq)
		return false
	}
}

// Run uploads queued records until ctx is done, then drains what is left
// with a short grace period.
func (a *Archive) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-a.queue:
			a.upload(ctx, rec)
		case <-ctx.Done():
			a.drain(context.WithoutCancel(ctx))
			return ctx.Err()
		}
	}
}

func (a *Archive) drain(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, drainTimeout)
	defer cancel()
	for {
		select {
		case rec := <-a.queue:
			a.upload(ctx, rec)
		default:
			return
		}
	}
}

func (a *Archive) upload(ctx context.Context, rec Record) {
	key := a.Key(rec)

	ctx, span := otel.Tracer("github.com/vango-dev/pubsub/internal/archive").Start(ctx, "archive.put")
	span.SetAttributes(
		attribute.String("s3.bucket", a.bucket),
		attribute.String("s3.key", key),
		attribute.Int("payload.size", len(rec.Data)),
	)
	defer span.End()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(rec.Data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"channel":     rec.Channel,
			"received-at": rec.Received.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		a.failed.Add(1)
		a.count("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		a.logger.Warn("archive upload failed",
			"key", key,
			"error", errors.New("E302").Wrap(err).FormatCompact())
		return
	}
	a.uploaded.Add(1)
	a.count("uploaded")
	a.logger.Debug("publication archived", "key", key, "size", len(rec.Data))
}

// Key returns the object key for rec.
func (a *Archive) Key(rec Record) string {
	name := fmt.Sprintf("%s-%s.bin",
		rec.Received.UTC().Format("20060102T150405.000000000Z"),
		strconv.FormatUint(rec.Seq, 10))
	return path.Join(a.prefix, channelSegment(rec.Channel), name)
}

// channelSegment turns a channel name into exactly one key segment under
// the prefix. Slashes are percent-escaped and "." or ".." is spelled as
// %2E, so path.Join can neither split the name nor climb out of the prefix.
// An empty name becomes "_".
func channelSegment(channel string) string {
	switch channel {
	case "":
		return "_"
	case ".", "..":
		return strings.ReplaceAll(channel, ".", "%2E")
	}
	return url.PathEscape(channel)
}

// Stats returns the number of uploaded, failed and dropped publications.
func (a *Archive) Stats() (uploaded, failed, dropped uint64) {
	return a.uploaded.Load(), a.failed.Load(), a.dropped.Load()
}

// Pending returns the number of queued records.
func (a *Archive) Pending() int {
	return len(a.queue)
}

func (a *Archive) count(result string) {
	if a.uploads != nil {
		a.uploads.WithLabelValues(result).Inc()
	}
}
