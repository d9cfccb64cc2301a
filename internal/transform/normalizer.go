// Package transform prepares uploaded objects for analysis. Formats the
// analysis service reads natively are copied as is; other images are decoded,
// fitted to a maximum size, and re-encoded as PNG.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"document-pipeline/internal/blob"
	"document-pipeline/internal/logging"
	"document-pipeline/internal/models"
	"document-pipeline/internal/queue"
	"document-pipeline/internal/telemetry"
)

const outputPrefix = "normalized/"

var nativeExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// Options carries the optional tunables of a Normalizer.
type Options struct {
	// MaxDimension bounds the width and height of re-encoded images; 0 keeps the original size.
	MaxDimension int
	Logger       *zap.Logger
}

// Normalizer handles one notification message at a time.
type Normalizer struct {
	source queue.Queue
	blobs  blob.Store
	bucket string
	maxDim int
	logger *zap.Logger
}

// New builds a normaliser that writes into bucket and acknowledges on source.
func New(source queue.Queue, blobs blob.Store, bucket string, opts Options) *Normalizer {
	return &Normalizer{
		source: source,
		blobs:  blobs,
		bucket: bucket,
		maxDim: opts.MaxDimension,
		logger: logging.Component(opts.Logger, "transformer"),
	}
}

// OutputKey is where the normalised form of ref is stored.
func OutputKey(ref models.ObjectRef) string {
	ext := strings.ToLower(path.Ext(ref.Key))
	base := strings.TrimSuffix(path.Base(ref.Key), path.Ext(ref.Key))
	if !nativeExtensions[ext] {
		ext = ".png"
	}
	version := ref.VersionID
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("%s%s-%s%s", outputPrefix, base, version, ext)
}

// HandleMessage normalises the object named by msg and acknowledges msg.
// Notifications that can never be processed, including undecodable images,
// are acknowledged and reported as models.ErrMalformed.
func (n *Normalizer) HandleMessage(ctx context.Context, msg queue.Message) error {
	log := n.logger.With(zap.String(logging.FieldMessageID, msg.ID))

	ref, err := models.ParseNotification([]byte(msg.Body))
	if err != nil {
		telemetry.Malformed.WithLabelValues(n.source.Name()).Inc()
		log.Error("dropping malformed notification", zap.Error(err))
		n.ack(ctx, log, msg)
		return err
	}
	log = log.With(logging.Object(ref.Bucket, ref.Key)...)

	key := OutputKey(ref)
	exists, err := n.blobs.Exists(ctx, n.bucket, key)
	if err != nil {
		return fmt.Errorf("check %s/%s: %w", n.bucket, key, err)
	}
	if exists {
		log.Info("already normalised", zap.String("output_key", key))
		telemetry.Transformed.WithLabelValues("skipped").Inc()
		n.ack(ctx, log, msg)
		return nil
	}

	mode := "copied"
	if nativeExtensions[strings.ToLower(path.Ext(ref.Key))] {
		if err := n.blobs.Copy(ctx, ref.Bucket, ref.Key, n.bucket, key); err != nil {
			return fmt.Errorf("copy %s/%s: %w", ref.Bucket, ref.Key, err)
		}
	} else {
		mode = "converted"
		if err := n.convert(ctx, ref, key); err != nil {
			if isUndecodable(err) {
				telemetry.Malformed.WithLabelValues(n.source.Name()).Inc()
				log.Error("dropping undecodable object", zap.Error(err))
				n.ack(ctx, log, msg)
			}
			return err
		}
	}
	telemetry.Transformed.WithLabelValues(mode).Inc()
	log.Info("object normalised", zap.String("mode", mode), zap.String("output_key", key))
	n.ack(ctx, log, msg)
	return nil
}

type undecodableError struct{ err error }

func (u undecodableError) Error() string { return u.err.Error() }
func (u undecodableError) Unwrap() []error {
	return []error{models.ErrMalformed, u.err}
}

func isUndecodable(err error) bool {
	var u undecodableError
	return errors.As(err, &u)
}

func (n *Normalizer) convert(ctx context.Context, ref models.ObjectRef, key string) error {
	body, _, err := n.blobs.Get(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	img, err := imaging.Decode(bytes.NewReader(body), imaging.AutoOrientation(true))
	if err != nil {
		return undecodableError{err: fmt.Errorf("decode %s: %w", ref.Key, err)}
	}
	img = n.fit(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	if err := n.blobs.Put(ctx, n.bucket, key, buf.Bytes(), "image/png"); err != nil {
		return fmt.Errorf("put %s/%s: %w", n.bucket, key, err)
	}
	return nil
}

func (n *Normalizer) fit(img image.Image) image.Image {
	b := img.Bounds()
	if n.maxDim <= 0 || (b.Dx() <= n.maxDim && b.Dy() <= n.maxDim) {
		return img
	}
	return imaging.Fit(img, n.maxDim, n.maxDim, imaging.Lanczos)
}

func (n *Normalizer) ack(ctx context.Context, log *zap.Logger, msg queue.Message) {
	if err := n.source.Delete(ctx, msg.ReceiptHandle); err != nil {
		telemetry.AckFailures.WithLabelValues(n.source.Name()).Inc()
		log.Warn("delete notification", zap.Error(err))
	}
}
