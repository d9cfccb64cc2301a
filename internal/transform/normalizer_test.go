package transform

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"document-pipeline/internal/blob"
	"document-pipeline/internal/models"
	"document-pipeline/internal/queue/queuetest"
)

func newNormalizer(t *testing.T, maxDim int) (*Normalizer, *blob.LocalStore, *queuetest.Queue) {
	t.Helper()
	st := blob.NewLocalStore(t.TempDir())
	q := queuetest.New("transfer", nil)
	return New(q, st, "normalized-docs", Options{MaxDimension: maxDim, Logger: zap.NewNop()}), st, q
}

func notify(t *testing.T, ref models.ObjectRef) string {
	t.Helper()
	body, err := models.NewNotification(ref)
	require.NoError(t, err)
	return string(body)
}

func gifImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{color.White, color.Black})
	for x := 0; x < w; x++ {
		img.SetColorIndex(x, h/2, 1)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestOutputKey(t *testing.T) {
	assert.Equal(t, "normalized/scan-v2.pdf", OutputKey(models.ObjectRef{Key: "in/scan.PDF", VersionID: "v2"}))
	assert.Equal(t, "normalized/photo-latest.png", OutputKey(models.ObjectRef{Key: "photo.gif"}))
	assert.Equal(t, "normalized/receipt-latest.jpg", OutputKey(models.ObjectRef{Key: "receipt.jpg"}))
}

func TestNativeFormatIsCopied(t *testing.T) {
	ctx := context.Background()
	n, st, q := newNormalizer(t, 0)
	require.NoError(t, st.Put(ctx, "uploads", "docs/a.pdf", []byte("%PDF-1.7"), "application/pdf"))
	ref := models.ObjectRef{Bucket: "uploads", Key: "docs/a.pdf", VersionID: "v1"}
	msg := q.Deliver(notify(t, ref), 1)

	require.NoError(t, n.HandleMessage(ctx, msg))

	body, _, err := st.Get(ctx, "normalized-docs", "normalized/a-v1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(body))
	assert.Equal(t, []string{msg.ID}, q.Deleted())
}

func TestImageIsFittedAndConverted(t *testing.T) {
	ctx := context.Background()
	n, st, q := newNormalizer(t, 50)
	require.NoError(t, st.Put(ctx, "uploads", "scan.gif", gifImage(t, 200, 100), "image/gif"))
	msg := q.Deliver(notify(t, models.ObjectRef{Bucket: "uploads", Key: "scan.gif"}), 1)

	require.NoError(t, n.HandleMessage(ctx, msg))

	body, _, err := st.Get(ctx, "normalized-docs", "normalized/scan-latest.png")
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())
	assert.Equal(t, []string{msg.ID}, q.Deleted())
}

func TestExistingOutputIsSkipped(t *testing.T) {
	ctx := context.Background()
	n, st, q := newNormalizer(t, 0)
	require.NoError(t, st.Put(ctx, "normalized-docs", "normalized/a-latest.pdf", []byte("done"), "application/pdf"))
	msg := q.Deliver(notify(t, models.ObjectRef{Bucket: "uploads", Key: "a.pdf"}), 1)

	// The source does not exist; a copy attempt would fail.
	require.NoError(t, n.HandleMessage(ctx, msg))
	assert.Equal(t, []string{msg.ID}, q.Deleted())
}

func TestUndecodableImageIsDropped(t *testing.T) {
	ctx := context.Background()
	n, st, q := newNormalizer(t, 0)
	require.NoError(t, st.Put(ctx, "uploads", "notes.txt", []byte("not an image"), "text/plain"))
	msg := q.Deliver(notify(t, models.ObjectRef{Bucket: "uploads", Key: "notes.txt"}), 1)

	err := n.HandleMessage(ctx, msg)
	assert.ErrorIs(t, err, models.ErrMalformed)
	assert.Equal(t, []string{msg.ID}, q.Deleted())
}

func TestMissingSourceIsRetried(t *testing.T) {
	ctx := context.Background()
	n, _, q := newNormalizer(t, 0)
	msg := q.Deliver(notify(t, models.ObjectRef{Bucket: "uploads", Key: "gone.gif"}), 1)

	err := n.HandleMessage(ctx, msg)
	assert.ErrorIs(t, err, blob.ErrNotFound)
	assert.NotErrorIs(t, err, models.ErrMalformed)
	assert.Empty(t, q.Deleted())
}

func TestMalformedNotificationIsAcked(t *testing.T) {
	n, _, q := newNormalizer(t, 0)
	msg := q.Deliver(`{"Records":[]}`, 1)

	assert.ErrorIs(t, n.HandleMessage(context.Background(), msg), models.ErrMalformed)
	assert.Equal(t, []string{msg.ID}, q.Deleted())
}
