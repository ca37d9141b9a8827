package codec

import (
	"image"
	"image/color"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Name string
		N    int
	}
	in := payload{Name: "widget", N: 7}

	b, err := EncodeJSON(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, DecodeJSON(b, &out))
	assert.Equal(t, in, out)
}

func TestGzipRoundTrip(t *testing.T) {
	in := []byte("the quick brown fox jumps over the lazy dog, repeatedly, for compressibility")
	compressed, err := Gzip(in)
	require.NoError(t, err)
	assert.NotEqual(t, in, compressed)

	out, err := Gunzip(compressed)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestGunzipRejectsGarbage(t *testing.T) {
	_, err := Gunzip([]byte("not gzip data"))
	assert.Error(t, err)
}

func TestImageRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	b, err := EncodeImage(img)
	require.NoError(t, err)

	out, err := DecodeImage(b)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), out.Bounds())
}

func TestGUIDBytesRoundTrip(t *testing.T) {
	id := uuid.New()
	b := GUIDBytes(id)
	require.Len(t, b, 16)

	back, err := GUIDFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, id, back)
}

func TestGUIDFromBytesRejectsWrongLength(t *testing.T) {
	_, err := GUIDFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNewGUIDIsNonEmptyAndUnique(t *testing.T) {
	a := NewGUID()
	b := NewGUID()
	assert.NotEqual(t, uuid.Nil, a)
	assert.NotEqual(t, a, b)
}
