package qrcode_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelgate/channelgate/pkg/qrcode"
)

// PNG magic bytes.
var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47}

func TestGenerate(t *testing.T) {
	t.Parallel()

	t.Run("returns png bytes", func(t *testing.T) {
		t.Parallel()

		png, err := qrcode.Generate("https://pay.example.com/invoice/abc", 256)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(png, pngHeader))
	})

	t.Run("default size used for non-positive size", func(t *testing.T) {
		t.Parallel()

		png, err := qrcode.Generate("https://pay.example.com/invoice/abc", 0)
		require.NoError(t, err)
		assert.NotEmpty(t, png)
	})

	t.Run("empty content rejected", func(t *testing.T) {
		t.Parallel()

		_, err := qrcode.Generate("   ", 256)
		require.ErrorIs(t, err, qrcode.ErrEmptyContent)
	})
}
