package fulltext

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandConverter_Defaults(t *testing.T) {
	t.Parallel()

	c := NewCommandConverter("", 0)
	assert.Equal(t, "pdftotext", c.command)
	assert.Equal(t, 60*time.Second, c.timeout)

	c = NewCommandConverter("mutool", 10*time.Second)
	assert.Equal(t, "mutool", c.command)
	assert.Equal(t, 10*time.Second, c.timeout)
}

func TestCommandConverter_Convert(t *testing.T) {
	t.Parallel()

	t.Run("captures converter stdout", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "doc.pdf")
		require.NoError(t, os.WriteFile(path, []byte(pdfBody), 0o644))

		// echo stands in for the converter; it prints its arguments.
		c := NewCommandConverter("echo", 5*time.Second)
		out, err := c.Convert(context.Background(), path)
		require.NoError(t, err)
		assert.Contains(t, out, path)
	})

	t.Run("missing binary errors", func(t *testing.T) {
		t.Parallel()
		c := NewCommandConverter("definitely-not-a-real-converter", 5*time.Second)
		_, err := c.Convert(context.Background(), "whatever.pdf")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "definitely-not-a-real-converter")
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := NewCommandConverter("echo", 5*time.Second)
		_, err := c.Convert(ctx, "whatever.pdf")
		require.Error(t, err)
	})
}

func TestFirstLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", firstLine(""))
	assert.Equal(t, "error: bad xref", firstLine("error: bad xref\nmore detail\n"))
	assert.Equal(t, "single", firstLine("  single  "))
	assert.Len(t, firstLine(string(make([]byte, 500))), 200)
}
