package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTextFormats(t *testing.T) {
	out, err := Text("notes.MD", []byte("# Title\r\n\r\nbody\x00"))
	require.NoError(t, err)
	require.Equal(t, "# Title\n\nbody", out)

	out, err = Text("empty.txt", []byte("   "))
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestTextUnsupported(t *testing.T) {
	_, err := Text("sheet.xlsx", []byte("x"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	require.False(t, Supported("sheet.xlsx"))
	require.True(t, Supported("paper.PDF"))
	require.True(t, Supported("readme.markdown"))
}

func TestTextRejectsCorruptPDF(t *testing.T) {
	_, err := Text("broken.pdf", []byte("not a pdf"))
	require.Error(t, err)
}
