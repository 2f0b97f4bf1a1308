package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToHTML(t *testing.T) {
	out, err := ToHTML("## Summary\n\n- one\n- two")
	require.NoError(t, err)
	assert.Contains(t, out, "<h2>Summary</h2>")
	assert.Contains(t, out, "<li>one</li>")
}

func TestToHTMLEscapesRawHTML(t *testing.T) {
	out, err := ToHTML("<script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
}
