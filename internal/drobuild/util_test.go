package drobuild

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/gookit/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects both plain stdout and the styled printer output
// for the duration of fn.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	old := os.Stdout
	os.Stdout = w
	color.SetOutput(w)

	fn()

	w.Close()
	os.Stdout = old
	color.ResetOutput()

	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String()
}

func TestCPrintfNilFallsBackToPlain(t *testing.T) {
	out := captureOutput(t, func() {
		cPrintf(nil, "built %d stages\n", 2)
		cPrintln(nil, "done")
	})
	assert.Contains(t, out, "built 2 stages")
	assert.Contains(t, out, "done")
}

func TestArrowHelpersPrefixMessages(t *testing.T) {
	out := captureOutput(t, func() {
		arrowPrintf(colSuccess, "Stage %s finished\n", "ncurses")
		arrowPrintln(colWarn, "Low disk space")
	})
	assert.Contains(t, out, "-> ")
	assert.Contains(t, out, "Stage ncurses finished")
	assert.Contains(t, out, "Low disk space")
}
