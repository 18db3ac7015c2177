package e2e

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// bytesReader is the minimal io.Reader+io.Seeker http.NewRequest
// wants for a request body built from an in-memory byte slice.
type bytesReader = bytes.Reader

func newBytesReader(b []byte) *bytesReader {
	return bytes.NewReader(b)
}

func readAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return data
}
