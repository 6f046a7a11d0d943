package httpclient

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultipart_Upload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("quarterly"), 0o600))

	var buf bytes.Buffer
	mock := NewMockServer().Stub(http.StatusOK, "text/plain", "ok")
	client, err := New("http://files.internal",
		WithMockServer(mock),
		WithLogger(zerolog.New(&buf)),
		WithLogLevel(zerolog.InfoLevel),
	)
	require.NoError(t, err)

	resp, err := client.Request("Upload").
		Path("/upload").
		File("document", path).
		FileReader("image", "photo.jpg", strings.NewReader("jpegdata")).
		FormField("title", "Q4").
		FormField("author", "ann").
		Post(context.Background())
	require.NoError(t, err)
	require.NoError(t, resp.Close())

	last := mock.LastRequest()
	require.NotNil(t, last)

	mediaType, params, err := mime.ParseMediaType(last.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	reader := multipart.NewReader(bytes.NewReader(last.Body), params["boundary"])
	parts := map[string]string{}
	files := map[string]string{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, _ := io.ReadAll(part)
		if part.FileName() != "" {
			files[part.FormName()] = part.FileName() + ":" + string(data)
		} else {
			parts[part.FormName()] = string(data)
		}
	}

	assert.Equal(t, map[string]string{"title": "Q4", "author": "ann"}, parts)
	assert.Equal(t, map[string]string{
		"document": "report.txt:quarterly",
		"image":    "photo.jpg:jpegdata",
	}, files)

	lines := logLines(t, &buf)
	require.NotEmpty(t, lines)
	assert.Equal(t, "multipart", lines[0]["payload_kind"])
	assert.Equal(t,
		"fields=[author,title] files=[document=report.txt(9B),image=photo.jpg(8B)]",
		lines[0]["payload"], "uploads are summarised instead of logged")
}

func TestMultipart_FieldsOnly(t *testing.T) {
	t.Parallel()

	mock := NewMockServer().Stub(http.StatusOK, "text/plain", "ok")
	client, err := New("http://files.internal", WithMockServer(mock))
	require.NoError(t, err)

	resp, err := client.Request("Form").Path("/form").FormField("k", "v").Post(context.Background())
	require.NoError(t, err)
	require.NoError(t, resp.Close())

	assert.True(t, strings.HasPrefix(mock.LastRequest().Header.Get("Content-Type"), "multipart/form-data; boundary="))
}
