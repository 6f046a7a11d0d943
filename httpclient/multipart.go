package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileUpload is one file part of a multipart call. Exactly one of Reader
// and Path is set.
type FileUpload struct {
	FieldName string
	FileName  string

	// Reader is streamed into the part as is.
	Reader io.Reader

	// Path is opened when the call is encoded.
	Path string
}

// File adds a file upload from a file path.
//
// The file is opened when the request is sent. A missing or unreadable file
// fails the call with ErrEncodeRequest.
//
// Example:
//
//	resp, err := client.Request("UploadDoc").
//	    Path("/upload").
//	    File("document", "/path/to/report.pdf").
//	    FormField("title", "Q4 Report").
//	    Post(ctx)
func (rb *RequestBuilder) File(fieldName, filePath string) *RequestBuilder {
	rb.fileUploads = append(rb.fileUploads, FileUpload{
		FieldName: fieldName,
		FileName:  filepath.Base(filePath),
		Path:      filePath,
	})
	return rb
}

// FileReader adds an upload read from reader under fileName.
func (rb *RequestBuilder) FileReader(fieldName, fileName string, reader io.Reader) *RequestBuilder {
	rb.fileUploads = append(rb.fileUploads, FileUpload{
		FieldName: fieldName,
		FileName:  fileName,
		Reader:    reader,
	})
	return rb
}

// FormField adds a form field to a multipart request.
func (rb *RequestBuilder) FormField(key, value string) *RequestBuilder {
	if rb.formFields == nil {
		rb.formFields = make(map[string]string)
	}
	rb.formFields[key] = value
	return rb
}

// buildMultipart encodes fields and files. The summary lists field names
// and uploads for the logging stage instead of the raw bytes.
func (rb *RequestBuilder) buildMultipart() ([]byte, string, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	keys := make([]string, 0, len(rb.formFields))
	for key := range rb.formFields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := writer.WriteField(key, rb.formFields[key]); err != nil {
			return nil, "", "", err
		}
	}

	uploads := make([]string, 0, len(rb.fileUploads))
	for _, file := range rb.fileUploads {
		n, err := writeFilePart(writer, file)
		if err != nil {
			return nil, "", "", err
		}
		uploads = append(uploads, fmt.Sprintf("%s=%s(%dB)", file.FieldName, file.FileName, n))
	}

	if err := writer.Close(); err != nil {
		return nil, "", "", err
	}

	summary := fmt.Sprintf("fields=[%s] files=[%s]", strings.Join(keys, ","), strings.Join(uploads, ","))
	return body.Bytes(), writer.FormDataContentType(), summary, nil
}

func writeFilePart(writer *multipart.Writer, file FileUpload) (int64, error) {
	reader := file.Reader
	if reader == nil {
		f, err := os.Open(file.Path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		reader = f
	}

	part, err := writer.CreateFormFile(file.FieldName, file.FileName)
	if err != nil {
		return 0, err
	}
	return io.Copy(part, reader)
}
