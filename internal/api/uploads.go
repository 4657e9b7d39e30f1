package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
)

// multipartOverhead covers boundaries and text fields on top of the file
// itself. The exact file limit is enforced by the blob backend.
const multipartOverhead = 1 << 20

type uploadForm struct {
	form   *multipart.Form
	file   multipart.File
	header *multipart.FileHeader
}

func (f *uploadForm) value(key string) string {
	if f.form == nil {
		return ""
	}
	values := f.form.Value[key]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func (f *uploadForm) Close() {
	if f.file != nil {
		f.file.Close()
	}
	if f.form != nil {
		f.form.RemoveAll()
	}
}

// readUploadForm parses a multipart body with an optional "file" part. When
// it returns false the error response has already been written.
func readUploadForm(w http.ResponseWriter, r *http.Request, maxFileBytes int64) (*uploadForm, bool) {
	if maxFileBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxFileBytes+multipartOverhead)
	}

	if err := r.ParseMultipartForm(1 << 20); err != nil {
		if isBodyTooLargeError(err) {
			payloadTooLarge(w, "File exceeds maximum upload size")
		} else {
			badRequest(w, "Invalid multipart upload")
		}
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
		return nil, false
	}

	form := &uploadForm{form: r.MultipartForm}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return form, true
	case err != nil:
		form.Close()
		badRequest(w, "Invalid multipart upload")
		return nil, false
	}

	form.file = file
	form.header = header
	if header == nil || strings.TrimSpace(header.Filename) == "" {
		form.Close()
		badRequest(w, "File name is required")
		return nil, false
	}

	return form, true
}

func isBodyTooLargeError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "request body too large")
}
