package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"drive/internal/resource"
)

// serveFile streams a record's file, or redirects when the backend hands out
// direct URLs.
func serveFile(w http.ResponseWriter, r *http.Request, file *resource.File) {
	if file.RedirectURL != "" {
		w.Header().Set("Cache-Control", "private, no-store")
		http.Redirect(w, r, file.RedirectURL, http.StatusFound)
		return
	}
	defer file.Content.Close()

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Cache-Control", "private, max-age=0, must-revalidate")
	w.Header().Set("Content-Type", contentType)

	fileName := sanitizeDispositionFilename(file.Name)
	if !shouldForceDownload(r) && shouldRenderInline(contentType) {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", fileName))
	} else {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", fileName))
	}

	http.ServeContent(w, r, file.Name, file.ModTime, file.Content)
}

func sanitizeDispositionFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "download"
	}
	name = strings.ReplaceAll(name, "\\", "")
	name = strings.ReplaceAll(name, "\"", "")
	name = strings.ReplaceAll(name, "\r", "")
	name = strings.ReplaceAll(name, "\n", "")
	if name == "" {
		return "download"
	}
	return name
}

// shouldRenderInline lets browsers display images and PDFs. Notes are served
// as attachments since they may hold arbitrary text.
func shouldRenderInline(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if strings.HasPrefix(mimeType, "image/") && mimeType != "image/svg+xml" {
		return true
	}
	return mimeType == "application/pdf"
}

func shouldForceDownload(r *http.Request) bool {
	download := strings.TrimSpace(r.URL.Query().Get("download"))
	if download == "" {
		return false
	}

	force, err := strconv.ParseBool(download)
	if err != nil {
		return false
	}

	return force
}
