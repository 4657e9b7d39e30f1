// Package mediaurl builds the URLs clients use to fetch stored files.
package mediaurl

import (
	"net/url"
	"strings"
)

const APIPrefix = "/api/"

// File is the API route serving a record's file, e.g. /api/images/file/img_1.
func File(baseURL, collection, id string) string {
	rel := APIPrefix + collection + "/file/" + url.PathEscape(id)

	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return rel
	}
	return baseURL + rel
}

// Object joins a public bucket or CDN base URL with an object key.
func Object(publicBaseURL, key string) string {
	segments := strings.Split(strings.Trim(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(strings.TrimSpace(publicBaseURL), "/") + "/" + strings.Join(segments, "/")
}
