package httpclient

import (
	"net/url"
	"strings"
)

// MergePath joins basePath and path with exactly one slash between them.
//
//	MergePath("/api/", "/users") // "/api/users"
//	MergePath("/api", "users")   // "/api/users"
//	MergePath("/api/", "users")  // "/api/users"
func MergePath(basePath, path string) string {
	baseSlash := strings.HasSuffix(basePath, "/")
	pathSlash := strings.HasPrefix(path, "/")

	switch {
	case baseSlash && pathSlash:
		return basePath + path[1:]
	case !baseSlash && !pathSlash:
		return basePath + "/" + path
	default:
		return basePath + path
	}
}

// JoinURL returns a copy of base with path merged onto its path.
// A query string in path is appended to the base query.
func JoinURL(base *url.URL, path string) *url.URL {
	u := cloneURL(base)

	rawQuery := ""
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, rawQuery = path[:i], path[i+1:]
	}

	// path is in escaped form, so escapes such as %2F from PathParam survive.
	merged := MergePath(u.EscapedPath(), path)
	if unescaped, err := url.PathUnescape(merged); err == nil {
		u.Path, u.RawPath = unescaped, merged
	} else {
		u.Path, u.RawPath = merged, ""
	}

	if rawQuery != "" {
		if u.RawQuery == "" {
			u.RawQuery = rawQuery
		} else {
			u.RawQuery += "&" + rawQuery
		}
	}
	return u
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}
