package caller

import (
	"net/http"
	"net/url"
)

// Request is one logical call. Path is either API-rooted ("/api/v1/...") or
// an absolute URL, as found in pagination links.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

func Get(path string, query url.Values) Request {
	return Request{Method: http.MethodGet, Path: path, Query: query}
}

func Post(path string, body any) Request {
	return Request{Method: http.MethodPost, Path: path, Body: body}
}

func Put(path string, body any) Request {
	return Request{Method: http.MethodPut, Path: path, Body: body}
}

func Delete(path string, query url.Values) Request {
	return Request{Method: http.MethodDelete, Path: path, Query: query}
}
