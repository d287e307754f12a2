package httputil

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// MaxIDLength bounds item and viewer identifiers accepted from a request.
const MaxIDLength = 255

// ParsePathString extracts a string path parameter.
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// ParseItemID extracts the item identifier stored under key. Identifiers are
// written verbatim into the write-ahead log, so separators are refused here.
func ParseItemID(r *http.Request, key string) (string, error) {
	id, err := ParsePathString(r, key)
	if err != nil {
		return "", err
	}
	if err := checkID(key, id); err != nil {
		return "", err
	}
	return id, nil
}

// ParseViewerID returns the viewer identifier carried in header, or "" when the
// header is absent. Present values are held to the same rules as item ids.
func ParseViewerID(r *http.Request, header string) (string, error) {
	id := HeaderValue(r, header)
	if id == "" {
		return "", nil
	}
	if err := checkID(header, id); err != nil {
		return "", err
	}
	return id, nil
}

func checkID(name, id string) error {
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s exceeds %d characters", name, MaxIDLength)
	}
	if strings.ContainsAny(id, ",\n\r") {
		return fmt.Errorf("%s contains an invalid character", name)
	}
	return nil
}

// ParseItemIDOrError extracts an item identifier and writes a 400 on failure.
func ParseItemIDOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	id, err := ParseItemID(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return "", false
	}
	return id, true
}

// HeaderValue returns the trimmed value of header, or "" when it is absent.
func HeaderValue(r *http.Request, header string) string {
	return strings.TrimSpace(r.Header.Get(header))
}
