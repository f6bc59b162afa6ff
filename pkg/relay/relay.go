// Package relay encodes internal numeric identifiers as opaque external IDs
// in the form base64("Kind:id").
package relay

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidID = errors.New("invalid id")

// EncodeID turns an internal numeric id into an opaque external one. The
// URL-safe alphabet keeps encoded ids usable as path segments.
func EncodeID(kind string, id int64) string {
	return base64.URLEncoding.EncodeToString([]byte(kind + ":" + strconv.FormatInt(id, 10)))
}

// DecodeID reverses EncodeID. The kind must match; anything that does not
// decode to "kind:<positive int>" is rejected.
func DecodeID(kind, s string) (int64, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not base64", ErrInvalidID, s)
	}

	gotKind, rest, ok := strings.Cut(string(raw), ":")
	if !ok || gotKind != kind {
		return 0, fmt.Errorf("%w: expected a %s id", ErrInvalidID, kind)
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad numeric part %q", ErrInvalidID, rest)
	}

	return id, nil
}
