package mate

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/slamtalk/slamtalk/internal/apperr"
)

const cursorV1 = "v1"

// EncodeCursor returns the opaque token for posts created before t.
func EncodeCursor(t time.Time) string {
	raw := cursorV1 + ":" + strconv.FormatInt(t.UnixMicro(), 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token
// decodes to the zero time.
func DecodeCursor(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.InvalidCursor, err)
	}

	version, value, ok := strings.Cut(string(raw), ":")
	if !ok || version != cursorV1 {
		return time.Time{}, apperr.Newf(apperr.InvalidCursor, "unsupported cursor %q", token)
	}

	micros, err := strconv.ParseInt(value, 10, 64)
	if err != nil || micros <= 0 {
		return time.Time{}, apperr.Newf(apperr.InvalidCursor, "malformed cursor %q", token)
	}

	return time.UnixMicro(micros).UTC(), nil
}
