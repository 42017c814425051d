package napi

import (
	"time"

	"github.com/marmos91/nxfs/pkg/backend"
)

// FormatTime renders t in local time as YYYY-MM-DDThh:mm:ss±hh:mm, the
// form used for file_time attributes.
func FormatTime(t time.Time) string {
	return backend.Timestamp(t)
}

// FormatNow is FormatTime(time.Now()).
func FormatNow() string {
	return FormatTime(time.Now())
}
