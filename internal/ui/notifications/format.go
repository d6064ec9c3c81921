package notifications

import (
	"fmt"
	"strconv"
	"time"

	"github.com/medfatnasii277/portalbell/internal/model"
)

// MaxVisible is the number of newest records the panel lists.
const MaxVisible = 10

// Badge renders the unread counter for the bell. It is empty at zero and
// capped at "99+".
func Badge(unread int) string {
	switch {
	case unread <= 0:
		return ""
	case unread > 99:
		return "99+"
	default:
		return strconv.Itoa(unread)
	}
}

// Icon returns the glyph shown in front of a row.
func Icon(kind model.Kind) string {
	switch kind {
	case model.KindDocumentShared:
		return "📄"
	case model.KindDocumentAccessed:
		return "👁"
	case model.KindSystemMessage:
		return "ℹ"
	default:
		return "🔔"
	}
}

// FormatTime renders t relative to now: "Just now" within the hour, whole
// hours within a day, the calendar date otherwise.
func FormatTime(t, now time.Time) string {
	age := now.Sub(t)
	switch {
	case age < time.Hour:
		return "Just now"
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return t.In(now.Location()).Format("Jan 2, 2006")
	}
}

// Footer is shown under the list when the store holds more records than
// the panel displays.
func Footer(total int) string {
	if total <= MaxVisible {
		return ""
	}
	return fmt.Sprintf("Showing %d of %d notifications", MaxVisible, total)
}
