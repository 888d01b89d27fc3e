package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rideloop/loyalty/internal/daemon"
)

// openDaemon loads the configuration and state without serving.
var openDaemon = daemon.New

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func formatHours(h float64) string {
	d := time.Duration(h * float64(time.Hour)).Round(time.Minute)
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("15:04")
}
