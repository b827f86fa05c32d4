// Package cli holds the terminal helpers of safesite-cli: .env loading and
// human-readable rendering of outlier events.
package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fpang/safesite-pipeline/internal/store"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// WriteEvents renders events as an aligned table. now anchors the AGE column.
func WriteEvents(w io.Writer, items []store.Item, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME (UTC)\tAGE\tVIDEO\tFRAME\tOUTLIERS\tIMAGE")
	for _, it := range items {
		ts, _ := it[store.AttrSortKey].(float64)
		at := time.Unix(int64(ts), 0).UTC()
		frame, _ := it["frameNumber"].(float64)
		video, _ := it[store.AttrVideoName].(string)

		image := "-"
		if u, ok := it["presignedAnnotatedImageUrl"].(string); ok && u != "" {
			image = u
		} else if u, ok := it["presignedImageUrl"].(string); ok && u != "" {
			image = u
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			at.Format("2006-01-02 15:04:05"),
			FormatDurationShort(now.Sub(at)),
			video,
			int(frame),
			outlierClasses(it["outliers"]),
			image,
		)
	}
	return tw.Flush()
}

// outlierClasses joins the class names of a stored outliers list.
func outlierClasses(v interface{}) string {
	list, _ := v.([]interface{})
	names := make([]string, 0, len(list))
	for _, o := range list {
		m, _ := o.(map[string]interface{})
		if cls, ok := m["class"].(string); ok {
			names = append(names, cls)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
