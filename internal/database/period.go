package database

import (
	"fmt"
	"strings"
	"time"
)

const partitionLayout = "2006-01-02"

// GetToday returns today's UTC date as YYYY-MM-DD.
func GetToday() string {
	return PartitionOf(time.Now())
}

// PartitionOf returns the partition name for an instant.
func PartitionOf(t time.Time) string {
	return t.UTC().Format(partitionLayout)
}

// ValidPartition reports whether p is a YYYY-MM-DD date.
func ValidPartition(p string) bool {
	_, err := time.Parse(partitionLayout, p)
	return err == nil
}

// WeekEnding returns the seven partitions ending at end, oldest first.
func WeekEnding(end string) ([]string, error) {
	d, err := time.Parse(partitionLayout, end)
	if err != nil {
		return nil, fmt.Errorf("invalid partition %q: %w", end, err)
	}
	days := make([]string, 7)
	for i := range days {
		days[i] = d.AddDate(0, 0, i-6).Format(partitionLayout)
	}
	return days, nil
}

// MakePeriodID creates a period_id from start and end dates.
// If start == end, returns just the date (e.g., "2026-02-06").
// Otherwise returns a range (e.g., "2026-02-01..2026-02-06").
func MakePeriodID(start, end string) string {
	if start == end {
		return start
	}
	return start + ".." + end
}

// FormatPeriodDisplay formats a period_id for human-readable display.
// Single day: "Feb 06, 2026"
// Range: "Feb 01 - Feb 06, 2026"
func FormatPeriodDisplay(periodID string) string {
	if strings.Contains(periodID, "..") {
		parts := strings.SplitN(periodID, "..", 2)
		start, err := time.Parse(partitionLayout, parts[0])
		if err != nil {
			return periodID
		}
		end, err := time.Parse(partitionLayout, parts[1])
		if err != nil {
			return periodID
		}
		return fmt.Sprintf("%s - %s", start.Format("Jan 02"), end.Format("Jan 02, 2006"))
	}

	d, err := time.Parse(partitionLayout, periodID)
	if err != nil {
		return periodID
	}
	return d.Format("Jan 02, 2006")
}
