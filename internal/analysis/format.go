package analysis

import "fmt"

const metersPerKm = 1000.0

// FormatDistance formats meters as kilometres with two decimals.
func FormatDistance(meters float64) string {
	return fmt.Sprintf("%.2f km", meters/metersPerKm)
}

// FormatPace formats the average pace as m:ss per kilometre.
func FormatPace(seconds int, meters float64) string {
	if meters <= 0 || seconds <= 0 {
		return "-"
	}
	paceSeconds := float64(seconds) / (meters / metersPerKm)
	mins := int(paceSeconds) / 60
	secs := int(paceSeconds) % 60
	return fmt.Sprintf("%d:%02d", mins, secs)
}

// FormatDuration formats seconds as h:mm:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}
