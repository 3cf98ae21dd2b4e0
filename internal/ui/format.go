package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// unitScale steps a value through successively larger units.
type unitScale struct {
	base  float64
	units []string
}

var (
	byteRates = unitScale{base: 1024, units: []string{"B/s", "KB/s", "MB/s", "GB/s", "TB/s", "PB/s"}}
	bitRates  = unitScale{base: 1000, units: []string{"bit/s", "kbit/s", "Mbit/s", "Gbit/s", "Tbit/s"}}
)

func (u unitScale) reduce(v float64) (float64, string) {
	i := 0
	for v >= u.base && i < len(u.units)-1 {
		v /= u.base
		i++
	}
	return v, u.units[i]
}

// FormatRate renders bytes per second with three significant digits at
// most, e.g. "512 B/s", "15.0 KB/s", "1.50 MB/s".
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	v, unit := byteRates.reduce(bytesPerSec)
	prec := 0
	switch {
	case v < 10:
		prec = 2
	case v < 100:
		prec = 1
	}
	return strconv.FormatFloat(v, 'f', prec, 64) + " " + unit
}

// FormatBits renders bits per second in decimal units, the way link speeds
// are quoted.
func FormatBits(bitsPerSec int64) string {
	if bitsPerSec <= 0 {
		return "0 bit/s"
	}
	v, unit := bitRates.reduce(float64(bitsPerSec))
	if unit == bitRates.units[0] {
		return strconv.FormatFloat(v, 'f', 0, 64) + " " + unit
	}
	return strconv.FormatFloat(v, 'f', 1, 64) + " " + unit
}

// FormatDuration renders d to the second: "42s", "3m 07s", "1h 02m 03s".
func FormatDuration(d time.Duration) string {
	total := int64(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, total/60%60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatETA is FormatDuration with "--" for an unknown estimate.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return FormatDuration(d)
}

// FormatCount groups the digits of n in thousands: 14302 -> "14,302".
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	digits := strconv.FormatInt(n, 10)
	out := make([]byte, 0, len(digits)+len(digits)/3)
	for i := range len(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digits[i])
	}
	return string(out)
}

// ProgressBar draws frac (clamped to [0,1]) as width cells of ▪ and □.
func ProgressBar(frac float64, width int) string {
	if width <= 0 {
		return ""
	}
	frac = min(max(frac, 0), 1)
	filled := int(frac * float64(width))
	return strings.Repeat("▪", filled) + strings.Repeat("□", width-filled)
}
