package service

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour

	hours := d / time.Hour
	d -= hours * time.Hour

	minutes := d / time.Minute
	d -= minutes * time.Minute

	seconds := d / time.Second

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// psField runs ps for a single column of one pid. Busybox ps on some
// devices lacks -o; callers fall back to "N/A".
func psField(pid int, column string) (string, bool) {
	if pid <= 0 {
		return "", false
	}

	output, err := exec.Command("ps", "-o", column+"=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return "", false
	}

	value := strings.TrimSpace(string(output))
	return value, value != ""
}

func getProcessMemory(pid int) string {
	rssStr, ok := psField(pid, "rss")
	if !ok {
		return "N/A"
	}

	rssKB, err := strconv.ParseInt(rssStr, 10, 64)
	if err != nil {
		return "N/A"
	}

	return formatBytes(rssKB * 1024)
}

func getProcessCPU(pid int) string {
	cpuStr, ok := psField(pid, "%cpu")
	if !ok {
		return "N/A"
	}

	cpu, err := strconv.ParseFloat(cpuStr, 64)
	if err != nil {
		return "N/A"
	}

	return fmt.Sprintf("%.1f%%", cpu)
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
