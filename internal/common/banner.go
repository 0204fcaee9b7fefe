package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner to stderr.
func PrintBanner(config *Config, logger *Logger) {
	version := GetVersion()
	build := GetBuild()
	commit := GetGitCommit()
	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)
	storagePath := config.Storage.Path

	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 70
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	art := []string{
		`  __  __            _        _    ____           _          `,
		` |  \/  | __ _ _ __| | _____| |_ / ___|__ _  ___| |__   ___ `,
		` | |\/| |/ _` + "`" + ` | '__| |/ / _ \ __| |   / _` + "`" + ` |/ __| '_ \ / _ \`,
		` | |  | | (_| | |  |   <  __/ |_| |__| (_| | (__| | | |  __/`,
		` |_|  |_|\__,_|_|  |_|\_\___|\__|\____\__,_|\___|_| |_|\___|`,
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")
	for _, line := range art {
		fmt.Fprintf(os.Stderr, "%s%s%s\n", textColor, line, banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s  Stock Data Layer: local store, provider fallback, cache%s\n", textColor, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")

	kvPad := 16
	kvLines := bannerLines(config)
	for _, kv := range kvLines {
		fmt.Fprintf(os.Stderr, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("commit", commit).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Str("storage_path", storagePath).
		Strs("providers", config.Providers.Order).
		Msg("Application started")
}

// PrintShutdownBanner displays the application shutdown banner to stderr.
func PrintShutdownBanner(logger *Logger) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 42
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "%s  MARKETCACHE: SHUTTING DOWN%s\n", textColor, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")

	logger.Info().Msg("Application shutting down")
}

// bannerLines lists the settings an operator checks first: where data lives,
// which providers are tried in what order, and what maintenance will run.
func bannerLines(config *Config) [][2]string {
	lines := [][2]string{
		{"Version", GetFullVersion()},
		{"Environment", config.Environment},
		{"Service URL", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)},
		{"Storage", fmt.Sprintf("%s (%s, index %s)", config.Storage.Path,
			onOff(config.Storage.Compression, "zstd", "plain json"), onOff(config.Storage.Indexing, "on", "off"))},
	}

	missing := make(map[string]bool)
	for _, key := range config.ValidateRequired() {
		missing[strings.TrimSuffix(strings.TrimPrefix(key, "clients."), ".api_key")] = true
	}
	providers := make([]string, 0, len(config.Providers.Order))
	for _, name := range config.Providers.Order {
		if missing[name] {
			name += " (no key)"
		}
		providers = append(providers, name)
	}
	lines = append(lines,
		[2]string{"Providers", strings.Join(providers, " -> ")},
		[2]string{"Provider timeout", config.Providers.GetTimeout().String()},
		[2]string{"Cache", fmt.Sprintf("%d windows, FIFO", config.Cache.Capacity)},
		[2]string{"Batch workers", fmt.Sprintf("%d", config.Batch.Workers)},
	)

	m := config.Maintenance
	if m.RetentionDays > 0 && m.RetentionSchedule != "" {
		lines = append(lines, [2]string{"Retention", fmt.Sprintf("%d days @ %s", m.RetentionDays, m.RetentionSchedule)})
	} else {
		lines = append(lines, [2]string{"Retention", "disabled"})
	}
	if config.Storage.Indexing && m.ReindexSchedule != "" {
		lines = append(lines, [2]string{"Reindex", m.ReindexSchedule})
	}
	return lines
}

func onOff(v bool, on, off string) string {
	if v {
		return on
	}
	return off
}
