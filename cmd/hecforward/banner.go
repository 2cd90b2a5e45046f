package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func printStartupBanner(cfg appConfig, mode, listen string) {
	fmt.Println(renderBanner(cfg, mode, listen))
}

func renderBanner(cfg appConfig, mode, listen string) string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")
	warn := yellow.Render("●")

	logo := cyan.Bold(true).Render("    hecforward")
	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Source
	lines = append(lines, bold.Render("    Source"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Trigger        %s", check, cyan.Render(mode)))
	lines = append(lines, fmt.Sprintf("    %s  Listening      %s", check, cyan.Render(listen)))
	if cfg.S3Endpoint != "" {
		lines = append(lines, fmt.Sprintf("    %s  Object Store   %s", check, dim.Render(cfg.S3Endpoint)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Object Store   %s", check, dim.Render("AWS S3 "+cfg.S3Region)))
	}
	lines = append(lines, "")

	// Collector
	lines = append(lines, bold.Render("    Collector"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Endpoint       %s", check, cyan.Render(cfg.hecConfig().Endpoint())))
	lines = append(lines, fmt.Sprintf("    %s  Index          %s", check, dim.Render(cfg.Index+" / "+cfg.Sourcetype)))
	lines = append(lines, fmt.Sprintf("    %s  Batch Limit    %s", check, dim.Render(strconv.Itoa(cfg.MaxBatchBytes)+" bytes")))
	switch {
	case cfg.DisableTLS:
		lines = append(lines, fmt.Sprintf("    %s  TLS            %s", warn, yellow.Render("disabled")))
	case cfg.InsecureSkipVerify:
		lines = append(lines, fmt.Sprintf("    %s  TLS            %s", warn, yellow.Render("unverified")))
	default:
		lines = append(lines, fmt.Sprintf("    %s  TLS            %s", check, dim.Render("verified")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	return strings.Join(lines, "\n")
}

// shortenPath replaces the home directory prefix with ~.
func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if rel, err := filepath.Rel(home, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.Join("~", rel)
	}
	return path
}
