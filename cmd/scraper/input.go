package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// readURLFile reads one URL per line. Blank lines and lines starting with '#'
// are ignored.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()
	return readURLs(f)
}

func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

// collectURLs validates and de-duplicates targets, keeping the first
// occurrence of each. Rejected entries are logged.
func collectURLs(targets []string) []string {
	out := make([]string, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))
	for _, raw := range targets {
		target := strings.TrimSpace(raw)
		if target == "" {
			continue
		}
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			slog.Warn("ignoring invalid url", slog.String("url", target))
			continue
		}
		if _, dup := seen[target]; dup {
			slog.Warn("ignoring duplicate url", slog.String("url", target))
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}
