package cmd

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

func resolveURLs(positional []string, urlsFile string) ([]string, error) {
	trimmed := strings.TrimSpace(urlsFile)
	if trimmed != "" {
		if len(positional) > 0 {
			return nil, fmt.Errorf("cannot combine positional URLs with --urls-file")
		}
		return readURLsFile(trimmed)
	}

	urls := make([]string, 0, len(positional))
	for _, raw := range positional {
		target := strings.TrimSpace(raw)
		if target == "" {
			continue
		}
		if err := validateURL(target); err != nil {
			return nil, err
		}
		urls = append(urls, target)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one URL is required")
	}
	return urls, nil
}

func readURLsFile(path string) ([]string, error) {
	var reader io.Reader
	if path == "-" {
		reader = os.Stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close() // nolint:errcheck
		reader = file
	}

	urls := make([]string, 0)
	scanner := bufio.NewScanner(reader)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if err := validateURL(raw); err != nil {
			return nil, fmt.Errorf("invalid URL on line %d: %w", line, err)
		}
		urls = append(urls, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(urls) == 0 {
		return nil, fmt.Errorf("no URLs found")
	}
	return urls, nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid URL %q: host is required", raw)
	}
	return nil
}

// parsePairs splits "key=value" (or "Key: Value" when sep is ':') entries.
func parsePairs(values []string, sep string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	pairs := make(map[string]string, len(values))
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, sep)
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key%svalue, got %q", sep, raw)
		}
		pairs[key] = strings.TrimSpace(value)
	}
	return pairs, nil
}
