package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ingestkit/ingestkit/internal/config"
	"github.com/ingestkit/ingestkit/internal/core"
)

// ParsePage reads page and per_page from the query string, applying the
// configured defaults and rejecting values outside the configured bounds.
func ParsePage(r *http.Request, cfg config.PaginationConfig) (core.Page, error) {
	query := r.URL.Query()

	page, err := queryInt(query.Get("page"), cfg.DefaultPage)
	if err != nil {
		return core.Page{}, fmt.Errorf("page: %w", err)
	}
	if page < cfg.MinPage || page > cfg.MaxPage {
		return core.Page{}, fmt.Errorf("page must be between %d and %d", cfg.MinPage, cfg.MaxPage)
	}

	perPage, err := queryInt(query.Get("per_page"), cfg.DefaultPerPage)
	if err != nil {
		return core.Page{}, fmt.Errorf("per_page: %w", err)
	}
	if perPage < cfg.MinPerPage || perPage > cfg.MaxPerPage {
		return core.Page{}, fmt.Errorf("per_page must be between %d and %d", cfg.MinPerPage, cfg.MaxPerPage)
	}

	return core.Page{Page: page, PerPage: perPage}, nil
}

func queryInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("must be an integer, got %q", raw)
	}
	return value, nil
}
