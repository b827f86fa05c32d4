// Package fetcher serves stored outlier events to the dashboard.
//
// GET  ?limit=&videoName=&startDate=&endDate=
//
//	Returns {"success": true, "count": N, "events": [...]}, newest first,
//	with freshly presigned image links on every event.
//
// OPTIONS
//
//	CORS pre-flight; 200 with an empty body.
//
// Every response carries JSON and permissive CORS headers. Failures are
// reported as {"success": false, "error": "..."} with status 500.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/safesite-pipeline/internal/metrics"
	"github.com/fpang/safesite-pipeline/internal/s3util"
	"github.com/fpang/safesite-pipeline/internal/store"
)

const (
	component    = "outlier-fetcher"
	DefaultLimit = 50
	MaxLimit     = math.MaxInt32

	fieldAnnotatedURL = "presignedAnnotatedImageUrl"
	fieldImageURL     = "presignedImageUrl"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token",
	"Access-Control-Allow-Methods": "GET,OPTIONS",
}

// Handler lists outlier events.
type Handler struct {
	events     store.OutlierStore
	presigner  s3util.Presigner
	expiry     time.Duration
	metricsOut io.Writer
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates a handler. expiry is the lifetime of every link it issues.
func NewHandler(events store.OutlierStore, presigner s3util.Presigner, expiry time.Duration) *Handler {
	return &Handler{events: events, presigner: presigner, expiry: expiry}
}

// WithMetricsWriter redirects EMF output, used by tests.
func (h *Handler) WithMetricsWriter(w io.Writer) *Handler {
	h.metricsOut = w
	return h
}

type listResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Events  []store.Item `json:"events"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ServeHTTP dispatches pre-flight and list requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for k, v := range corsHeaders {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	rec := metrics.New(component)
	if h.metricsOut != nil {
		rec.WithWriter(h.metricsOut)
	}
	defer rec.Flush()

	items, err := h.List(r.Context(), r)
	if err != nil {
		log.Error().Err(err).Str("query", r.URL.RawQuery).Msg("Failed to fetch outlier events")
		rec.Add("FetchErrors", 1)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	rec.Add("EventsReturned", len(items))
	writeJSON(w, http.StatusOK, listResponse{Success: true, Count: len(items), Events: items})
}

// List parses the query, scans, refreshes links and sorts newest first.
func (h *Handler) List(ctx context.Context, r *http.Request) ([]store.Item, error) {
	filter, err := ParseFilter(r)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("limit", filter.Limit).
		Str("videoName", filter.VideoName).
		Msg("Fetching outlier events")

	items, err := h.events.ScanEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Item{}
	}

	for _, item := range items {
		h.refreshLinks(ctx, item)
	}
	SortNewestFirst(items)
	return items, nil
}

// ParseFilter reads limit, videoName, startDate and endDate. Dates are
// epoch seconds.
func ParseFilter(r *http.Request) (store.ScanFilter, error) {
	q := r.URL.Query()
	filter := store.ScanFilter{Limit: DefaultLimit, VideoName: q.Get("videoName")}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid limit %q: %w", raw, err)
		}
		if n < 1 || n > MaxLimit {
			return filter, fmt.Errorf("invalid limit %d: must be between 1 and %d", n, MaxLimit)
		}
		filter.Limit = n
	}

	var err error
	if filter.Start, err = epochParam(q.Get("startDate"), "startDate"); err != nil {
		return filter, err
	}
	if filter.End, err = epochParam(q.Get("endDate"), "endDate"); err != nil {
		return filter, err
	}
	return filter, nil
}

func epochParam(raw, name string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return &v, nil
}

// refreshLinks replaces stored links with new ones. A link that cannot be
// regenerated is removed rather than served stale.
func (h *Handler) refreshLinks(ctx context.Context, item store.Item) {
	delete(item, fieldAnnotatedURL)
	if uri, _ := item[store.AttrAnnotatedURI].(string); uri != "" {
		if bucket, key, err := s3util.SplitS3URI(uri); err == nil {
			if u := s3util.TryPresign(ctx, h.presigner, bucket, key, h.expiry); u != "" {
				item[fieldAnnotatedURL] = u
			}
		} else {
			log.Warn().Err(err).Str("uri", uri).Msg("Unparseable annotated frame URI")
		}
	}

	bucket, _ := item[store.AttrS3Bucket].(string)
	key, _ := item[store.AttrS3ImageKey].(string)
	if bucket == "" || key == "" {
		return
	}
	if u := s3util.TryPresign(ctx, h.presigner, bucket, key, h.expiry); u != "" {
		item[fieldImageURL] = u
	} else {
		delete(item, fieldImageURL)
	}
}

// SortNewestFirst orders items by timestamp, descending. Items without a
// numeric timestamp sort last.
func SortNewestFirst(items []store.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return timestampOf(items[i]) > timestampOf(items[j])
	})
}

func timestampOf(item store.Item) float64 {
	ts, _ := item[store.AttrSortKey].(float64)
	return ts
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
