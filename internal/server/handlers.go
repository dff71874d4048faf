package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/omarluq/tpmguard/internal/quota"
	"github.com/omarluq/tpmguard/internal/ratelimit"
)

// BucketsResponse is the body of GET /v1/buckets.
type BucketsResponse struct {
	Object string                    `json:"object"`
	Data   []ratelimit.KeyedSnapshot `json:"data"`
}

// QuotaInfo is a quota row plus the live bucket rate, if the bucket exists.
type QuotaInfo struct {
	quota.Quota
	Key           string   `json:"key"`
	BucketRateTPM *float64 `json:"bucket_tokens_per_minute,omitempty"`
}

// QuotasResponse is the body of GET /v1/quotas.
type QuotasResponse struct {
	Object string      `json:"object"`
	Data   []QuotaInfo `json:"data"`
}

type handlers struct {
	manager *ratelimit.Manager
	limiter *quota.Limiter
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"buckets": h.manager.Len(),
	})
}

func (h *handlers) listBuckets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BucketsResponse{
		Object: "list",
		Data:   h.manager.Snapshots(),
	})
}

func (h *handlers) getBucket(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	bucket, ok := h.manager.Lookup(key).Get()
	if !ok {
		WriteError(w, http.StatusNotFound, "not_found_error", "no bucket for key "+key)
		return
	}

	writeJSON(w, http.StatusOK, ratelimit.KeyedSnapshot{Key: key, Snapshot: bucket.Snapshot()})
}

func (h *handlers) listQuotas(w http.ResponseWriter, _ *http.Request) {
	data := lo.Map(h.limiter.Quotas(), func(q quota.Quota, _ int) QuotaInfo {
		info := QuotaInfo{Quota: q, Key: q.Key()}
		if bucket, ok := h.manager.Lookup(q.Key()).Get(); ok {
			info.BucketRateTPM = lo.ToPtr(bucket.TokensPerMinute())
		}
		return info
	})

	writeJSON(w, http.StatusOK, QuotasResponse{
		Object: "list",
		Data:   data,
	})
}
