package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"harvestreport/internal/types"
)

// Persisted logical keys.
const (
	KeyUserProfile        = "userProfile"
	KeyFishingLicense     = "fishingLicense"
	KeyPrimaryHarvestArea = "primaryHarvestArea"
	KeyBadgeSnapshot      = "badgeSnapshot"
	KeySubmittedReports   = "submittedReports"
	KeyPendingReports     = "pendingReports"
	KeyWorkingDraft       = "workingDraft"

	lastViewedPrefix = "lastViewed-"
)

// Features with a last-viewed timestamp.
const (
	FeatureReports = "reports"
	FeatureCatches = "catches"
)

// LastViewedKey returns the key holding the last-viewed timestamp of feature.
func LastViewedKey(feature string) string {
	return lastViewedPrefix + strings.TrimSpace(feature)
}

// LoadJSON decodes the value at key into v. It returns false with a nil
// error when the key is absent.
func LoadJSON(ctx context.Context, kv KV, key string, v any) (bool, error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, &types.StorageError{Op: "decode", Key: key, Err: err}
	}
	return true, nil
}

// SaveJSON encodes v and stores it at key.
func SaveJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := Encode(key, v)
	if err != nil {
		return err
	}
	return kv.Set(ctx, key, raw)
}

// Encode marshals v for storage at key, for callers assembling a SetMany batch.
func Encode(key string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &types.StorageError{Op: "encode", Key: key, Err: err}
	}
	return raw, nil
}

// LastViewed returns when feature was last viewed, or the zero time.
func LastViewed(ctx context.Context, kv KV, feature string) (time.Time, error) {
	var at time.Time
	if _, err := LoadJSON(ctx, kv, LastViewedKey(feature), &at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// MarkViewed records that feature was viewed at the given time.
func MarkViewed(ctx context.Context, kv KV, feature string, at time.Time) error {
	return SaveJSON(ctx, kv, LastViewedKey(feature), at.UTC())
}
