package badge

import (
	"context"
	"time"

	"harvestreport/internal/store"
	"harvestreport/internal/types"
)

// StoreSources derives every counter from the durable report lists and
// last-viewed timestamps, so a cold cache can always be rebuilt from storage.
func StoreSources(kv store.KV) Sources {
	return Sources{
		PastReportsCount: func(ctx context.Context) (int, error) {
			pending, submitted, err := loadReports(ctx, kv)
			if err != nil {
				return 0, err
			}
			return len(pending) + len(submitted), nil
		},

		HasNewReport: func(ctx context.Context) (bool, error) {
			since, err := store.LastViewed(ctx, kv, store.FeatureReports)
			if err != nil {
				return false, err
			}
			var submitted []types.SubmittedReport
			if _, err := store.LoadJSON(ctx, kv, store.KeySubmittedReports, &submitted); err != nil {
				return false, err
			}
			for _, s := range submitted {
				if s.SubmittedAt.After(since) {
					return true, nil
				}
			}
			return false, nil
		},

		TotalSpecies: func(ctx context.Context) (int, error) {
			pending, submitted, err := loadReports(ctx, kv)
			if err != nil {
				return 0, err
			}
			species := make(map[string]struct{})
			add := func(p types.Payload) {
				for _, f := range p.Fish {
					if k := types.SpeciesKey(f.Species); k != "" {
						species[k] = struct{}{}
					}
				}
			}
			for _, p := range pending {
				add(p.Payload)
			}
			for _, s := range submitted {
				add(s.Payload)
			}
			return len(species), nil
		},

		NewCatchesCount: func(ctx context.Context) (int, error) {
			since, err := store.LastViewed(ctx, kv, store.FeatureCatches)
			if err != nil {
				return 0, err
			}
			pending, submitted, err := loadReports(ctx, kv)
			if err != nil {
				return 0, err
			}
			n := 0
			count := func(at time.Time, p types.Payload) {
				if !at.After(since) {
					return
				}
				for _, f := range p.Fish {
					n += f.Count
				}
			}
			for _, p := range pending {
				count(p.QueuedAt, p.Payload)
			}
			for _, s := range submitted {
				count(s.SubmittedAt, s.Payload)
			}
			return n, nil
		},
	}
}

func loadReports(ctx context.Context, kv store.KV) ([]types.QueuedReport, []types.SubmittedReport, error) {
	var pending []types.QueuedReport
	var submitted []types.SubmittedReport
	if _, err := store.LoadJSON(ctx, kv, store.KeyPendingReports, &pending); err != nil {
		return nil, nil, err
	}
	if _, err := store.LoadJSON(ctx, kv, store.KeySubmittedReports, &submitted); err != nil {
		return nil, nil, err
	}
	return pending, submitted, nil
}
