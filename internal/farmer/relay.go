package farmer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/store"
)

const (
	defaultStatsDaysKept = 30
	// DefaultStatsInterval is the fallback stats collection cadence; it also
	// replaces non-positive intervals handed to CollectStats.
	DefaultStatsInterval = 10 * time.Second
)

// relayGet fetches path from the farmer's local endpoint. An unreachable
// farmer is an input-state problem, not a system fault.
func (s *Supervisor) relayGet(ctx context.Context, path string) ([]byte, error) {
	base, err := baseURL(s.settings)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "farmer: build request", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "farmer: not reachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.New(errdefs.KindInvalidInput, "farmer: not reachable: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "farmer: read response", err)
	}
	return body, nil
}

// Metrics relays the farmer's metrics endpoint verbatim.
func (s *Supervisor) Metrics(ctx context.Context) (string, error) {
	body, err := s.relayGet(ctx, "/metrics")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PublicState relays the farmer's state document. The payload is validated
// as JSON and passed through untouched.
func (s *Supervisor) PublicState(ctx context.Context) (json.RawMessage, error) {
	body, err := s.relayGet(ctx, "/state")
	if err != nil {
		return nil, err
	}
	var probe any
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "farmer: decode state", err)
	}
	return json.RawMessage(body), nil
}

// RecentStats relays the farmer's live stats endpoint.
func (s *Supervisor) RecentStats(ctx context.Context) ([]store.HarvestStat, error) {
	body, err := s.relayGet(ctx, "/stats")
	if err != nil {
		return nil, err
	}
	var stats []store.HarvestStat
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "farmer: decode stats", err)
	}
	return stats, nil
}

// StatsRange reads persisted harvest history, not the live process.
func (s *Supervisor) StatsRange(start, end time.Time) ([]store.HarvestStat, error) {
	return s.stats.StatsRange(start, end)
}

// CollectStats polls the live stats endpoint on an interval while the
// farmer runs, persisting unseen samples and pruning old history. It
// returns when ctx is done.
func (s *Supervisor) CollectStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Running() {
				continue
			}
			if err := s.collectOnce(ctx); err != nil {
				s.log.Warn("farmer stats collection failed", zap.Error(err))
			}
		}
	}
}

func (s *Supervisor) collectOnce(ctx context.Context) error {
	stats, err := s.RecentStats(ctx)
	if err != nil {
		return err
	}
	for _, stat := range stats {
		seen, err := s.stats.HasStat(stat.ChallengeHash, stat.SPHash)
		if err != nil {
			return err
		}
		if seen {
			continue
		}
		if stat.Timestamp.IsZero() {
			stat.Timestamp = time.Now().UTC()
		}
		if err := s.stats.SaveStat(stat); err != nil {
			return err
		}
	}
	return s.stats.PruneStats(time.Now().UTC().AddDate(0, 0, -s.statsDaysKept()))
}

func (s *Supervisor) statsDaysKept() int {
	entry, err := s.settings.GetSetting(settingStatsDays)
	if err != nil || entry == nil {
		return defaultStatsDaysKept
	}
	days, err := strconv.Atoi(entry.Value)
	if err != nil || days <= 0 {
		return defaultStatsDaysKept
	}
	return days
}
