package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
	"golang.org/x/mod/semver"
)

const (
	releaseRepo = "oszuidwest/zwfm-candles"
	releaseFeed = "https://api.github.com/repos/" + releaseRepo + "/releases/latest"

	releasePollEvery      = 12 * time.Hour
	releaseFirstPoll      = 45 * time.Second // leaves startup and the mic alone
	releaseRequestTimeout = 20 * time.Second
	releaseAttempts       = 4
	releaseRetryMin       = 30 * time.Second
	releaseRetryMax       = 10 * time.Minute
)

// feedStatus tells the poll loop whether a failed poll is worth repeating.
type feedStatus int

const (
	feedSettled   feedStatus = iota // the feed answered, even if with nothing new
	feedTransient                   // network error, rate limit or 5xx
)

// ReleaseWatcher polls the project's release feed so the dashboard can tell
// the party host that a newer candle server exists.
type ReleaseWatcher struct {
	feed   string
	client *http.Client
	retry  *util.Backoff

	mu     sync.RWMutex
	latest string // newest published release without the "v"
	etag   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatchReleases starts polling the release feed in the background until Stop.
func WatchReleases() *ReleaseWatcher {
	w := newReleaseWatcher(releaseFeed)
	w.wg.Go(w.loop)
	return w
}

func newReleaseWatcher(feed string) *ReleaseWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReleaseWatcher{
		feed:   feed,
		client: &http.Client{Timeout: releaseRequestTimeout},
		retry:  util.NewBackoff(releaseRetryMin, releaseRetryMax),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Stop ends polling and waits for an in-flight poll to return.
func (w *ReleaseWatcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *ReleaseWatcher) loop() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("release watcher panicked", "panic", r)
		}
	}()

	wait := releaseFirstPoll
	for {
		select {
		case <-time.After(wait):
		case <-w.ctx.Done():
			return
		}
		w.pollUntilSettled()
		wait = releasePollEvery
	}
}

// pollUntilSettled retries transient failures with exponential backoff.
func (w *ReleaseWatcher) pollUntilSettled() {
	defer w.retry.Reset()
	for range releaseAttempts {
		if w.poll(w.ctx) == feedSettled {
			return
		}
		select {
		case <-time.After(w.retry.Next()):
		case <-w.ctx.Done():
			return
		}
	}
	slog.Debug("release feed unreachable, trying again later", "attempts", releaseAttempts)
}

type publishedRelease struct {
	Tag        string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// poll fetches the newest release once and records it if it is a stable,
// semver-tagged release.
func (w *ReleaseWatcher) poll(ctx context.Context) feedStatus {
	ctx, cancel := context.WithTimeoutCause(ctx, releaseRequestTimeout, fmt.Errorf("release feed did not answer within %s", releaseRequestTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.feed, http.NoBody)
	if err != nil {
		slog.Warn("invalid release feed", "url", w.feed, "error", err)
		return feedSettled
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "zwfm-candles/"+Version)

	w.mu.RLock()
	if w.etag != "" {
		req.Header.Set("If-None-Match", w.etag)
	}
	w.mu.RUnlock()

	resp, err := w.client.Do(req)
	if err != nil {
		slog.Debug("release feed request failed", "error", err)
		return feedTransient
	}
	defer util.SafeCloseFunc(resp.Body, "release feed")()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return feedTransient
	default:
		// 304 keeps the last answer; 404 means nothing was released yet.
		return feedSettled
	}

	var rel publishedRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		slog.Debug("unreadable release feed", "error", err)
		return feedTransient
	}
	if rel.Draft || rel.Prerelease {
		return feedSettled
	}
	if !semver.IsValid(semverTag(rel.Tag)) {
		slog.Debug("skipping release without a semver tag", "tag", rel.Tag)
		return feedSettled
	}

	w.mu.Lock()
	w.latest = plainVersion(rel.Tag)
	if etag := resp.Header.Get("ETag"); etag != "" {
		w.etag = etag
	}
	w.mu.Unlock()
	return feedSettled
}

// Info reports the running build and whether the host should upgrade.
// Development builds never offer an upgrade.
func (w *ReleaseWatcher) Info() types.VersionInfo {
	w.mu.RLock()
	latest := w.latest
	w.mu.RUnlock()

	running := plainVersion(Version)
	return types.VersionInfo{
		Current:     running,
		Latest:      latest,
		UpdateAvail: latest != "" && semver.IsValid(semverTag(running)) && newerRelease(latest, running),
		Commit:      Commit,
		BuildTime:   util.FormatHumanTime(BuildTime),
	}
}

func plainVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

func semverTag(v string) string {
	return "v" + plainVersion(v)
}

// newerRelease reports whether release is a later version than running.
func newerRelease(release, running string) bool {
	return semver.Compare(semverTag(release), semverTag(running)) > 0
}
