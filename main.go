// Command zwfm-candles runs a birthday party page whose candles can be blown
// out through the microphone.
//
// Usage:
//
//	zwfm-candles [-config path/to/config.json]
//
// If -config is not specified, the server looks for config.json in the same
// directory as the binary.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/oszuidwest/zwfm-candles/internal/candles"
	"github.com/oszuidwest/zwfm-candles/internal/config"
	"github.com/oszuidwest/zwfm-candles/internal/eventlog"
	"github.com/oszuidwest/zwfm-candles/internal/notify"
	"github.com/oszuidwest/zwfm-candles/internal/party"
	"github.com/oszuidwest/zwfm-candles/internal/remote"
	"github.com/oszuidwest/zwfm-candles/internal/store"
	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	ensureAPIKey(cfg)
	snap := cfg.Snapshot()

	// Check FFmpeg availability
	ffmpegPath := util.ResolveFFmpegPath(cfg.GetFFmpegPath())
	ffmpegAvailable := ffmpegPath != ""
	if !ffmpegAvailable {
		slog.Warn("FFmpeg not found - microphone detection disabled",
			"configured_path", cfg.GetFFmpegPath())
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	rows, localOnly, err := openRows(&snap)
	if err != nil {
		slog.Error("failed to open row store", "error", err)
		os.Exit(1)
	}

	journalPath := cmp.Or(snap.JournalPath, eventlog.DefaultLogPath(snap.WebPort))
	var journal candles.Journal
	journalLogger, err := eventlog.NewLogger(journalPath)
	if err != nil {
		slog.Warn("event journal disabled", "path", journalPath, "error", err)
		journalPath = ""
	} else {
		journal = journalLogger
	}

	notifier := notify.NewCelebrationNotifier(cfg)

	p := party.New(party.Options{
		Config:     cfg,
		Rows:       rows,
		LocalOnly:  localOnly,
		Journal:    journal,
		Notifier:   notifier,
		FFmpegPath: ffmpegPath,
	})
	if err := p.Start(context.Background()); err != nil {
		slog.Error("failed to start party", "error", err)
		os.Exit(1)
	}
	slog.Info("party started", "room", p.PrimaryRoom(), "candles", snap.CandleCount)

	srv := NewServer(cfg, p, notifier, journalPath, ffmpegAvailable)

	// Start web server.
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	// Stop polling for releases.
	srv.releases.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, util.WrapError("shut down HTTP server", err))
	}
	p.Stop()
	notifier.Wait()
	if err := rows.Close(); err != nil {
		errs = append(errs, util.WrapError("close row store", err))
	}
	if journalLogger != nil {
		if err := journalLogger.Close(); err != nil {
			errs = append(errs, util.WrapError("close journal", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("shutdown finished with errors", "error", err)
		return
	}

	slog.Info("shutdown complete")
}

// openRows opens the row store: another candle server when sync.server_url
// is set, otherwise the configured local backend with realtime inserts.
// localOnly reports the offline key-value fallback.
func openRows(snap *config.Snapshot) (rows party.RowStore, localOnly bool, err error) {
	if snap.HasRemoteServer() {
		c, err := remote.New(snap.ServerURL)
		if err != nil {
			return nil, false, err
		}
		slog.Info("using remote room server", "url", c.URL())
		return c, false, nil
	}

	s, err := store.Open(snap.Storage)
	if err != nil {
		return nil, false, err
	}
	slog.Info("using local row store", "backend", snap.Storage.Backend)
	if snap.Storage.Backend == store.BackendS3 {
		ctx, cancel := context.WithTimeout(context.Background(), types.S3CheckTimeout)
		if err := store.TestS3Connection(ctx, &snap.Storage.S3); err != nil {
			slog.Warn("S3 bucket not reachable, inserts will fail until it is", "bucket", snap.Storage.S3.Bucket, "error", err)
		}
		cancel()
	}
	return store.NewRealtime(s), snap.Storage.Backend == store.BackendLocal, nil
}

// ensureAPIKey generates the admin API key on first start.
func ensureAPIKey(cfg *config.Config) {
	if cfg.GetAPIKey() != "" {
		return
	}
	key, err := config.GenerateAPIKey()
	if err != nil {
		slog.Warn("failed to generate API key", "error", err)
		return
	}
	if err := cfg.SetAPIKey(key); err != nil {
		slog.Warn("failed to save API key", "error", err)
		return
	}
	slog.Info("generated admin API key, see api_key in the config file")
}
