package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"hujra/internal/adapters/httpapi"
	"hujra/internal/assetcache"
	"hujra/internal/backup"
	"hujra/internal/core"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, errors.Wrap(err, "open input")
	}
	return f, nil
}

func runServe(ctx context.Context, a *app, _ []string, _ io.Writer) error {
	opts := httpapi.Options{
		Config:   a.cfg.HTTP,
		Service:  a.svc,
		Logger:   a.logger,
		Gatherer: a.registry,
	}
	if a.cfg.AssetCache.Enabled {
		assets, closeAssets, err := setupAssets(ctx, a)
		if err != nil {
			return err
		}
		defer closeAssets()
		opts.Assets = assets
	}
	srv := httpapi.NewServer(opts)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return <-errCh
}

// setupAssets builds the offline asset cache, drops entries from older cache
// versions and precaches the app shell. Precache failures are logged only.
func setupAssets(ctx context.Context, a *app) (http.Handler, func(), error) {
	backend, err := assetcache.NewBackend(a.cfg.AssetCache)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {}
	if rb, ok := backend.(*assetcache.RedisBackend); ok {
		if err := rb.Ping(ctx); err != nil {
			_ = rb.Close()
			return nil, nil, errors.Wrap(err, "asset cache redis")
		}
		closer = func() { _ = rb.Close() }
	}
	h, err := assetcache.New(a.cfg.AssetCache, backend, assetcache.WithLogger(a.logger))
	if err != nil {
		closer()
		return nil, nil, err
	}
	if n, err := h.Activate(ctx); err != nil {
		a.logger.Warn("asset cache cleanup failed", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("dropped stale assets", zap.Int("count", n))
	}
	if err := h.Warm(ctx, a.cfg.AssetCache.Precache); err != nil {
		a.logger.Warn("asset precache incomplete", zap.Error(err))
	}
	return h, closer, nil
}

func runStudents(_ context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("students")
	q := fs.String("q", "", "search term")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *q != "" {
		return printJSON(stdout, a.svc.Search(*q))
	}
	return printJSON(stdout, a.svc.Students())
}

func runExport(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("export")
	out := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	doc, err := a.svc.ExportBackup(ctx)
	if err != nil {
		return err
	}
	if *out == "" || *out == "-" {
		return backup.Encode(stdout, doc)
	}
	data, err := backup.EncodeBytes(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return errors.Wrap(err, "write backup")
	}
	_, err = fmt.Fprintf(stdout, "exported %d students and %d visits to %s\n", len(doc.Students), len(doc.Visits), *out)
	return err
}

func runImport(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("import")
	in := fs.String("i", "", "backup file (default stdin)")
	confirm := fs.Bool("confirm", false, "acknowledge that every record is replaced")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*confirm {
		return errors.New("import replaces every record; rerun with -confirm")
	}
	rc, err := openInput(*in)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	doc, err := backup.Decode(rc)
	if err != nil {
		return err
	}
	if err := a.svc.ImportBackup(ctx, doc); err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "imported %d students and %d visits\n", len(doc.Students), len(doc.Visits))
	return err
}

func runArchive(ctx context.Context, a *app, _ []string, stdout io.Writer) error {
	info, err := a.svc.ArchiveBackup(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "archived %s (%d bytes)\n", info.Key, info.Size)
	return err
}

func runArchives(ctx context.Context, a *app, _ []string, stdout io.Writer) error {
	infos, err := a.svc.ListArchives(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if _, err := fmt.Fprintf(stdout, "%s\t%d\t%s\n", info.Key, info.Size, info.LastModified.UTC().Format("2006-01-02T15:04:05Z")); err != nil {
			return err
		}
	}
	return nil
}

func runRestore(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("restore")
	key := fs.String("key", "", "archive key")
	confirm := fs.Bool("confirm", false, "acknowledge that every record is replaced")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("-key is required")
	}
	if !*confirm {
		return errors.New("restore replaces every record; rerun with -confirm")
	}
	if err := a.svc.RestoreArchive(ctx, *key); err != nil {
		return err
	}
	_, err := fmt.Fprintf(stdout, "restored %s\n", *key)
	return err
}

func runReport(ctx context.Context, a *app, _ []string, stdout io.Writer) error {
	rep, err := a.svc.Report(ctx)
	if err != nil {
		return err
	}
	return printJSON(stdout, rep)
}

func runRecordVisit(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("record-visit")
	in := fs.String("i", "", "visit JSON file (default stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rc, err := openInput(*in)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	var input core.RecordVisitInput
	if err := decodeJSON(rc, &input); err != nil {
		return err
	}
	res, err := a.svc.RecordVisit(ctx, input)
	if err != nil {
		return err
	}
	return printJSON(stdout, res)
}

func runDeleteStudent(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("delete-student")
	id := fs.String("id", "", "student id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}
	n, err := a.svc.DeleteStudent(ctx, *id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "deleted student %s and %d visits\n", *id, n)
	return err
}

func runAnalyze(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("analyze")
	id := fs.String("id", "", "student id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}
	text, err := a.svc.Analyze(ctx, *id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, text)
	return err
}
