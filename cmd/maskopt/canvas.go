package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/manash/maskopt/internal/canvas"
	"github.com/manash/maskopt/internal/config"
	"github.com/manash/maskopt/internal/render"
	"github.com/manash/maskopt/internal/security"
)

func newCanvasCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canvas",
		Short: "Manage stored canvases",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Replace the canvas with an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanvasImport(cmd.Context(), app, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export <file>",
		Short: "Write the canvas to an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanvasExport(cmd.Context(), app, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "show",
		Aliases: []string{"list", "ls"},
		Short:   "List stored canvases",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCanvasShow(cmd.Context(), app)
		},
	})

	return cmd
}

func withCanvasStore(app *App, fn func(store *canvas.Store, cfg config.Config) error) error {
	cfg, err := loadConfig(app)
	if err != nil {
		return err
	}
	store, err := openCanvasStore(app, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store, cfg)
}

func runCanvasImport(ctx context.Context, app *App, path string) error {
	if err := security.ValidateImagePath(path); err != nil {
		return fmt.Errorf("invalid canvas file: %w", err)
	}
	img, err := render.NewCodec().LoadFile(path)
	if err != nil {
		return err
	}

	return withCanvasStore(app, func(store *canvas.Store, cfg config.Config) error {
		rev, err := store.Put(ctx, cfg.CanvasName, img)
		if err != nil {
			return fmt.Errorf("failed to store canvas: %w", err)
		}
		fmt.Fprintf(app.Out, "Canvas %s: %dx%d %s, %s (revision %s)\n",
			cfg.CanvasName, img.Width, img.Height, img.Format,
			humanize.Bytes(uint64(len(img.Data))), shortID(rev))
		return nil
	})
}

func runCanvasExport(ctx context.Context, app *App, path string) error {
	return withCanvasStore(app, func(store *canvas.Store, cfg config.Config) error {
		rec, err := store.Get(ctx, cfg.CanvasName)
		if err != nil {
			return err
		}
		if err := render.NewSaver().Save(rec.Image, path); err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "Saved: %s\n", path)
		return nil
	})
}

func runCanvasShow(ctx context.Context, app *App) error {
	return withCanvasStore(app, func(store *canvas.Store, _ config.Config) error {
		records, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(app.Out, "No canvases stored.")
			return nil
		}

		fmt.Fprintf(app.Out, "%-16s  %-12s  %-8s  %-10s  %s\n", "Name", "Size", "Bytes", "Revision", "Updated")
		for _, rec := range records {
			fmt.Fprintf(app.Out, "%-16s  %-12s  %-8s  %-10s  %s\n",
				rec.Name,
				fmt.Sprintf("%dx%d %s", rec.Image.Width, rec.Image.Height, rec.Image.Format),
				humanize.Bytes(uint64(len(rec.Image.Data))),
				shortID(rec.RevisionID),
				humanize.Time(rec.UpdatedAt))
		}
		return nil
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
