package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/kiranshivaraju/mentorlens/internal/app"
	"github.com/kiranshivaraju/mentorlens/internal/images"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
	"github.com/spf13/cobra"
)

// opener connects to the stores and the inference backend.
type opener func(ctx context.Context) (*app.ServiceContext, error)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "mentorlens-indexer",
		Short:         "Maintain advisor reference profiles and passages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newImportCmd(open))
	root.AddCommand(newScoreCmd(open))
	root.AddCommand(newListCmd(open))
	return root
}

func newImportCmd(open opener) *cobra.Command {
	var file string
	var replace bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import advisor profiles and passages from a YAML catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return fmt.Errorf("catalogue file is required (use --file or -f)")
			}
			sets, err := LoadCatalogue(file)
			if err != nil {
				return err
			}
			svc, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			return importSets(cmd.Context(), svc, sets, replace, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalogue YAML file")
	cmd.Flags().BoolVar(&replace, "replace", false, "delete each advisor's stored profiles before importing")
	return cmd
}

func importSets(ctx context.Context, svc *app.ServiceContext, sets []AdvisorSet, replace bool, out io.Writer) error {
	for _, set := range sets {
		if replace {
			n, err := svc.Store.DeleteProfiles(ctx, set.AdvisorID)
			if err != nil {
				return fmt.Errorf("delete profiles of %s: %w", set.AdvisorID, err)
			}
			slog.Info("profiles deleted", "advisor_id", set.AdvisorID, "count", n)
		}

		scored := 0
		for _, p := range set.Profiles {
			if err := svc.Store.UpsertProfile(ctx, p); err != nil {
				return fmt.Errorf("upsert profile %s/%s: %w", set.AdvisorID, p.ImageRef, err)
			}
			if p.Scored() {
				scored++
			}
		}
		for _, p := range set.Passages {
			if err := svc.Store.UpsertPassage(ctx, p); err != nil {
				return fmt.Errorf("upsert passage %s/%s: %w", set.AdvisorID, p.ID, err)
			}
		}
		invalidate(ctx, svc, set.AdvisorID)

		slog.Info("advisor imported",
			"advisor_id", set.AdvisorID,
			"profiles", len(set.Profiles),
			"scored", scored,
			"passages", len(set.Passages),
		)
		fmt.Fprintf(out, "%s: %d profiles (%d scored), %d passages\n",
			set.AdvisorID, len(set.Profiles), scored, len(set.Passages))
	}
	return nil
}

func newScoreCmd(open opener) *cobra.Command {
	var advisorID, dir, source string

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a directory of reference images into advisor profiles",
		Long: `Runs every JPEG, PNG and WebP file in --dir through the inference backend
in baseline mode and stores the derived profile under --advisor, keyed by file
name. Title and year of an already stored profile are kept. Images that fail
are reported and skipped; the command then exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			return scoreDirectory(cmd.Context(), svc, advisorID, dir, source, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&advisorID, "advisor", "", "advisor the images belong to")
	cmd.Flags().StringVar(&dir, "dir", "", "directory of reference images")
	cmd.Flags().StringVar(&source, "source", "", "source attribution stored on new profiles")
	_ = cmd.MarkFlagRequired("advisor")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func scoreDirectory(ctx context.Context, svc *app.ServiceContext, advisorID, dir, source string, out io.Writer) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read image dir: %w", err)
	}
	imgs, err := images.NewLocalStore(dir, 0)
	if err != nil {
		return err
	}

	existing, err := svc.Store.ListProfiles(ctx, advisorID)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	known := make(map[string]*models.DimensionalProfile, len(existing))
	for _, p := range existing {
		known[p.ImageRef] = p
	}

	waitCtx, cancel := context.WithTimeout(ctx, svc.Config.Inference.ReadyWait)
	err = svc.NewWorker().WaitReady(waitCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("inference backend not ready: %w", err)
	}

	var scored, unscored, failed int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ref := e.Name()
		data, mime, err := imgs.Load(ctx, ref)
		if err != nil {
			return err
		}
		if !images.Supported(mime) {
			slog.Debug("skipping non-image file", "file", ref, "mime", mime)
			continue
		}

		p, err := scoreImage(ctx, svc, advisorID, ref, data, mime)
		if err != nil {
			failed++
			slog.Warn("scoring failed", "advisor_id", advisorID, "image_ref", ref, "error", err)
			fmt.Fprintf(out, "%s\tfailed: %v\n", ref, err)
			continue
		}
		p.Source = source
		if prev, ok := known[ref]; ok {
			p.Title, p.Year = prev.Title, prev.Year
			if source == "" {
				p.Source = prev.Source
			}
		}
		if err := svc.Store.UpsertProfile(ctx, p); err != nil {
			return fmt.Errorf("upsert profile %s/%s: %w", advisorID, ref, err)
		}

		if p.Scored() {
			scored++
			fmt.Fprintf(out, "%s\tscored\n", ref)
		} else {
			unscored++
			slog.Warn("stored unscored profile", "advisor_id", advisorID, "image_ref", ref)
			fmt.Fprintf(out, "%s\tunscored\n", ref)
		}
	}
	invalidate(ctx, svc, advisorID)

	fmt.Fprintf(out, "scored %d, unscored %d, failed %d\n", scored, unscored, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, scored+unscored+failed)
	}
	return nil
}

func scoreImage(ctx context.Context, svc *app.ServiceContext, advisorID, ref string, data []byte, mime string) (*models.DimensionalProfile, error) {
	callCtx, cancel := context.WithTimeout(ctx, svc.Config.Inference.CallTimeout)
	defer cancel()

	res, err := svc.Backend.Infer(callCtx, models.InferenceRequest{
		Image:     data,
		ImageMIME: mime,
		AdvisorID: advisorID,
		Mode:      models.ModeBaseline,
	})
	if err != nil {
		return nil, err
	}
	return res.Critique.Profile(advisorID, ref), nil
}

func newListCmd(open opener) *cobra.Command {
	var advisorID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an advisor's stored profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			profiles, err := svc.Store.ListProfiles(cmd.Context(), advisorID)
			if err != nil {
				return fmt.Errorf("list profiles: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(profiles)
			}
			return printProfiles(cmd.OutOrStdout(), profiles)
		},
	}
	cmd.Flags().StringVar(&advisorID, "advisor", "", "advisor to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print profiles as JSON")
	_ = cmd.MarkFlagRequired("advisor")
	return cmd
}

func printProfiles(out io.Writer, profiles []*models.DimensionalProfile) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IMAGE_REF\tTITLE\tYEAR\tSCORED\tGRADE")
	for _, p := range profiles {
		year, grade := "-", "-"
		if p.Year != 0 {
			year = strconv.Itoa(p.Year)
		}
		if p.OverallGrade != nil {
			grade = strconv.FormatFloat(*p.OverallGrade, 'f', 1, 64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", p.ImageRef, p.Title, year, p.Scored(), grade)
	}
	return tw.Flush()
}

// invalidate drops the cached reference sets of an advisor. The data is
// already written, so a cache failure only delays visibility until the TTL.
func invalidate(ctx context.Context, svc *app.ServiceContext, advisorID string) {
	if err := svc.Retriever.Invalidate(ctx, advisorID); err != nil {
		slog.Warn("profile cache invalidation failed", "advisor_id", advisorID, "error", err)
	}
	if err := svc.Passages.Invalidate(ctx, advisorID, svc.Config.Retrieval.MaxPassages); err != nil {
		slog.Warn("passage cache invalidation failed", "advisor_id", advisorID, "error", err)
	}
}
