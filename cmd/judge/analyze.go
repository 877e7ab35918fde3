package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/okian/courtside/internal/adapters/gemini"
	app "github.com/okian/courtside/internal/app"
	"github.com/okian/courtside/internal/domain/scoring"
	"github.com/okian/courtside/internal/i18n"
	"github.com/okian/courtside/pkg/logger"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var quality string
	var outPath string
	var userID string
	var asJSON bool
	var save bool

	cmd := &cobra.Command{
		Use:   "analyze <video>",
		Short: "Analyze a recorded rally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd.Context())
			if err != nil {
				return err
			}
			path := args[0]
			media, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if len(media) == 0 {
				return errors.New("video is empty: " + path)
			}

			stderr := cmd.ErrOrStderr()
			fmt.Fprintf(stderr, "analyzing %s (%s)...\n", filepath.Base(path), humanize.Bytes(uint64(len(media))))

			analyzer := app.NewAnalyzer(cfg, logger.Get().Named("gemini"), func(_ context.Context, err error) {
				fmt.Fprintln(stderr, i18n.Localize(err, ctx.language()))
			})
			result, err := analyzer.Analyze(cmd.Context(), scoring.Request{
				Media:    media,
				MimeType: mimeFor(path),
				Language: i18n.Code(ctx.language()),
				Quality:  strings.TrimSpace(quality),
			})
			if err != nil {
				return ctx.userError(err)
			}

			if save {
				p, err := ctx.persister(cmd.Context())
				if err != nil {
					return err
				}
				serr := p.Save(cmd.Context(), userID, result)
				cerr := p.Close()
				if serr != nil {
					return ctx.userError(serr)
				}
				if cerr != nil {
					return cerr
				}
				fmt.Fprintf(stderr, "saved to %s history\n", p.Name())
			}
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				werr := writeJSON(f, result)
				if cerr := f.Close(); werr == nil {
					werr = cerr
				}
				if werr != nil {
					return werr
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, result)
			}
			printResult(out, result, shouldColorize(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&quality, "quality", "", "Recording quality hint, e.g. 1080p")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Also write the result JSON to this file")
	cmd.Flags().StringVar(&userID, "user", "", "Owner of the saved result")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&save, "save", false, "Store the result in the configured history backend")
	return cmd
}

// mimeFor guesses the upload type from the file extension.
func mimeFor(path string) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return gemini.UploadMimeType(t)
}
