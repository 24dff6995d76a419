package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/segment-cli/internal/model"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect saved model artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List artifact versions, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		artifacts, err := openArtifactStore(ctx)
		if err != nil {
			return err
		}
		defer artifacts.Close() //nolint:errcheck

		infos, err := artifacts.List(ctx)
		if err != nil {
			return eris.Wrap(err, "artifacts list")
		}
		if len(infos) == 0 {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No artifacts found.")
			return nil
		}
		formatArtifactList(cmd.OutOrStdout(), infos)
		return nil
	},
}

var artifactsShowCmd = &cobra.Command{
	Use:   "show [version]",
	Short: "Print an artifact (default latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		version := model.LatestVersion
		if len(args) == 1 {
			version = args[0]
		}
		format, _ := cmd.Flags().GetString("format")

		artifacts, err := openArtifactStore(ctx)
		if err != nil {
			return err
		}
		defer artifacts.Close() //nolint:errcheck

		a, err := artifacts.Load(ctx, version)
		if err != nil {
			return eris.Wrap(err, "artifacts show")
		}
		return renderArtifact(cmd.OutOrStdout(), format, a)
	},
}

func init() {
	artifactsShowCmd.Flags().String("format", "json", "output format: json or yaml")

	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsShowCmd)
	rootCmd.AddCommand(artifactsCmd)
}

// renderArtifact writes a as indented JSON or YAML.
func renderArtifact(out io.Writer, format string, a *model.ModelArtifact) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(a), "render artifact json")
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(a); err != nil {
			return eris.Wrap(err, "render artifact yaml")
		}
		return eris.Wrap(enc.Close(), "render artifact yaml")
	default:
		return eris.Errorf("unknown format %q (want json or yaml)", format)
	}
}

// formatArtifactList writes a tabular list of artifact versions to out.
func formatArtifactList(out io.Writer, infos []model.ArtifactInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tCREATED\tK\tCOLUMNS\tCHECKSUM")
	_, _ = fmt.Fprintln(w, "-------\t-------\t-\t-------\t--------")
	for _, info := range infos {
		sum := info.Checksum
		if len(sum) > 12 {
			sum = sum[:12]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			info.Version,
			info.CreatedAt.Format("2006-01-02 15:04"),
			info.K,
			strings.Join(info.Columns, ","),
			sum,
		)
	}
	_ = w.Flush()
}
