package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hannes/role-anonymizer/src/backend/pii"
)

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize [file]",
	Short: "Anonymize a file or stdin and write the result to stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAnonymize,
}

func init() {
	rootCmd.AddCommand(anonymizeCmd)
}

func runAnonymize(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0]) // #nosec G304 -- path is supplied by the operator
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	p, err := buildPipeline(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	return anonymizeStream(cmd.Context(), p.masking, in, cmd.OutOrStdout())
}

// anonymizeStream reads all of in and writes the anonymized text to out.
func anonymizeStream(ctx context.Context, masking *pii.MaskingService, in io.Reader, out io.Writer) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	result, err := masking.MaskText(ctx, string(data))
	if err != nil {
		return err
	}
	for _, rejected := range result.Rejected {
		log.Warn().
			Int("start", rejected.Start).
			Int("end", rejected.End).
			Str("reason", rejected.Reason).
			Msg("span skipped")
	}
	log.Info().
		Int("names", result.Names).
		Interface("roles", result.Roles).
		Msg("anonymized")

	_, err = io.WriteString(out, result.Text)
	return err
}
