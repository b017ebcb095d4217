package cli

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"refinery/internal/oracle"
	"refinery/internal/types"
)

var validateReferences string

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a saved LLM answer against the refinement schema",
	Long: `Validate decodes a raw LLM answer from a file ("-" for stdin) exactly
as the gateway would, and reports the first schema violation or dangling
reference. Nothing is sent to the LLM and nothing is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := oracle.ParseReferencePolicy(validateReferences)
		if err != nil {
			return NewCLIError("invalid --references", "Use strict or warn", err)
		}
		var raw []byte
		if args[0] == "-" {
			text, err := readAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			raw = []byte(text)
		} else {
			raw, err = os.ReadFile(args[0])
			if err != nil {
				return NewCLIError("cannot read file", "Check the path", err)
			}
		}

		// Dangling references are printed as warnings below, so the
		// decoder's own per-reference log lines are suppressed.
		decLog := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelError}))
		dec := oracle.NewDecoder(
			oracle.WithReferencePolicy(policy),
			oracle.WithDecoderLogger(decLog),
		)
		res, err := dec.Decode(raw)
		if err != nil {
			return validationError(err)
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		printSuccess(cmd.OutOrStdout(), "Valid: %d epics, %d stories, %d features, %d tasks",
			len(res.Epics), len(res.UserStories), len(res.Features), len(res.Tasks))
		for _, d := range oracle.CheckReferences(res) {
			printWarning(cmd.OutOrStdout(), "%s", d.Error())
		}
		return nil
	},
}

// validationError keeps the decoder detail, unlike MapError, since the file
// author needs the offending path.
func validationError(err error) error {
	var schemaErr *types.SchemaMismatchError
	if errors.As(err, &schemaErr) {
		return NewCLIError(schemaErr.Error(), "Fix the value at "+schemaErr.Path, err)
	}
	var refErr *types.DanglingReferenceError
	if errors.As(err, &refErr) {
		return NewCLIError(refErr.Error(), "Add the missing item to "+refErr.Target+" or pass --references warn", err)
	}
	return NewCLIError("not valid JSON", "The file must hold a single JSON object", err)
}

func init() {
	validateCmd.Flags().StringVar(&validateReferences, "references", "strict", "Dangling reference policy: strict or warn")
	RootCmd.AddCommand(validateCmd)
}
