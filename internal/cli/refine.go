package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"refinery/internal/gateway/service/refinement"
	"refinery/internal/types"
)

var (
	refineUser   string
	refineFile   string
	refineNoSave bool
)

var refineCmd = &cobra.Command{
	Use:   "refine [text]",
	Short: "Refine a requirement into epics, user stories, features and tasks",
	Long: `Refine sends the requirement to the LLM and prints the validated result.

The text is taken from the arguments, from -f <file> ("-" for stdin), or
from stdin when it is piped. The result is saved to the history unless
--no-save is given; a failed save is reported but the result is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return MapError(types.ErrEmptyInput)
		}
		return withService(cmd, func(ctx context.Context, svc *refinement.Service) error {
			res, err := svc.Refine(ctx, text)
			if err != nil {
				return MapError(err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				RenderResult(out, res)
			}
			if refineNoSave {
				return nil
			}
			rec, err := svc.Save(ctx, refineUser, text, res)
			if err != nil {
				printWarning(cmd.ErrOrStderr(), "Not saved: %s", refinement.UserMessage(err))
				return nil
			}
			if !jsonOutput {
				printSuccess(out, "Saved as input %s (revision %s)", rec.InputID, rec.ID)
			}
			return nil
		})
	},
}

var reviseCmd = &cobra.Command{
	Use:   "revise <input-id>",
	Short: "Refine a stored input again and keep the answer as a new revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *refinement.Service) error {
			rec, err := svc.Revise(ctx, args[0])
			if err != nil {
				return MapError(err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, rec)
			}
			RenderResult(out, rec.Result)
			printSuccess(out, "Saved revision %s of input %s", rec.ID, rec.InputID)
			return nil
		})
	},
}

// readInput resolves the requirement text from -f, the arguments or stdin.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if refineFile != "" {
		if len(args) > 0 {
			return "", NewCLIError("both text and -f given", "Use either an argument or -f, not both", nil)
		}
		if refineFile == "-" {
			return readAll(cmd.InOrStdin())
		}
		raw, err := os.ReadFile(refineFile)
		if err != nil {
			return "", NewCLIError("cannot read input file", "Check the path passed to -f", err)
		}
		return string(raw), nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		return "", nil
	}
	return readAll(in)
}

func readAll(r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(raw), nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func init() {
	refineCmd.Flags().StringVarP(&refineUser, "user", "u", "", "User id the refinement is saved under (default \"anonymous\")")
	refineCmd.Flags().StringVarP(&refineFile, "file", "f", "", "Read the requirement from a file, or \"-\" for stdin")
	refineCmd.Flags().BoolVar(&refineNoSave, "no-save", false, "Do not store the result in the history")
	RootCmd.AddCommand(refineCmd)
	RootCmd.AddCommand(reviseCmd)
}
