package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justyntemme/scriptfx/pkg/bridge"
	"github.com/justyntemme/scriptfx/pkg/framework/config"
	"github.com/justyntemme/scriptfx/pkg/script"
	"github.com/spf13/cobra"
)

const checkTimeout = 30 * time.Second

var checkCmd = &cobra.Command{
	Use:   "check <script>",
	Short: "Compile and validate a script",
	Long: `Compile a script file ("-" for stdin) with the configured engine and
run it once on a silent block, exactly as a load in the plugin would.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		source, err := readScript(cmd, args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
		defer cancel()
		err = check(ctx, cfg, source)
		var ce *script.CompileError
		switch {
		case errors.As(err, &ce):
			return failure(cmd.ErrOrStderr(), fmt.Sprintf("%s: %s error", args[0], ce.Phase), describeCompileError(ce))
		case err != nil:
			return failure(cmd.ErrOrStderr(), "Check failed", err.Error())
		}
		success(cmd.OutOrStdout(), "%s compiles (%s engine)", args[0], cfg.Bridge.Engine)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// check loads source into a throwaway bridge.
func check(ctx context.Context, cfg config.Config, source string) error {
	b, err := bridge.New(bridge.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Close()
	_, err = b.Load(ctx, source)
	return err
}

func describeCompileError(ce *script.CompileError) string {
	if ce.Line > 0 {
		return fmt.Sprintf("line %d, column %d: %s", ce.Line, ce.Column, ce.Message)
	}
	return ce.Message
}
