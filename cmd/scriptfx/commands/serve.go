package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justyntemme/scriptfx/pkg/bridge"
	"github.com/justyntemme/scriptfx/pkg/editorlink"
	"github.com/justyntemme/scriptfx/pkg/framework/config"
	"github.com/justyntemme/scriptfx/pkg/framework/debug"
	"github.com/justyntemme/scriptfx/pkg/framework/process"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveScript string
	serveListen string
	serveSignal string
	serveFreq   float64
	serveAmp    float64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a simulated host with the editor link",
	Long: `Run the bridge against a simulated audio clock that feeds a test
signal one block per block period, and accept editor connections on the
configured address. Scripts sent by the editor are compiled and swapped in
while audio keeps running.

Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if serveListen != "" {
			cfg.Editor.Listen = serveListen
		}
		var source string
		if serveScript != "" {
			if source, err = readScript(cmd, serveScript); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		step(cmd.OutOrStdout(), "Editor link on ws://%s (%s engine)", cfg.Editor.Listen, cfg.Bridge.Engine)
		if err := serve(ctx, cfg, source); err != nil {
			return failure(cmd.ErrOrStderr(), "Serve failed", err.Error())
		}
		success(cmd.OutOrStdout(), "Stopped")
		return nil
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveScript, "script", "", "script loaded at start instead of the selected preset")
	f.StringVar(&serveListen, "listen", "", "editor link address (overrides editor.listen)")
	f.StringVar(&serveSignal, "signal", "sine", "input signal: sine, noise, impulse or silence")
	f.Float64Var(&serveFreq, "freq", 440, "sine frequency in Hz")
	f.Float64Var(&serveAmp, "amp", 0.5, "input amplitude")
	rootCmd.AddCommand(serveCmd)
}

// serve runs the simulated host and the editor link until ctx is done.
func serve(ctx context.Context, cfg config.Config, source string) error {
	sig, err := newGenerator(serveSignal, serveFreq, serveAmp, cfg.Audio.SampleRate)
	if err != nil {
		return err
	}
	b, err := bridge.New(bridge.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Close()

	if source != "" {
		_, err = b.Load(ctx, source)
	} else {
		err = b.SubmitPreset()
	}
	if err != nil {
		// The editor can still fix the script.
		debug.Warn("initial script: %v", err)
	}

	link := editorlink.NewServer(b, editorlink.Options{
		StatusInterval: cfg.Editor.StatusInterval.Duration,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return clock(ctx, b, sig, cfg)
	})
	g.Go(func() error {
		return link.ListenAndServe(ctx, cfg.Editor.Listen)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// clock calls Process once per block period, like a host audio thread.
func clock(ctx context.Context, b *bridge.Bridge, sig *generator, cfg config.Config) error {
	period := time.Duration(float64(cfg.Audio.BlockSize) / cfg.Audio.SampleRate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	pctx := process.NewContext(b.Parameters())
	pctx.SampleRate = cfg.Audio.SampleRate
	pctx.Input = makeBuffers(cfg.Audio.Channels, cfg.Audio.BlockSize)
	pctx.Output = makeBuffers(cfg.Audio.Channels, cfg.Audio.BlockSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sig.fill(pctx.Input, cfg.Audio.BlockSize)
			b.Process(pctx)
		}
	}
}
