package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"mvideodk-relay/internal/model"
	"mvideodk-relay/internal/notify"
	"mvideodk-relay/internal/popup"
	"mvideodk-relay/internal/service"
)

var submitCmd = &cobra.Command{
	Use:   "submit <url>",
	Short: "Send a URL to the download queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var floatCmd = &cobra.Command{
	Use:       "float [on|off]",
	Short:     "Show or set the floating download button",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runFloat,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the effective server configuration and whether it answers",
	RunE:  runStatus,
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the server's web UI in the browser",
	RunE:  runOpen,
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the relay's shared state",
	RunE:  runBackup,
}

func init() {
	submitCmd.Flags().Bool("playlist", false, "Download the whole playlist")
	submitCmd.Flags().StringP("output", "o", "", "Output format (json)")
	statusCmd.Flags().StringP("output", "o", "", "Output format (json)")
}

// withPopup runs fn against a freshly opened popup, the same way a click on
// the toolbar icon would.
func withPopup(notifier notify.Notifier, fn func(ctx context.Context, relay *service.Relay, p *popup.Panel) error) error {
	relay, err := service.NewRelay(cfg, notifier)
	if err != nil {
		return err
	}
	defer relay.Close()

	ctx := context.Background()
	p := relay.NewPopup(nil, nil)
	defer p.Close()
	if err := p.Open(ctx); err != nil {
		return err
	}
	return fn(ctx, relay, p)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	playlist, _ := cmd.Flags().GetBool("playlist")
	output, _ := cmd.Flags().GetString("output")

	var notifier notify.Notifier = notify.Multi{notify.LogNotifier{}, notify.TerminalNotifier{}}
	if output == "json" {
		notifier = notify.LogNotifier{}
	}

	return withPopup(notifier, func(ctx context.Context, _ *service.Relay, p *popup.Panel) error {
		p.SetURLInput(args[0])

		var (
			out model.Outcome
			err error
		)
		if playlist {
			out, err = p.SendPlaylist(ctx)
		} else {
			out, err = p.SendCurrent(ctx)
		}
		if err != nil {
			return err
		}

		if output == "json" {
			if err := printJSON(out); err != nil {
				return err
			}
		}
		if !out.OK {
			return fmt.Errorf("%s: %s", out.ErrorKind, out.Detail)
		}
		return nil
	})
}

func runFloat(cmd *cobra.Command, args []string) error {
	return withPopup(notify.LogNotifier{}, func(ctx context.Context, _ *service.Relay, p *popup.Panel) error {
		if len(args) == 0 {
			pterm.Info.Printfln("Floating button: %s", onOff(p.State().FloatEnabled))
			return nil
		}

		enabled, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		if err := p.ToggleFloatingControl(ctx, enabled); err != nil {
			return err
		}
		pterm.Success.Printfln("Floating button %s", onOff(enabled))
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")

	return withPopup(notify.LogNotifier{}, func(ctx context.Context, relay *service.Relay, p *popup.Panel) error {
		view, err := relay.ConfigView(ctx)
		if err != nil {
			return err
		}
		st := p.State()

		if output == "json" {
			return printJSON(map[string]any{
				"config":        view,
				"status":        st.Status,
				"float_enabled": st.FloatEnabled,
			})
		}

		rows := pterm.TableData{
			{"Property", "Value"},
			{"Server", st.ServerURL},
			{"API prefix", view.APIPrefix},
			{"Token", tokenLabel(view)},
			{"Status", st.Status},
			{"Floating button", onOff(st.FloatEnabled)},
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	})
}

func runOpen(cmd *cobra.Command, args []string) error {
	return withPopup(notify.LogNotifier{}, func(_ context.Context, _ *service.Relay, p *popup.Panel) error {
		if err := p.OpenServer(); err != nil {
			pterm.Warning.Printfln("Could not open browser automatically: %v", err)
			pterm.Info.Println(p.State().ServerURL)
			return nil
		}
		pterm.Info.Println("(Opened in browser)")
		return nil
	})
}

func runBackup(cmd *cobra.Command, args []string) error {
	relay, err := service.NewRelay(cfg, notify.LogNotifier{})
	if err != nil {
		return err
	}
	defer relay.Close()

	if err := relay.Store().Backup(); err != nil {
		return err
	}
	pterm.Success.Printfln("Backup written for %s storage", cfg.Storage.Type)
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
	return b, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func tokenLabel(v model.ConfigView) string {
	if !v.HasToken {
		return pterm.Red("missing")
	}
	return v.TokenDigest
}
