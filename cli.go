package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"twin-chat/internal/config"
	"twin-chat/internal/forecast"
	"twin-chat/internal/pane"
	"twin-chat/internal/predictions"
	"twin-chat/internal/session"
	"twin-chat/internal/store"
)

func newAskCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		plus   bool
		method string
	)
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Run one query against the forecasting backend",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			paneCfg := pane.BasicConfig()
			if plus {
				paneCfg = pane.PlusConfig()
			}
			p := pane.New(paneCfg, newForecastClient(cfg), nil)

			out, err := p.Submit(cmd.Context(), strings.Join(args, " "), method)
			if err != nil {
				return err
			}
			renderTurn(cmd.OutOrStdout(), paneCfg.ID, out.Turn)
			return nil
		},
	}
	cmd.Flags().BoolVar(&plus, "plus", false, "use the TWIN+ model")
	cmd.Flags().StringVar(&method, "method", "", "TWIN+ forecasting method")
	return cmd
}

func newPredictionsCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		device string
		format string
	)
	cmd := &cobra.Command{
		Use:   "predictions",
		Short: "List the saved predictions of a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			if device == "" {
				return fmt.Errorf("--device is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			state, err := session.NewLifecycle(st).Current(device)
			if err != nil {
				return err
			}
			var acct predictions.Account
			if state.LoggedIn {
				acct = predictions.Account{Email: state.Email, Token: state.Token}
			}
			svc := predictions.NewService(st, newPredictionsRemote(cfg))
			list, source, err := svc.List(cmd.Context(), device, acct)
			if err != nil {
				return err
			}
			return writePredictions(cmd.OutOrStdout(), list, source, format)
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device id (the twin_device cookie)")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, yaml or json")
	return cmd
}

func renderTurn(w io.Writer, id pane.ID, t *pane.Turn) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(id.Label())
	tw.AppendRow(table.Row{"Query", t.Prompt})
	tw.AppendRow(table.Row{"Result", string(t.Variant)})

	switch t.Variant {
	case pane.VariantForecast, pane.VariantPriceOnly:
		r := t.Payload
		tw.AppendRow(table.Row{"Stock", r.Stock})
		tw.AppendRow(table.Row{"Last close", fmt.Sprintf("%.2f", r.LastClose)})
		if r.Result != nil {
			tw.AppendRow(table.Row{"Duration", r.Duration})
			tw.AppendRow(table.Row{"Forecast", fmt.Sprintf("%.2f", *r.Result)})
			if fig, ok := pane.ComputeFigures(r.LastClose, *r.Result); ok {
				color := text.FgRed
				if fig.Up() {
					color = text.FgGreen
				}
				tw.AppendRow(table.Row{"Change", color.Sprintf("%s%s | %s%s%%", fig.Sign(), fig.DeltaText(), fig.Sign(), fig.PctText())})
			}
			tw.AppendRow(table.Row{"Method", pane.PrettyMethodName(r.Method)})
		}
	case pane.VariantSuggestions:
		for _, s := range t.Suggestions {
			tw.AppendRow(table.Row{"Did you mean", fmt.Sprintf("%s (%s)", s.Name, s.Symbol)})
		}
		tw.AppendRow(table.Row{"Error", t.ErrorText})
	case pane.VariantError:
		tw.AppendRow(table.Row{"Error", t.ErrorText})
	case pane.VariantNotice:
		tw.AppendRow(table.Row{"Notice", t.Notice})
	}
	tw.Render()
}

func writePredictions(w io.Writer, list []predictions.Prediction, source predictions.Source, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	case "yaml":
		return yaml.NewEncoder(w).Encode(list)
	case "table", "":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(fmt.Sprintf("Saved predictions (%s)", source))
	tw.AppendHeader(table.Row{"Stock", "Duration", "Last Close", "Predicted", "Change", "Method", "Saved", "Feedback"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	for _, p := range list {
		tw.AppendRow(table.Row{
			p.Stock,
			p.Duration,
			fmt.Sprintf("%.2f", p.LastClose),
			fmt.Sprintf("%.2f", p.PredictedPrice),
			fmt.Sprintf("%+.2f (%+.2f%%)", p.Delta, p.Pct),
			pane.PrettyMethodName(p.Method),
			p.Timestamp.Local().Format("2006-01-02 15:04"),
			p.Feedback,
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(list)})
	tw.Render()
	return nil
}

func newForecastClient(cfg *config.Config) *forecast.Client {
	return forecast.NewClient(forecast.Options{
		BaseURL:        cfg.Forecast.BaseURL,
		Timeout:        cfg.Forecast.Timeout,
		RequestsPerSec: cfg.Forecast.RequestsPerSec,
		MaxRetryTime:   cfg.Forecast.MaxRetryTime,
	})
}

func newPredictionsRemote(cfg *config.Config) *predictions.Remote {
	return predictions.NewRemote(predictions.RemoteOptions{
		BaseURL: cfg.Predictions.BaseURL,
		Timeout: cfg.Predictions.Timeout,
	})
}
