package ctl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// buildRootCmd is a convenience for help-only fallbacks.
func buildRootCmd() *cobra.Command {
	return buildRootCmdWith(&Config{Addr: "http://127.0.0.1:8080", LogLvl: "info"})
}

// buildRootCmdWith constructs a Cobra command tree wired to a workerd server.
func buildRootCmdWith(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "workerctl",
		Short:         "Control and query a running workerd server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags -> Config
	root.PersistentFlags().String("addr", cfg.Addr, "workerd base URL (defaults WORKERD_ADDR or http://127.0.0.1:8080)")
	root.PersistentFlags().String("log-level", cfg.LogLvl, "Log level: debug|info|warn|error (defaults WORKERCTL_LOG_LEVEL or info)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if f := cmd.InheritedFlags().Lookup("addr"); f != nil {
			if v := f.Value.String(); v != "" {
				cfg.Addr = v
			}
		}
		if f := cmd.InheritedFlags().Lookup("log-level"); f != nil {
			if v := f.Value.String(); v != "" {
				cfg.LogLvl = v
			}
		}
		SetLogLevel(cfg.LogLvl)
	}

	statusCmd := &cobra.Command{Use: "status", Short: "Show server and pool status", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := NewClient(cfg.Addr).Status(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	}}
	root.AddCommand(statusCmd)

	modelsCmd := &cobra.Command{Use: "models", Short: "List discoverable models", RunE: func(cmd *cobra.Command, args []string) error {
		models, err := NewClient(cfg.Addr).Models(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), models)
	}}
	root.AddCommand(modelsCmd)

	predictCmd := &cobra.Command{Use: "predict", Short: "Send a prediction request", Example: "  workerctl predict --model opt-13b --input '{\"prompt\":\"hi\"}'\n  echo '{\"prompt\":\"hi\"}' | workerctl predict --stream"}
	predictModel := predictCmd.Flags().String("model", "", "Model id (empty uses server default)")
	predictInput := predictCmd.Flags().String("input", "", "Input JSON (reads stdin when empty)")
	predictStream := predictCmd.Flags().Bool("stream", false, "Stream NDJSON chunks")
	predictCmd.RunE = func(cmd *cobra.Command, args []string) error {
		input, err := readInput(*predictInput, cmd.InOrStdin())
		if err != nil {
			return err
		}
		client := NewClient(cfg.Addr)
		if *predictStream {
			code, err := client.PredictStream(cmd.Context(), *predictModel, input, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if code != 200 {
				return fmt.Errorf("handler returned code %d", code)
			}
			return nil
		}
		resp, err := client.Predict(cmd.Context(), *predictModel, input)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if resp.Code != 200 {
			return fmt.Errorf("handler returned code %d: %s", resp.Code, resp.Message)
		}
		return nil
	}
	root.AddCommand(predictCmd)

	loadCmd := &cobra.Command{Use: "load <model>", Short: "Load a model", Example: "  workerctl load opt-13b --opt tensor_parallel_degree=4", Args: cobra.ExactArgs(1)}
	loadOpts := loadCmd.Flags().StringArray("opt", nil, "Worker option key=value (repeatable)")
	loadCmd.RunE = func(cmd *cobra.Command, args []string) error {
		options, err := parseOptFlags(*loadOpts)
		if err != nil {
			return err
		}
		if err := NewClient(cfg.Addr).Load(cmd.Context(), args[0], options); err != nil {
			return err
		}
		info("[workerctl] model %s loaded", args[0])
		return nil
	}
	root.AddCommand(loadCmd)

	unloadCmd := &cobra.Command{Use: "unload <model>", Aliases: []string{"drain"}, Short: "Drain and unload a model", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		if err := NewClient(cfg.Addr).Unload(cmd.Context(), args[0]); err != nil {
			return err
		}
		info("[workerctl] model %s unloaded", args[0])
		return nil
	}}
	root.AddCommand(unloadCmd)

	// completion command
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenPowerShellCompletionWithDesc(os.Stdout) }})
	root.AddCommand(completionCmd)

	return root
}

// parseOptFlags turns repeated key=value flags into an option map.
func parseOptFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid option %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

// readInput returns the flag value as JSON, or reads stdin when empty.
func readInput(flagVal string, stdin io.Reader) (json.RawMessage, error) {
	raw := []byte(flagVal)
	if flagVal == "" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, fmt.Errorf("input is required (flag --input or stdin)")
	}
	if !json.Valid(raw) {
		// Treat bare text as a JSON string for convenience.
		quoted, err := json.Marshal(string(raw))
		if err != nil {
			return nil, err
		}
		raw = quoted
	}
	return json.RawMessage(raw), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
