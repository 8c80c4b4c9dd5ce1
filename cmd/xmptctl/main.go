package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/daydreamsai/lucid-agents-sub001/internal/a2a"
	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

var Version = "dev"

type globalFlags struct {
	httpTimeout  time.Duration
	pollInterval time.Duration
	verbose      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "xmptctl",
		Short:         "Talk to XMPT-enabled agents over A2A",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().DurationVar(&flags.httpTimeout, "http-timeout", 30*time.Second, "per-request HTTP timeout")
	rootCmd.PersistentFlags().DurationVar(&flags.pollInterval, "poll-interval", 500*time.Millisecond, "task polling interval")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log client activity to stderr")

	rootCmd.AddCommand(cardCmd(flags))
	rootCmd.AddCommand(sendCmd(flags))
	return rootCmd
}

func (f *globalFlags) client(stderr io.Writer) *a2a.Client {
	return a2a.NewClient(f.logger(stderr),
		a2a.WithHTTPClient(&http.Client{Timeout: f.httpTimeout}),
		a2a.WithPollInterval(f.pollInterval),
	)
}

func (f *globalFlags) logger(stderr io.Writer) zerolog.Logger {
	if !f.verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger()
}

func cardCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "card [url]",
		Short: "Fetch and print a peer's agent card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := flags.client(cmd.ErrOrStderr()).FetchCard(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetch card: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), card)
		},
	}
}

type sendFlags struct {
	text     string
	data     string
	from     string
	thread   string
	skill    string
	wait     bool
	timeout  time.Duration
	metadata map[string]string
}

func sendCmd(flags *globalFlags) *cobra.Command {
	sf := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send [url]",
		Short: "Send an XMPT message to a peer",
		Long: `Send an XMPT message to a peer agent's inbox skill.

Examples:
  xmptctl send http://localhost:8080 --text "hello"
  xmptctl send http://localhost:8080 --data '{"ticker":"ETH"}' --wait --timeout 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, flags, sf, args[0])
		},
	}

	cmd.Flags().StringVarP(&sf.text, "text", "t", "", "message text")
	cmd.Flags().StringVarP(&sf.data, "data", "d", "", "message data as JSON")
	cmd.Flags().StringVar(&sf.from, "from", "xmptctl", "sender name")
	cmd.Flags().StringVar(&sf.thread, "thread", "", "thread id to continue")
	cmd.Flags().StringVarP(&sf.skill, "skill", "s", "", "inbox skill id on the peer")
	cmd.Flags().BoolVarP(&sf.wait, "wait", "w", false, "wait for the peer's reply")
	cmd.Flags().DurationVar(&sf.timeout, "timeout", xmpt.DefaultWaitTimeout, "how long --wait blocks")
	cmd.Flags().StringToStringVarP(&sf.metadata, "meta", "m", nil, "metadata key=value pairs")

	return cmd
}

func runSend(cmd *cobra.Command, flags *globalFlags, sf *sendFlags, peer string) error {
	input := xmpt.MessageInput{
		ThreadID: sf.thread,
		Content:  xmpt.Content{Text: sf.text},
	}
	if sf.data != "" {
		var data any
		if err := json.Unmarshal([]byte(sf.data), &data); err != nil {
			return fmt.Errorf("--data must be valid JSON: %w", err)
		}
		input.Content.Data = data
	}
	if input.Content.Empty() {
		return errors.New("one of --text or --data is required")
	}
	if len(sf.metadata) > 0 {
		input.Metadata = make(map[string]any, len(sf.metadata))
		for k, v := range sf.metadata {
			input.Metadata[k] = v
		}
	}

	rt, err := xmpt.NewRuntime(xmpt.Options{
		AgentName:      sf.from,
		Client:         flags.client(cmd.ErrOrStderr()),
		DefaultTimeout: sf.timeout,
		Logger:         flags.logger(cmd.ErrOrStderr()),
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !sf.wait {
		res, err := rt.Send(ctx, xmpt.PeerURL(peer), input, xmpt.SendOptions{SkillID: sf.skill})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	}

	ex, err := rt.SendAndWait(ctx, xmpt.PeerURL(peer), input, xmpt.SendAndWaitOptions{
		SkillID: sf.skill,
		Timeout: sf.timeout,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), struct {
		Delivery *xmpt.DeliveryResult `json:"delivery"`
		Status   a2a.TaskStatus       `json:"status"`
		Reply    *xmpt.Message        `json:"reply,omitempty"`
	}{Delivery: ex.Delivery, Status: ex.Task.Status, Reply: ex.Reply})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
