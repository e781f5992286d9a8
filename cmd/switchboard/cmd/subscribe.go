package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/switchboard/pkg/switchboard/client"
	"github.com/tsarna/switchboard/pkg/switchboard/envelope"
	"github.com/tsarna/switchboard/pkg/switchboard/topics"
	"go.uber.org/zap"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <websocket-url> [topic-patterns...]",
	Short: "Print events from a switchboard gateway",
	Long: `Subscribe to events from a switchboard gateway and print them to stdout.

Patterns are exact topics, "prefix.*" for a topic family or "*" for
everything. Without patterns every event is printed. The connection is
re-established, and the subscription restored, if it drops.

Examples:
  switchboard subscribe ws://127.0.0.1:7337/ws
  switchboard subscribe ws://127.0.0.1:7337/ws "run.*" session.message`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubscribe,
}

var (
	dialTimeout    time.Duration
	reconnectDelay time.Duration
	noColor        bool
)

func init() {
	rootCmd.AddCommand(subscribeCmd)

	subscribeCmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	subscribeCmd.Flags().DurationVar(&reconnectDelay, "reconnect-delay", client.DefaultReconnectDelay, "pause before each reconnect attempt")
	subscribeCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	wsURL := args[0]
	patterns := args[1:]
	if len(patterns) == 0 {
		patterns = []string{topics.Wildcard}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := newEventPrinter(cmd.OutOrStdout(), noColor)

	reconnector := client.NewReconnector().
		WithLogger(logger).
		WithDelay(reconnectDelay).
		Build()
	defer reconnector.Stop()

	wsClient, err := client.NewClient().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(dialTimeout).
		WithEventHandler(func(ctx context.Context, ev *envelope.Event) {
			if err := printer.print(time.Now(), ev); err != nil {
				logger.Warn("Failed to print event", zap.Error(err))
			}
		}).
		WithMonitor(reconnector).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if err := wsClient.Connect(ctx); err != nil {
		return err
	}

	if err := wsClient.Subscribe(ctx, patterns); err != nil {
		wsClient.Disconnect()
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	logger.Info("Listening for events (Ctrl+C to exit)", zap.Strings("patterns", patterns))

	<-ctx.Done()

	reconnector.SetEnabled(false)
	if err := wsClient.Disconnect(); err != nil {
		logger.Warn("Error during client disconnect", zap.Error(err))
	}
	return nil
}
