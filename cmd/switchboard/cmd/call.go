package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/switchboard/pkg/switchboard/client"
	"go.uber.org/zap"
)

// callCmd represents the call command
var callCmd = &cobra.Command{
	Use:   "call <websocket-url> <method> [params-json]",
	Short: "Call an RPC method on a switchboard gateway",
	Long: `Call an RPC method on a switchboard gateway and print the result.

The optional third argument is a JSON object used as the request params.
Use --jq to filter the result and --output to choose JSON or YAML.

Examples:
  switchboard call ws://127.0.0.1:7337/ws gateway.sessions.list
  switchboard call ws://127.0.0.1:7337/ws gateway.sessions.create '{"title":"Ideas"}'
  switchboard call ws://127.0.0.1:7337/ws gateway.sessions.list --jq '.sessions[].title'
  switchboard call ws://127.0.0.1:7337/ws gateway.math.evaluate '{"expression":"2*(3+4)"}' -o yaml`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runCall,
}

var (
	callDialTimeout time.Duration
	callTimeout     time.Duration
	callJQ          string
	callOutput      string
	callToken       string
)

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().DurationVar(&callDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", client.DefaultRequestTimeout, "time to wait for the response")
	callCmd.Flags().StringVar(&callJQ, "jq", "", "jq expression applied to the result")
	callCmd.Flags().StringVarP(&callOutput, "output", "o", "json", "output format (json, yaml)")
	callCmd.Flags().StringVar(&callToken, "token", "", "token sent in the request auth descriptor")
}

func runCall(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	wsURL, method := args[0], args[1]

	var params map[string]any
	if len(args) == 3 {
		if err := json.Unmarshal([]byte(args[2]), &params); err != nil {
			return fmt.Errorf("params must be a JSON object: %w", err)
		}
	}

	builder := client.NewClient().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(callDialTimeout).
		WithRequestTimeout(callTimeout)
	if callToken != "" {
		builder = builder.WithAuthToken(callToken)
	}

	wsClient, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := wsClient.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := wsClient.Disconnect(); err != nil {
			logger.Warn("Error during client disconnect", zap.Error(err))
		}
	}()

	result, err := wsClient.Call(ctx, method, params)
	if err != nil {
		return err
	}

	return printResult(cmd, result)
}

func printResult(cmd *cobra.Command, result map[string]any) error {
	out := cmd.OutOrStdout()

	if callJQ == "" {
		return writeValue(out, result, callOutput)
	}

	input, err := normalize(result)
	if err != nil {
		return err
	}
	values, err := applyJQ(callJQ, input)
	if err != nil {
		return err
	}
	for _, v := range values {
		if err := writeValue(out, v, callOutput); err != nil {
			return err
		}
	}
	return nil
}
