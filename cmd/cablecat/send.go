package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lightforgemedia/go-actioncable/pkg/wire"
	"github.com/spf13/cobra"
)

func sendCmd(g *globalFlags) *cobra.Command {
	var (
		payload string
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send Channel action [key=value ...]",
		Short: "Subscribe, perform one action and exit",
		Long: `Subscribe to Channel, wait for the confirmation and perform action with a
payload built from key=value pairs or taken verbatim from --data.

Channel parameters are given with --param. The command fails if the
subscription is rejected or not confirmed in time.`,
		Example: `  cablecat send -u ws://localhost:3000/cable ChatChannel speak text=hello --param room=1`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, _ := cmd.Flags().GetStringSlice("param")
			return runSend(cmd, g, append([]string{args[0]}, params...), args[1], args[2:], payload, wait)
		},
	}
	cmd.Flags().StringSliceP("param", "p", nil, "channel parameter key=value (repeatable)")
	cmd.Flags().StringVarP(&payload, "data", "d", "", "JSON object payload; fields are merged with key=value pairs")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for connect and confirmation")
	return cmd
}

func runSend(cmd *cobra.Command, g *globalFlags, channelArgs []string, action string, pairs []string, raw string, wait time.Duration) error {
	id, err := parseIdentifier(channelArgs)
	if err != nil {
		return err
	}
	data, err := parseParams(pairs)
	if err != nil {
		return err
	}
	if raw != "" {
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return fmt.Errorf("--data must be a JSON object: %w", err)
		}
		for k, v := range obj {
			if _, set := data[k]; !set {
				data[k] = v
			}
		}
	}

	cli, _, _, err := newClient(cmd, g)
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), wait)
	defer cancel()

	replies := make(chan *wire.Message, 8)
	cli.Connect()
	sub, err := cli.Subscribe(id, func(m *wire.Message) {
		select {
		case replies <- m:
		default:
		}
	})
	if err != nil {
		return err
	}

	if err := awaitConfirmation(ctx, replies); err != nil {
		return err
	}

	done := make(chan error, 1)
	if err := sub.Send(action, data, func(err error) { done <- err }); err != nil {
		return err
	}
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("send: %w", ctx.Err())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", action, id)
	return nil
}

func awaitConfirmation(ctx context.Context, replies <-chan *wire.Message) error {
	for {
		select {
		case m := <-replies:
			switch m.Type {
			case wire.TypeConfirmSubscription:
				return nil
			case wire.TypeRejectSubscription:
				return errors.New("subscription rejected")
			}
		case <-ctx.Done():
			return fmt.Errorf("no confirmation: %w", ctx.Err())
		}
	}
}
