package main

import (
	"encoding/json"
	"fmt"
	"io"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/spf13/cobra"

	"github.com/trickstertwo/xawala"
)

func NewConvertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [command]",
		Short: "Convert between service messages and CloudEvents",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	cmd.AddCommand(NewConvertIncomingCommand())
	cmd.AddCommand(NewConvertOutgoingCommand())

	return cmd
}

func NewConvertIncomingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "incoming",
		Short: "Read a CloudEvent (JSON) on stdin and print the incoming service message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var evt cloudevents.Event
			if err := decodeJSON(cmd.InOrStdin(), &evt); err != nil {
				return fmt.Errorf("read CloudEvent: %w", err)
			}
			msg, err := xawala.MakeIncomingServiceMessage(evt)
			if err != nil {
				return err
			}
			return encodeJSON(cmd.OutOrStdout(), msg)
		},
	}
}

func NewConvertOutgoingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "outgoing",
		Short: "Read an outgoing service message (JSON) on stdin and print the CloudEvent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var msg xawala.OutgoingServiceMessage
			if err := decodeJSON(cmd.InOrStdin(), &msg); err != nil {
				return fmt.Errorf("read service message: %w", err)
			}
			return encodeJSON(cmd.OutOrStdout(), xawala.MakeOutgoingCloudEvent(msg))
		},
	}
}

func decodeJSON(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
