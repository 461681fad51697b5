package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xawala"
)

type SendOptions struct {
	Global *GlobalOptions

	SenderID    string
	RecipientID string
	ContentType string
	Content     string
	ContentFile string
	ParcelID    string
	TTL         time.Duration
	Timeout     time.Duration
}

func NewSendCommand(global *GlobalOptions) *cobra.Command {
	opts := &SendOptions{Global: global}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish an outgoing service message on the outgoing topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			return opts.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.SenderID, "sender", "", "Sender endpoint id (defaults to \"default\")")
	flags.StringVar(&opts.RecipientID, "recipient", "", "Recipient endpoint id")
	flags.StringVar(&opts.ContentType, "content-type", "text/plain", "Media type of the content")
	flags.StringVar(&opts.Content, "content", "", "Inline content")
	flags.StringVar(&opts.ContentFile, "content-file", "", "Read content from this file")
	flags.StringVar(&opts.ParcelID, "parcel-id", "", "Parcel id (generated when empty)")
	flags.DurationVar(&opts.TTL, "ttl", 0, "Time to live (defaults to three months)")
	flags.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "Publish timeout")

	return cmd
}

func (o *SendOptions) Validate() error {
	if o.RecipientID == "" {
		return fmt.Errorf("--recipient is required")
	}
	if o.Content != "" && o.ContentFile != "" {
		return fmt.Errorf("--content and --content-file are mutually exclusive")
	}
	if o.TTL < 0 {
		return fmt.Errorf("--ttl must not be negative")
	}
	return nil
}

func (o *SendOptions) Run(ctx context.Context) error {
	cfg, err := o.Global.loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	content, err := readContent(o.Content, o.ContentFile)
	if err != nil {
		return err
	}

	ep, cleanup, err := buildEndpoint(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() { _ = ep.Close(context.Background()) }()

	msg := xawala.OutgoingServiceMessage{
		ServiceMessage: xawala.ServiceMessage{
			SenderID:    o.SenderID,
			RecipientID: o.RecipientID,
			ContentType: o.ContentType,
			Content:     content,
		},
		ParcelID: o.ParcelID,
	}
	if o.TTL > 0 {
		now := time.Now().UTC()
		expiry := now.Add(o.TTL)
		msg.CreationDate = &now
		msg.ExpiryDate = &expiry
	}

	sctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	id, err := ep.Send(sctx, msg)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	logger.Info().Str("parcel_id", id).Str("topic", ep.Topics().Outgoing).Msg("service message sent")
	fmt.Println(id)
	return nil
}
