package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"onionchat/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	attachmentPath string
	sendTimeout    time.Duration

	sendCmd = &cobra.Command{
		Use:   "send <onion-id> [text...]",
		Short: "Send a message and wait until the daemon has it",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSend,
	}
)

func init() {
	sendCmd.Flags().StringVarP(&attachmentPath, "attachment", "a", "",
		"Send the image at this path instead of text")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", time.Minute,
		"Give up waiting for the daemon after this long")
}

func runSend(cmd *cobra.Command, args []string) error {
	text := strings.Join(args[1:], " ")
	if attachmentPath == "" && strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to send: give message text or --attachment")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	logger := newLogger(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(cmd.ErrOrStderr())

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	if err := eng.start(ctx); err != nil {
		return err
	}
	if err := eng.session.SetActiveContact(ctx, args[0]); err != nil {
		return err
	}

	views, stopWatch, err := eng.session.Watch(ctx)
	if err != nil {
		return err
	}
	defer stopWatch()

	afterGen := eng.session.View().Generation

	var msg models.Message
	if attachmentPath != "" {
		msg, err = eng.session.SendAttachment(ctx, attachmentPath)
	} else {
		msg, err = eng.session.Send(ctx, text)
	}
	if err != nil {
		return err
	}

	if err := waitForSend(ctx, views, msg.LocalRef, afterGen); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "sent")
	return nil
}
