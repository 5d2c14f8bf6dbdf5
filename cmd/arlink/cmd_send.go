package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eternallink/arlink/internal/api"
	"github.com/eternallink/arlink/internal/capture"
	"github.com/eternallink/arlink/internal/geo"
	"github.com/eternallink/arlink/internal/gesture"
	"github.com/eternallink/arlink/internal/media"
	"github.com/eternallink/arlink/internal/model"
)

var (
	sendChatID  int64
	sendVideo   string
	sendGesture string
	sendAt      string
	sendExpires string
	sendReplyTo int64
	sendOneTime bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Record a clip and send it as a gesture-locked AR message",
	Long: `Record a clip from --video and publish it to a chat, anchored at --at.
The recipient must perform --gesture before the hologram plays.`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

func init() {
	f := sendCmd.Flags()
	f.Int64Var(&sendChatID, "chat", 0, "chat to send to")
	f.StringVar(&sendVideo, "video", "", "WebM clip used as the camera stream")
	f.StringVar(&sendGesture, "gesture", "", "trigger gesture (WAVE, THUMBS_UP, PEACE, CLAP)")
	f.StringVar(&sendAt, "at", "", "anchor location as lat,lon[,alt]")
	f.StringVar(&sendExpires, "expires", "off", "expiry such as 5-minutes, 2-hours, 1-days or off")
	f.Int64Var(&sendReplyTo, "reply-to", 0, "message being replied to")
	f.BoolVar(&sendOneTime, "one-time", false, "hide the message once seen")
	_ = sendCmd.MarkFlagRequired("chat")
	_ = sendCmd.MarkFlagRequired("video")
	_ = sendCmd.MarkFlagRequired("gesture")
	_ = sendCmd.MarkFlagRequired("at")
}

func runSend(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	trigger, err := gesture.Parse(sendGesture)
	if err != nil {
		return err
	}
	loc, err := geo.Parse(sendAt)
	if err != nil {
		return err
	}
	expires, err := model.ParseExpiration(sendExpires)
	if err != nil {
		return err
	}

	arbiter := media.NewArbiter(media.FileDevice{Path: sendVideo}, app.logger)
	rec := capture.New(arbiter, media.CopyEncoder{}, app.client,
		capture.WithLogger(app.logger),
		capture.WithListener(func(e capture.Event) {
			if e.Err != nil {
				app.logger.Warn(e.Message, "state", e.To, "error", e.Err)
				return
			}
			if e.Message != "" {
				app.logger.Info(e.Message, "state", e.To)
			}
		}),
	)
	defer func() { _ = rec.Close() }()

	if err := rec.Start(ctx); err != nil {
		return err
	}
	if err := rec.Stop(); err != nil {
		return err
	}
	if err := rec.SelectGesture(trigger); err != nil {
		return err
	}

	hash, err := rec.Send(ctx, api.UploadRequest{
		ChatID:      sendChatID,
		Location:    loc,
		ExpiresIn:   expires,
		ReplyTo:     sendReplyTo,
		OneTimeView: sendOneTime,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s (%s) at %s\n", hash, trigger.Label(), geo.Format(loc))
	return nil
}
