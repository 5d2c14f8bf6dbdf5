package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/eternallink/arlink/internal/config"
	"github.com/eternallink/arlink/internal/model"
	"github.com/eternallink/arlink/internal/poller"
)

var watchChatID int64

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a chat and list its messages as they change",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().Int64Var(&watchChatID, "chat", 0, "chat to follow")
	_ = watchCmd.MarkFlagRequired("chat")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	svc := poller.NewService(app.client, watchChatID, config.GetDuration("poll.interval"), func(msgs []model.Message) {
		printMessages(out, msgs, time.Now())
	}, app.logger)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-svc.Done():
	}
	svc.Stop()
	return svc.Err()
}

func printMessages(w io.Writer, msgs []model.Message, now time.Time) {
	fmt.Fprintf(w, "--- %d messages\n", len(msgs))
	for _, m := range msgs {
		sender := "?"
		if m.Sender != nil {
			sender = m.Sender.Username
		}
		line := fmt.Sprintf("%s #%d %s: %s", m.SentAt.Local().Format("15:04"), m.ID, sender, m.Content)
		if ar := m.ARMessage; ar != nil {
			switch {
			case ar.Expired(now):
				line += " [AR expired]"
			case ar.IsViewed:
				line += " [AR viewed]"
			case ar.Eligible(now):
				line += fmt.Sprintf(" [AR: perform %s]", ar.GestureTrigger.Label())
			}
		}
		fmt.Fprintln(w, line)
	}
}
