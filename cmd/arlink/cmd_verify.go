package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eternallink/arlink/internal/config"
	"github.com/eternallink/arlink/internal/gesture"
	"github.com/eternallink/arlink/internal/media"
	"github.com/eternallink/arlink/internal/model"
	"github.com/eternallink/arlink/internal/playback"
	"github.com/eternallink/arlink/internal/telemetry"
	"github.com/eternallink/arlink/internal/verify"
)

var (
	verifyChatID    int64
	verifyMessageID int64
	verifyLandmarks string
	verifyFPS       int
	verifyTimeout   time.Duration

	playCommand  []string
	playDuration time.Duration
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Unlock an AR message by performing its trigger gesture",
	Long: `Run gesture detection over a landmark stream (JSON lines of hand frames)
until the message's trigger gesture is seen and the server accepts the view.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Verify an AR message and play its hologram",
	Long: `Verify the message like the verify command, then play the video in the
AR runtime. When the runtime cannot load, the clip is handed to --player or
its local URL is printed.`,
	Args: cobra.NoArgs,
	RunE: runPlay,
}

func init() {
	for _, c := range []*cobra.Command{verifyCmd, playCmd} {
		f := c.Flags()
		f.Int64Var(&verifyChatID, "chat", 0, "chat the message belongs to")
		f.Int64Var(&verifyMessageID, "message", 0, "chat message carrying the AR video")
		f.StringVar(&verifyLandmarks, "landmarks", "", "JSON lines file of detected hand frames")
		f.IntVar(&verifyFPS, "fps", 30, "detection frame rate")
		f.DurationVar(&verifyTimeout, "timeout", time.Minute, "give up after this long")
		_ = c.MarkFlagRequired("chat")
		_ = c.MarkFlagRequired("message")
		_ = c.MarkFlagRequired("landmarks")
	}
	playCmd.Flags().StringSliceVar(&playCommand, "player", nil, "external player command for the fallback, the URL is appended")
	playCmd.Flags().DurationVar(&playDuration, "duration", 0, "stop playback after this long (0 waits for interrupt)")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	tm := app.telemetry(ctx)

	msg, err := findARMessage(ctx, verifyChatID, verifyMessageID)
	if err != nil {
		return err
	}
	tok, err := verifyMessage(ctx, msg, tm)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "verified message %d with %s\n", tok.MessageID, tok.Gesture.Label())
	return nil
}

func runPlay(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	tm := app.telemetry(ctx)

	msg, err := findARMessage(ctx, verifyChatID, verifyMessageID)
	if err != nil {
		return err
	}
	tok, err := verifyMessage(ctx, msg, tm)
	if err != nil {
		return err
	}

	var surface playback.Surface = playback.WriterSurface{Out: cmd.OutOrStdout()}
	if len(playCommand) > 0 {
		surface = &playback.CommandSurface{Name: playCommand[0], Args: playCommand[1:], Logger: app.logger}
	}
	player, err := app.player(ctx, surface, tm)
	if err != nil {
		return err
	}

	res, err := player.Play(ctx, msg, tok)
	if err != nil {
		return err
	}
	app.logger.Info("Playback started", "mode", res.Mode, "url", res.URL)
	if res.Degraded != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "AR runtime unavailable, using fallback player: %v\n", res.Degraded)
		for _, line := range player.DebugLog().Lines() {
			fmt.Fprintln(cmd.ErrOrStderr(), "  "+line)
		}
	}

	wait := ctx
	if playDuration > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, playDuration)
		defer cancel()
	}
	<-wait.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return player.Stop(stopCtx)
}

// findARMessage looks up a chat message and returns its AR payload.
func findARMessage(ctx context.Context, chatID, messageID int64) (*model.ARMessage, error) {
	msgs, err := app.client.ChatMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.ID != messageID {
			continue
		}
		if m.ARMessage == nil {
			return nil, fmt.Errorf("message %d is not an AR message", messageID)
		}
		if m.ARMessage.Expired(time.Now()) {
			return nil, fmt.Errorf("message %d has expired", messageID)
		}
		return m.ARMessage, nil
	}
	return nil, fmt.Errorf("message %d not found in chat %d", messageID, chatID)
}

// verifyMessage runs one verification session over the landmark file.
func verifyMessage(ctx context.Context, msg *model.ARMessage, tm *telemetry.Manager) (*verify.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	clock := newTickerClock(verifyFPS)
	defer clock.Stop()

	session, err := verify.NewSession(msg, verify.Deps{
		Arbiter: media.NewArbiter(media.FileDevice{Path: verifyLandmarks}, app.logger),
		Source:  &landmarkSource{},
		Clock:   clock,
		NewDetector: func(context.Context) (gesture.Detector, error) {
			return frameDetector{}, nil
		},
		Classifier: gesture.NewClassifier(config.GetGestureConfig()),
		Viewer:     app.client,
		Logger:     app.logger,
	})
	if err != nil {
		return nil, err
	}

	fmt.Printf("Perform the %s gesture to unlock the message\n", msg.GestureTrigger.Label())
	start := time.Now()
	runErr := session.Run(ctx)

	outcome := session.State().String()
	if errors.Is(runErr, context.DeadlineExceeded) {
		outcome = "timeout"
	}
	if tm != nil {
		if err := tm.WriteVerify(ctx, msg.ID, msg.GestureTrigger.String(), outcome, time.Since(start)); err != nil {
			app.logger.Warn("Failed to record verification", "error", err)
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("gesture %s not detected within %s", msg.GestureTrigger.Label(), verifyTimeout)
		}
		return nil, runErr
	}
	return session.Token(), nil
}
