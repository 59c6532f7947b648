package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/circuit-voice-assistant/internal/dialog"
	"github.com/skypro1111/circuit-voice-assistant/internal/platform"
)

// recipient is a user or conversation a message can be sent to
type recipient struct {
	name   string
	userID string
	convID string
}

// searchRecipients looks target up as user and as conversation name.
// Users come first.
func searchRecipients(ctx context.Context, client platform.Client, target string) ([]recipient, error) {
	var (
		users []platform.User
		convs []platform.Conversation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = client.SearchUsers(gctx, target)
		return err
	})
	g.Go(func() error {
		var err error
		convs, err = client.SearchConversationsByName(gctx, target)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to search recipients: %w", err)
	}

	recipients := make([]recipient, 0, len(users)+len(convs))
	for _, u := range users {
		recipients = append(recipients, recipient{name: u.DisplayName, userID: u.UserID})
	}
	for _, c := range convs {
		recipients = append(recipients, recipient{name: c.Topic, convID: c.ConvID})
	}
	return recipients, nil
}

func (a *Assistant) sendMessage(ctx context.Context, conv *dialog.Conversation) error {
	client, err := a.client(ctx, conv)
	if err != nil {
		return err
	}

	target := firstNonEmpty(conv.Param("target"), conv.ContextParam(ctxSendMessageData, "target"))
	message := firstNonEmpty(conv.Param("message"), conv.ContextParam(ctxSendMessageData, "message"))

	// keep what we have for the follow-up turns
	conv.SetContext(ctxSendMessageData, confirmLifespan, map[string]any{
		"target":  target,
		"message": message,
	})

	if target == "" {
		conv.Ask("Who should I send the message to?")
		return nil
	}

	return offerRecipients(ctx, conv, client, target, message)
}

func (a *Assistant) sendMessageCollectTarget(ctx context.Context, conv *dialog.Conversation) error {
	client, err := a.client(ctx, conv)
	if err != nil {
		return err
	}

	target := conv.Param("target")
	message := firstNonEmpty(conv.ContextParam(ctxSendMessageData, "message"), conv.Param("message"))
	if message == "" {
		return fmt.Errorf("%w: %s.message", dialog.ErrMissingContext, ctxSendMessageData)
	}

	conv.SetContext(ctxSendMessageData, confirmLifespan, map[string]any{
		"target":  target,
		"message": message,
	})

	return offerRecipients(ctx, conv, client, target, message)
}

// offerRecipients searches target and either confirms the single match or
// asks again, keeping sendmessage_getconv alive for the next name.
func offerRecipients(ctx context.Context, conv *dialog.Conversation, client platform.Client, target, message string) error {
	recipients, err := searchRecipients(ctx, client, target)
	if err != nil {
		return err
	}

	outcome, matches := Disambiguate(recipients)
	switch outcome {
	case OutcomeNone:
		conv.SetContext(ctxSendMessageGetConv, confirmLifespan, nil)
		conv.Ask(fmt.Sprintf("I cannot find any user or conversation called %s. What's the name?", target))
		return nil
	case OutcomeOne:
		return confirmSend(ctx, conv, client, matches[0], message)
	}

	names := make([]string, 0, len(matches))
	for _, r := range matches {
		names = append(names, r.name)
	}
	conv.SetContext(ctxSendMessageGetConv, confirmLifespan, nil)
	conv.Ask(fmt.Sprintf("More than one user or conversation found with name %s. What's the full name?", target), names...)
	return nil
}

// confirmSend asks to confirm sending message to r and stashes the
// conversation id for the yes turn.
func confirmSend(ctx context.Context, conv *dialog.Conversation, client platform.Client, r recipient, message string) error {
	convID := r.convID
	if r.userID != "" {
		direct, err := client.GetDirectConversationWithUser(ctx, r.userID, true)
		if err != nil {
			return fmt.Errorf("failed to get direct conversation: %w", err)
		}
		convID = direct.ConvID
	}

	conv.Ask(
		speak(fmt.Sprintf("Ready to send %s%s%s to %s?", pause, ssml(message), pause, ssml(r.name))),
		"Yes", "No, don't send it",
	)
	conv.SetContext(ctxSendMessageSend, confirmLifespan, map[string]any{"convId": convID})
	return nil
}

func (a *Assistant) sendMessageYes(ctx context.Context, conv *dialog.Conversation) error {
	client, err := a.client(ctx, conv)
	if err != nil {
		return err
	}

	message, err := conv.RequireContextParam(ctxSendMessageData, "message")
	if err != nil {
		return err
	}
	convID, err := conv.RequireContextParam(ctxSendMessageSend, "convId")
	if err != nil {
		return err
	}

	if err := client.AddTextItem(ctx, convID, message); err != nil {
		a.logger.Warn("Failed to send message",
			slog.String("user_id", conv.UserID()),
			slog.String("conv_id", convID),
			slog.String("error", err.Error()),
		)
		anythingElse(conv, "Sorry, I could not send the message.")
		return nil
	}

	conv.DeleteContext(ctxSendMessageData)
	anythingElse(conv, "Message sent.")
	return nil
}

func (a *Assistant) sendMessageNo(ctx context.Context, conv *dialog.Conversation) error {
	conv.DeleteContext(ctxSendMessageData)
	anythingElse(conv, "Message not sent.")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
