package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/circuit-voice-assistant/internal/dialog"
	"github.com/skypro1111/circuit-voice-assistant/internal/platform"
)

// conference is a call together with the title it is spoken by. It is
// stashed in dialogue contexts between turns.
type conference struct {
	CallID string `json:"callId"`
	Title  string `json:"title"`
}

// lookupConferences titles each call from its conversation. The result is
// in call order.
func lookupConferences(ctx context.Context, client platform.Client, calls []platform.Call) ([]conference, error) {
	confs := make([]conference, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			details, err := client.GetConversationByID(gctx, call.ConvID)
			if err != nil {
				return fmt.Errorf("failed to look up conversation %s: %w", call.ConvID, err)
			}
			confs[i] = conference{CallID: call.CallID, Title: ConferenceTitle(details)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return confs, nil
}

// conferenceTitles returns the lower-cased titles used as suggestions
func conferenceTitles(confs []conference) []string {
	titles := make([]string, 0, len(confs))
	for _, c := range confs {
		titles = append(titles, strings.ToLower(c.Title))
	}
	return titles
}

// matchConferences returns the conferences titled target, ignoring case
func matchConferences(confs []conference, target string) []conference {
	var matches []conference
	for _, c := range confs {
		if strings.EqualFold(c.Title, target) {
			matches = append(matches, c)
		}
	}
	return matches
}

// askConference lists confs and stashes them for the collect-target turn
func askConference(conv *dialog.Conversation, contextName, prompt string, confs []conference) {
	titles := conferenceTitles(confs)
	conv.Ask(speak(prompt), titles...)
	conv.SetContext(contextName, confirmLifespan, map[string]any{
		"calls":  confs,
		"titles": titles,
	})
}

func (a *Assistant) joinConference(ctx context.Context, conv *dialog.Conversation) error {
	client, err := a.client(ctx, conv)
	if err != nil {
		return err
	}

	remote, err := client.GetActiveRemoteCalls(ctx)
	if err != nil {
		return err
	}
	if len(remote) > 0 {
		anythingElse(conv, "You're already in a conference call.")
		return nil
	}

	started, err := client.GetStartedCalls(ctx)
	if err != nil {
		return err
	}
	if len(started) == 0 {
		anythingElse(conv, "No conferences available to join.")
		return nil
	}

	confs, err := lookupConferences(ctx, client, started)
	if err != nil {
		return err
	}

	target := conv.Param("target")
	if target == "" {
		askConference(conv, ctxJoinConferenceTarget,
			"Which conference would you like to join? Here are your ongoing conferences.", confs)
		return nil
	}

	outcome, matches := Disambiguate(matchConferences(confs, target))
	switch outcome {
	case OutcomeNone:
		askConference(conv, ctxJoinConferenceTarget, fmt.Sprintf(
			"I cannot find any conference call with name %s. Here are the names of your current ongoing conferences. Which would you like to join?",
			ssml(target)), confs)
	case OutcomeOne:
		confirmJoin(conv, target, matches[0])
	case OutcomeMany:
		conv.Ask(fmt.Sprintf("More than one conference found with the name %s. Joining the first %s conference.", target, target))
		confirmJoin(conv, target, matches[0])
	}
	return nil
}

func (a *Assistant) joinConferenceCollectTarget(ctx context.Context, conv *dialog.Conversation) error {
	if _, err := a.client(ctx, conv); err != nil {
		return err
	}

	var confs []conference
	if err := conv.ContextValue(ctxJoinConferenceTarget, "calls", &confs); err != nil {
		return err
	}

	target := conv.Param("target")
	matches := matchConferences(confs, target)
	if len(matches) == 0 {
		askConference(conv, ctxJoinConferenceTarget, fmt.Sprintf(
			"I cannot find a conference called %s. Which would you like to join?", ssml(target)), confs)
		return nil
	}

	confirmJoin(conv, target, matches[0])
	return nil
}

func confirmJoin(conv *dialog.Conversation, target string, c conference) {
	conv.Ask(
		speak(fmt.Sprintf("Ready to join the %s%s%s conference call?", pause, ssml(target), pause)),
		"Yes", "No, don't join",
	)
	conv.SetContext(ctxJoinConferenceSend, confirmLifespan, map[string]any{"confId": c.CallID})
}

func (a *Assistant) joinConferenceYes(ctx context.Context, conv *dialog.Conversation) error {
	client, err := a.client(ctx, conv)
	if err != nil {
		return err
	}

	confID, err := conv.RequireContextParam(ctxJoinConferenceSend, "confId")
	if err != nil {
		return err
	}

	device, err := findWebClient(ctx, client)
	if err != nil {
		return err
	}
	var clientID string
	if device != nil {
		clientID = device.ClientID
	}

	conv.DeleteContext(ctxJoinConferenceSend)

	if err := client.JoinConference(ctx, confID, platform.MediaOptions{Audio: true, Video: false}, clientID); err != nil {
		a.logger.Warn("Failed to join conference",
			slog.String("user_id", conv.UserID()),
			slog.String("call_id", confID),
			slog.String("error", err.Error()),
		)
		anythingElse(conv, "Sorry, I could not join the conference.")
		return nil
	}

	anythingElse(conv, "Conference joined.")
	return nil
}

func (a *Assistant) joinConferenceNo(ctx context.Context, conv *dialog.Conversation) error {
	conv.DeleteContext(ctxJoinConferenceSend)
	anythingElse(conv, "Conference not joined.")
	return nil
}

func (a *Assistant) leaveConference(ctx context.Context, conv *dialog.Conversation) error {
	client, err := a.client(ctx, conv)
	if err != nil {
		return err
	}

	remote, err := client.GetActiveRemoteCalls(ctx)
	if err != nil {
		return err
	}
	if len(remote) == 0 {
		anythingElse(conv, "You aren't in any conference calls.")
		return nil
	}

	confs, err := lookupConferences(ctx, client, remote)
	if err != nil {
		return err
	}

	prompt := "Here are the conferences you're in. Which would you like to leave?"
	if target := conv.Param("target"); target != "" {
		if matches := matchConferences(confs, target); len(matches) > 0 {
			confirmLeave(conv, target, matches[0])
			return nil
		}
		prompt = fmt.Sprintf("You are not in a conference named %s. %s", ssml(target), prompt)
	}

	askConference(conv, ctxLeaveConferenceTgt, prompt, confs)
	return nil
}

func (a *Assistant) leaveConferenceCollectTarget(ctx context.Context, conv *dialog.Conversation) error {
	if _, err := a.client(ctx, conv); err != nil {
		return err
	}

	var confs []conference
	if err := conv.ContextValue(ctxLeaveConferenceTgt, "calls", &confs); err != nil {
		return err
	}

	target := conv.Param("target")
	matches := matchConferences(confs, target)
	if len(matches) == 0 {
		askConference(conv, ctxLeaveConferenceTgt, fmt.Sprintf(
			"You are not in a conference named %s. Which would you like to leave?", ssml(target)), confs)
		return nil
	}

	confirmLeave(conv, target, matches[0])
	return nil
}

func confirmLeave(conv *dialog.Conversation, target string, c conference) {
	conv.Ask(
		speak(fmt.Sprintf("Ready to leave the %s%s%s conference call?", pause, ssml(target), pause)),
		"Yes", "No",
	)
	conv.SetContext(ctxLeaveConferenceSend, confirmLifespan, map[string]any{"confId": c.CallID})
}

func (a *Assistant) leaveConferenceYes(ctx context.Context, conv *dialog.Conversation) error {
	client, err := a.client(ctx, conv)
	if err != nil {
		return err
	}

	confID, err := conv.RequireContextParam(ctxLeaveConferenceSend, "confId")
	if err != nil {
		return err
	}

	conv.DeleteContext(ctxLeaveConferenceSend)

	if err := client.LeaveConference(ctx, confID); err != nil {
		a.logger.Warn("Failed to leave conference",
			slog.String("user_id", conv.UserID()),
			slog.String("call_id", confID),
			slog.String("error", err.Error()),
		)
		anythingElse(conv, "There was an error trying to leave the conference. You might not be in the conference anymore.")
		return nil
	}

	anythingElse(conv, "Conference left.")
	return nil
}

func (a *Assistant) leaveConferenceNo(ctx context.Context, conv *dialog.Conversation) error {
	conv.DeleteContext(ctxLeaveConferenceSend)
	anythingElse(conv, "Conference not left.")
	return nil
}
