package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skypro1111/circuit-voice-assistant/internal/dialog"
	"github.com/skypro1111/circuit-voice-assistant/internal/platform"
)

// isWebClient reports whether d is a browser or desktop-app client
func isWebClient(d platform.Device) bool {
	switch d.ClientInfo.DeviceType {
	case platform.DeviceTypeWeb:
		return true
	case platform.DeviceTypeApplication:
		return d.ClientInfo.DeviceSubtype == platform.DeviceSubtypeDesktop
	}
	return false
}

// findWebClient returns the user's first web or desktop client other than
// this handle itself, or nil when there is none.
func findWebClient(ctx context.Context, client platform.Client) (*platform.Device, error) {
	devices, err := client.GetDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	self := client.CurrentClientID()
	for i := range devices {
		if devices[i].ClientID != self && isWebClient(devices[i]) {
			return &devices[i], nil
		}
	}
	return nil, nil
}

// callUser serves both the call intent and its collect-target follow-up
func (a *Assistant) callUser(ctx context.Context, conv *dialog.Conversation) error {
	client, err := a.client(ctx, conv)
	if err != nil {
		return err
	}

	target := conv.Param("target")
	users, err := client.SearchUsers(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to search users: %w", err)
	}

	outcome, matches := Disambiguate(users)
	switch outcome {
	case OutcomeNone:
		conv.SetContext(ctxCallUserGetUser, confirmLifespan, map[string]any{"target": target})
		conv.Ask(fmt.Sprintf("I cannot find any user called %s. What's the name?", target))
	case OutcomeOne:
		name := matches[0].DisplayName
		conv.Ask(speak(fmt.Sprintf("Ready to call %s?", ssml(name))), "Yes", "No")
		conv.SetContext(ctxCallUserData, confirmLifespan, map[string]any{
			"email": matches[0].EmailAddress,
			"name":  name,
		})
	case OutcomeMany:
		conv.SetContext(ctxCallUserGetUser, confirmLifespan, map[string]any{"target": target})
		conv.Ask(fmt.Sprintf("More than one user found with name %s. What's the full name?", target), displayNames(matches)...)
	}
	return nil
}

func (a *Assistant) callUserYes(ctx context.Context, conv *dialog.Conversation) error {
	client, err := a.client(ctx, conv)
	if err != nil {
		return err
	}

	email, err := conv.RequireContextParam(ctxCallUserData, "email")
	if err != nil {
		return err
	}
	name := conv.ContextParam(ctxCallUserData, "name")

	device, err := findWebClient(ctx, client)
	if err != nil {
		return err
	}

	conv.DeleteContext(ctxCallUserData)

	if device == nil {
		conv.Ask("Looks like you are not logged in to Circuit on your browser on the desktop. Login and try again.")
		conv.Close()
		return nil
	}

	if err := client.SendClickToCallRequest(ctx, email, "", device.ClientID, true); err != nil {
		a.logger.Warn("Click-to-call failed",
			slog.String("user_id", conv.UserID()),
			slog.String("device_id", device.ClientID),
			slog.String("error", err.Error()),
		)
		conv.Ask("Looks like you are not logged in to Circuit on your browser on the desktop. Login and try again.")
		conv.Close()
		return nil
	}

	conv.Ask(fmt.Sprintf("Ok, calling %s on your browser.", name))
	conv.Close()
	return nil
}

func (a *Assistant) callUserNo(ctx context.Context, conv *dialog.Conversation) error {
	conv.DeleteContext(ctxCallUserData)
	anythingElse(conv, "")
	return nil
}
