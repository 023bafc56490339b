package admin

import (
	"context"
	"strings"
)

// Callback data carried by the menu buttons.
const (
	CallbackListGroups        = "list_groups"
	CallbackAddGroupPrompt    = "add_group_prompt"
	CallbackRemoveGroupPrompt = "remove_group_prompt"
	CallbackListAttempts      = "list_attempts"
	// CallbackRemovePrefix is followed by the chat id to remove.
	CallbackRemovePrefix = "remove_"
)

func (c *Commands) menu() Reply {
	return Reply{
		Text: "Select an option:",
		Keyboard: []Button{
			{Text: "List Groups", Data: CallbackListGroups},
			{Text: "Add Group", Data: CallbackAddGroupPrompt},
			{Text: "Remove Group", Data: CallbackRemoveGroupPrompt},
			{Text: "Unauthorized Attempts", Data: CallbackListAttempts},
		},
	}
}

// HandleCallback runs the menu action encoded in data for userID.
func (c *Commands) HandleCallback(ctx context.Context, userID int64, data string) Reply {
	if !c.allowed(userID, "callback", data) {
		return Reply{Text: deniedCallbackText, Denied: true}
	}

	switch {
	case data == CallbackListGroups:
		return c.listGroups(ctx)
	case data == CallbackAddGroupPrompt:
		return Reply{Text: "Send the group ID to add using the format:\n/add_group <GROUP_ID>"}
	case data == CallbackRemoveGroupPrompt:
		return c.removePrompt(ctx)
	case data == CallbackListAttempts:
		return c.listAttempts(ctx)
	case strings.HasPrefix(data, CallbackRemovePrefix):
		return c.removeGroup(ctx, strings.TrimPrefix(data, CallbackRemovePrefix))
	default:
		return c.menu()
	}
}
