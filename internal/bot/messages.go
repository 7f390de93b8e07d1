package bot

import (
	"errors"

	"github.com/ashureev/tutbot/internal/domain"
)

const (
	msgReady         = "Beep boop, bot is ready!"
	msgUnknown       = "Sorry, I didn't understand that command."
	msgNotPermitted  = "You are not permitted to access this command."
	msgReset         = "All tutorial records for this chat have been cleared. Run /start to begin again."
	msgSaved         = "Saved."
	msgUsageNew      = "Usage: /new <tutorial> <question> [question...]"
	msgUsageAssign   = "Usage: /assign <username> <question>"
	msgUsageUnassign = "Usage: /unassign <username> <question>"
	msgCheckDM       = "Sent you the attempts in a private message."
	msgDMFailed      = "I could not message you privately. Start a chat with me first."

	msgHelp = `Tutorial helper

Students: reply to the pinned question list with a question number to take it, or "Remove" to give it back. One question per student per tutorial.

Admins:
/start - set up the bot in this chat
/new <tutorial> <question>... - start a tutorial (ends the current one)
/end - end the current tutorial
/assign <username> <question> - give a question to someone
/unassign <username> <question> - take a question back
/show_attempts - receive the attempt counts privately
/save - save now
/reset - erase every record for this chat`
)

// errorMessage turns a lifecycle error into the reply the user sees.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotAuthorized):
		return msgNotPermitted
	case errors.Is(err, domain.ErrAlreadyInitialized):
		return "Bot is already initialized"
	case errors.Is(err, domain.ErrNotInitialized):
		return "Bot is not set up in this chat yet. An admin needs to run /start."
	case errors.Is(err, domain.ErrNoActiveSession):
		return "No tutorial session right now"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "Question numbers must be distinct and the tutorial needs a number. " + msgUsageNew
	case errors.Is(err, domain.ErrNoSuchLabel):
		return "That question is not part of this tutorial"
	case errors.Is(err, domain.ErrAlreadyClaimedByOther):
		return "Someone has already taken that question. Please try another one"
	case errors.Is(err, domain.ErrAlreadyClaimingElsewhere):
		return "You have already attempted a question!"
	case errors.Is(err, domain.ErrNothingToRemove):
		return "You have not picked a question"
	case errors.Is(err, domain.ErrNotHoldingThatLabel):
		return "That person is not doing that question"
	default:
		return "Something went wrong, please try again"
	}
}
