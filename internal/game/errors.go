// internal/game/errors.go
package game

import (
	"errors"
	"fmt"

	"github.com/jason-s-yu/jestblank/internal/apperr"
)

// Gate conditions. The errors returned to callers are *apperr.Error values
// with a user-facing message that wrap one of these.
var (
	ErrTooFewPlayers  = errors.New("too few players")
	ErrTooManyPlayers = errors.New("too many players")
	ErrPromptsMissing = errors.New("not every player submitted a prompt")
)

var (
	ErrNotSignedIn        = apperr.Auth("Please log in first.")
	ErrNoGame             = apperr.Conflict("You are not in a game.")
	ErrGameNotFound       = apperr.Conflict("Game not found!")
	ErrEmptyCode          = apperr.Validation("Enter a game code.")
	ErrNotHost            = apperr.Conflict("Only the host can start the game.")
	ErrGameStarted        = apperr.Conflict("The game has already started.")
	ErrTransitionInFlight = apperr.Conflict("Hold on, the game is already moving on.")
	ErrWrongPhase         = apperr.Conflict("That can't be done right now.")
	ErrAlreadyAnswered    = apperr.Conflict("You already answered this round.")
	ErrAnswerTooLong      = apperr.Validation("Answer is too long! Maximum 500 characters.")
	ErrDebugDisabled      = apperr.Conflict("Debug mode is off.")
)

func gateError(cause error, format string, args ...interface{}) error {
	return &apperr.Error{Kind: apperr.KindConflict, Message: fmt.Sprintf(format, args...), Err: cause}
}
