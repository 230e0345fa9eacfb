package quiz

import "errors"

var (
	// ErrNotFound means a game code or team id does not resolve to a record.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness rule was hit, e.g. a taken team name.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable means the store could not be reached; callers fall back
	// to polling.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvariant is the parent of every rule violation rejected before a
	// write is attempted.
	ErrInvariant = errors.New("invariant violation")
)

// violation is an ErrInvariant with a message fit for an inline form error.
type violation struct{ msg string }

func (v *violation) Error() string { return v.msg }
func (v *violation) Unwrap() error { return ErrInvariant }

func invariant(msg string) error { return &violation{msg: msg} }

var (
	ErrNoSuchCell          = invariant("no such board cell")
	ErrQuestionUsed        = invariant("question already used")
	ErrNotStarted          = invariant("game has not started")
	ErrAlreadyStarted      = invariant("game already started")
	ErrNoTeams             = invariant("no teams have joined")
	ErrTeamsNotReady       = invariant("not all teams are ready")
	ErrQuestionActive      = invariant("a question is already active")
	ErrNoActiveQuestion    = invariant("no active question")
	ErrBuzzerNotLocked     = invariant("buzzer is not locked")
	ErrBuzzerLocked        = invariant("buzzer is locked")
	ErrAlreadyBuzzed       = invariant("team already buzzed for this question")
	ErrBonusQuestion       = invariant("not allowed on a bonus question")
	ErrNotBonusQuestion    = invariant("active question is not a staked bonus question")
	ErrStakeRequired       = invariant("bonus question requires a confirmed stake")
	ErrStakingPending      = invariant("stake selection in progress")
	ErrNoStakingPending    = invariant("no stake selection in progress")
	ErrStakeOutOfRange     = invariant("stake out of range")
	ErrInvalidGameCode     = invariant("game code must be 6 letters or digits")
	ErrInvalidTeamName     = invariant("team name must be 1-20 characters")
	ErrInvalidSound        = invariant("unknown sound type")
	ErrInvalidCustomSound  = invariant("custom sound must be an audio data URL under 512 KiB")
	ErrStaleBuzz           = invariant("buzz does not match an open question")
	ErrGameEnded           = invariant("game has ended")
	ErrInvalidQuestionBank = invariant("question bank needs 1-6 categories of exactly 5 questions")
)
