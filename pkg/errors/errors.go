package errors

import (
	"errors"
	"net/http"
)

// Kind classifies a failure so transports can map it without string matching.
type Kind string

const (
	KindInternal            Kind = "internal"
	KindValidation          Kind = "validation"
	KindStateConflict       Kind = "state_conflict"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindAlreadyPaid         Kind = "already_paid"
	KindAlreadyClaimed      Kind = "already_claimed"
	KindNotAuthorized       Kind = "not_authorized"
	KindNotFound            Kind = "not_found"
	KindResourceExhausted   Kind = "resource_exhausted"
	KindNotWinner           Kind = "not_winner"
)

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error kind to the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindStateConflict, KindAlreadyPaid, KindAlreadyClaimed:
		return http.StatusConflict
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindNotAuthorized, KindNotWinner:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindResourceExhausted:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrUnauthorized       = New(KindNotAuthorized, "unauthorized")
	ErrAdminRequired      = New(KindNotAuthorized, "administrator privilege required")
	ErrInvalidCredentials = New(KindNotAuthorized, "invalid phone or password")
	ErrPhoneTaken         = New(KindStateConflict, "phone already registered")
	ErrInvalidPhone       = New(KindValidation, "invalid phone")
	ErrInvalidPassword    = New(KindValidation, "password must be at least 6 characters")

	ErrUserNotFound      = New(KindNotFound, "user not found")
	ErrRoomNotFound      = New(KindNotFound, "room not found")
	ErrModeNotFound      = New(KindNotFound, "game mode not found")
	ErrGameNotFound      = New(KindNotFound, "game not found")
	ErrNotParticipant    = New(KindNotFound, "user has not joined this game")
	ErrCardNotFound      = New(KindNotFound, "bingo card not found")
	ErrInvalidRole       = New(KindValidation, "role must be player or admin")
	ErrInvalidAmount     = New(KindValidation, "amount must be positive")
	ErrInvalidNumber     = New(KindValidation, "number must be between 1 and 75")
	ErrInvalidPattern    = New(KindValidation, "unknown win pattern")
	ErrInvalidRoom       = New(KindValidation, "invalid room configuration")
	ErrInvalidMode       = New(KindValidation, "invalid game mode configuration")
	ErrNumberNotCalled   = New(KindValidation, "number has not been called")
	ErrNumberNotOnCard   = New(KindValidation, "number is not on the card")
	ErrPatternIncomplete = New(KindValidation, "card does not satisfy the win pattern")

	ErrRoomInactive        = New(KindStateConflict, "room is not active")
	ErrRoomFull            = New(KindStateConflict, "room is full")
	ErrRoomBusy            = New(KindStateConflict, "room has an open game")
	ErrModeInUse           = New(KindStateConflict, "game mode is used by a room")
	ErrGameNotWaiting      = New(KindStateConflict, "game is not waiting")
	ErrGameNotInProgress   = New(KindStateConflict, "game is not in progress")
	ErrGameFinished        = New(KindStateConflict, "game is already finished")
	ErrNotEnoughPlayers    = New(KindStateConflict, "not enough players to start")
	ErrEntryNotPaid        = New(KindStateConflict, "entry fee has not been paid")
	ErrNumberAlreadyMarked = New(KindStateConflict, "number already marked")
	ErrGamePaused          = New(KindStateConflict, "game is paused")
	ErrGameNotPaused       = New(KindStateConflict, "game is not paused")
	ErrWinnerBeforeStart   = New(KindStateConflict, "a game that has not started cannot have a winner")

	ErrInsufficientBalance = New(KindInsufficientBalance, "insufficient balance")
	ErrAlreadyPaid         = New(KindAlreadyPaid, "entry already paid")
	ErrNothingToClaim      = New(KindAlreadyClaimed, "nothing to claim")
	ErrNotWinner           = New(KindNotWinner, "user is not the winner of this game")
	ErrPoolExhausted       = New(KindResourceExhausted, "all 75 numbers have been called")
)
