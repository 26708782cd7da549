package engine

import "errors"

// Error messages double as the machine-readable kind sent in room-error.
var (
	ErrRoomNotFound       = errors.New("RoomNotFound")
	ErrRoomFull           = errors.New("RoomFull")
	ErrSelfJoinForbidden  = errors.New("SelfJoinForbidden")
	ErrDuplicateRoomCode  = errors.New("DuplicateRoomCode")
	ErrInvalidRoomCode    = errors.New("InvalidRoomCode")
	ErrInvalidPlayer      = errors.New("InvalidPlayer")
	ErrInvalidChoice      = errors.New("InvalidChoice")
	ErrInvalidState       = errors.New("InvalidState")
	ErrNotInRoom          = errors.New("NotInRoom")
	ErrRoomExpired        = errors.New("RoomExpired")
	ErrUnauthorized       = errors.New("Unauthorized")
	ErrBadRequest         = errors.New("BadRequest")
	ErrUnknownEvent       = errors.New("UnknownEvent")
	ErrUnsupportedCommand = errors.New("UnsupportedCommand")
)

var kinds = []error{
	ErrRoomNotFound,
	ErrRoomFull,
	ErrSelfJoinForbidden,
	ErrDuplicateRoomCode,
	ErrInvalidRoomCode,
	ErrInvalidPlayer,
	ErrInvalidChoice,
	ErrInvalidState,
	ErrNotInRoom,
	ErrRoomExpired,
	ErrUnauthorized,
	ErrBadRequest,
	ErrUnknownEvent,
}

const KindInternal = "InternalError"

// Kind maps err to the string reported to clients.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return KindInternal
}
