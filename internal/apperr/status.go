package apperr

import "net/http"

var statusByCode = map[Code]int{
	RoomNotFound:             http.StatusNotFound,
	MembershipNotFound:       http.StatusNotFound,
	MessageNotFound:          http.StatusNotFound,
	PostNotFound:             http.StatusNotFound,
	UserNotFound:             http.StatusNotFound,
	ParticipantNotFound:      http.StatusNotFound,
	PostAlreadyDeleted:       http.StatusConflict,
	AlreadyParticipating:     http.StatusConflict,
	PositionFull:             http.StatusConflict,
	RecruitmentClosed:        http.StatusConflict,
	UserNotAuthorized:        http.StatusForbidden,
	RoomNameRequired:         http.StatusBadRequest,
	InvalidSchedule:          http.StatusBadRequest,
	InvalidCursor:            http.StatusBadRequest,
	InvalidArgument:          http.StatusBadRequest,
	CapacityDecreaseRejected: http.StatusUnprocessableEntity,
}

// HTTPStatus maps err to a response status. Errors without a code are
// internal errors.
func HTTPStatus(err error) int {
	code, ok := CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
