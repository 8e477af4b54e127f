package protocol

import "fmt"

// A protocol failure that knows how to report itself to the client
type Error struct {
	Code    StatusCode
	Message string
}

var (
	ErrRoomNotFound       = &Error{Code: RoomNotFound, Message: "Room not found."}
	ErrRoomAlreadyExists  = &Error{Code: RoomAlreadyExists, Message: "Room already exists."}
	ErrInvalidRequestData = &Error{Code: InvalidRequestData, Message: "Invalid request data."}
	ErrDataNotFound       = &Error{Code: DataNotFound, Message: "Data not found."}
	ErrEvaluationFailed   = &Error{Code: EvaluationFailed, Message: "Evaluation failed."}
)

func Errorf(code StatusCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Errors match by status code so a detailed message still satisfies errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// The error event sent back to the client
func (e *Error) Response() Response {
	return Response{
		Type:       EventError,
		Data:       ErrorData{Message: e.Message},
		StatusCode: e.Code,
	}
}
