package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/shobu13/kindly-kappa/internal/edit"
)

type envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Parses a raw frame into a typed request. Malformed frames and unknown kinds
// fail with ErrInvalidRequestData, well-formed frames missing required fields
// with ErrDataNotFound.
func Decode(raw []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Request{}, ErrInvalidRequestData
	}

	if env.Type == "" {
		return Request{}, Errorf(DataNotFound, "Event type not found.")
	}
	if !env.Type.Known() {
		return Request{}, Errorf(InvalidRequestData, "Unknown event type %q.", env.Type)
	}

	data, err := decodeData(env.Type, env.Data)
	if err != nil {
		return Request{}, err
	}
	return Request{Type: env.Type, Data: data}, nil
}

func decodeData(t EventType, raw json.RawMessage) (any, error) {
	empty := len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))

	switch t {
	case EventConnect:
		if empty {
			return nil, ErrDataNotFound
		}
		var data ConnectData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, ErrInvalidRequestData
		}
		switch data.ConnectionType {
		case ConnectionCreate, ConnectionJoin:
		case "":
			return nil, Errorf(DataNotFound, "Connection type not found.")
		default:
			return nil, Errorf(InvalidRequestData, "Unknown connection type %q.", data.ConnectionType)
		}
		if data.RoomCode == "" || data.Username == "" {
			return nil, ErrDataNotFound
		}
		return data, nil

	case EventDisconnect:
		var data DisconnectData
		if !empty {
			if err := json.Unmarshal(raw, &data); err != nil {
				return nil, ErrInvalidRequestData
			}
		}
		return data, nil

	case EventSync:
		if empty {
			return nil, ErrDataNotFound
		}
		var data struct {
			Code *string `json:"code"`
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, ErrInvalidRequestData
		}
		if data.Code == nil {
			return nil, ErrDataNotFound
		}
		return SyncData{Code: *data.Code}, nil

	case EventMove:
		if empty {
			return nil, ErrDataNotFound
		}
		var data struct {
			Position []int `json:"position"`
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, ErrInvalidRequestData
		}
		if data.Position == nil {
			return nil, ErrDataNotFound
		}
		if len(data.Position) != 2 {
			return nil, Errorf(InvalidRequestData, "Position must be [line, column].")
		}
		return MoveData{Position: Position{data.Position[0], data.Position[1]}}, nil

	case EventReplace:
		if empty {
			return nil, ErrDataNotFound
		}
		var data struct {
			Code *[]edit.Replacement `json:"code"`
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, ErrInvalidRequestData
		}
		if data.Code == nil {
			return nil, ErrDataNotFound
		}
		return ReplaceData{Code: *data.Code}, nil

	case EventBugs:
		return BugsData{}, nil

	case EventEvaluate:
		return EvaluateData{}, nil

	case EventError:
		var data ErrorData
		if !empty {
			if err := json.Unmarshal(raw, &data); err != nil {
				return nil, ErrInvalidRequestData
			}
		}
		return data, nil
	}

	return nil, ErrInvalidRequestData
}
