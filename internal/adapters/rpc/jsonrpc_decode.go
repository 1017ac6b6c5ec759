package rpc

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

func decodeSingleStringParam(raw json.RawMessage) (string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 && arr[0] != "" {
		return arr[0], nil
	}
	return "", errInvalidParams
}

// decodeOptionalStringParam accepts [], [""], ["value"] or absent params.
func decodeOptionalStringParam(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) > 1 {
		return "", errInvalidParams
	}
	if len(arr) == 0 {
		return "", nil
	}
	return arr[0], nil
}

func decodeTwoStringParams(raw json.RawMessage) (string, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 2 && arr[0] != "" && arr[1] != "" {
		return arr[0], arr[1], nil
	}
	return "", "", errInvalidParams
}

// decodePasswordParams accepts a single password or password plus
// confirmation. The confirmation, if present, is checked by the caller.
func decodePasswordParams(raw json.RawMessage) (string, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err != nil {
		return "", "", errInvalidParams
	}
	switch len(arr) {
	case 1:
		if arr[0] == "" {
			return "", "", errInvalidParams
		}
		return arr[0], "", nil
	case 2:
		if arr[0] == "" || arr[1] == "" {
			return "", "", errInvalidParams
		}
		return arr[0], arr[1], nil
	default:
		return "", "", errInvalidParams
	}
}

// decodeNavigateParams accepts [screen], [screen, payload] or
// {"screen": ..., "payload": ...}.
func decodeNavigateParams(raw json.RawMessage) (string, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		switch len(arr) {
		case 1:
			if strings.TrimSpace(arr[0]) == "" {
				return "", "", errInvalidParams
			}
			return arr[0], "", nil
		case 2:
			if strings.TrimSpace(arr[0]) == "" {
				return "", "", errInvalidParams
			}
			return arr[0], arr[1], nil
		}
	}

	var payload struct {
		Screen  string `json:"screen"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", "", errInvalidParams
	}
	if strings.TrimSpace(payload.Screen) == "" {
		return "", "", errInvalidParams
	}
	return payload.Screen, payload.Payload, nil
}

// decodeAvatarParams accepts {"filename", "content_type", "data"} with the
// media bytes base64-encoded.
func decodeAvatarParams(raw json.RawMessage) (string, string, []byte, error) {
	var payload struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
		Data        string `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", "", nil, errInvalidParams
	}
	if strings.TrimSpace(payload.Filename) == "" || payload.Data == "" {
		return "", "", nil, errInvalidParams
	}
	data, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return "", "", nil, errInvalidParams
	}
	if payload.ContentType == "" {
		payload.ContentType = "application/octet-stream"
	}
	return payload.Filename, payload.ContentType, data, nil
}
