package kra

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResultCodeOK is the header code data.go.kr uses for a normal answer.
const ResultCodeOK = "00"

type envelope struct {
	Response struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body struct {
			Items      json.RawMessage `json:"items"`
			TotalCount int             `json:"totalCount"`
		} `json:"body"`
	} `json:"response"`
}

// ResultCode reads response.header.resultCode and resultMsg.
func ResultCode(raw json.RawMessage) (code, msg string, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", "", fmt.Errorf("kra: decode envelope: %w", err)
	}
	return env.Response.Header.ResultCode, env.Response.Header.ResultMsg, nil
}

// Items returns the entries under response.body.items.item. The portal sends
// a bare object when there is exactly one entry and an empty string when there
// are none.
func Items(raw json.RawMessage) ([]json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("kra: decode envelope: %w", err)
	}

	items := bytes.TrimSpace(env.Response.Body.Items)
	if len(items) == 0 || items[0] != '{' {
		return nil, nil
	}

	var wrapper struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(items, &wrapper); err != nil {
		return nil, fmt.Errorf("kra: decode items: %w", err)
	}

	item := bytes.TrimSpace(wrapper.Item)
	switch {
	case len(item) == 0 || bytes.Equal(item, []byte("null")):
		return nil, nil
	case item[0] == '[':
		var list []json.RawMessage
		if err := json.Unmarshal(item, &list); err != nil {
			return nil, fmt.Errorf("kra: decode item list: %w", err)
		}
		return list, nil
	default:
		return []json.RawMessage{item}, nil
	}
}
