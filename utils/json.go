package utils

import (
	"bytes"
	"encoding/json"
)

// Marshal generic struct to JSON
func MarshalToJSON[T any](input T) (string, error) {
	jsonData, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

// Unmarshal JSON to generic struct
func UnmarshalFromJSON[T any](data []byte, output *T) error {
	return json.Unmarshal(data, output)
}

// StrictUnmarshalJSON rejects fields the target struct does not declare.
// Client sync payloads are schema-less on the wire; unknown fields mean the
// client and server disagree about the contract.
func StrictUnmarshalJSON[T any](data []byte, output *T) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(output)
}
