package store

import "encoding/json"

func encodeFields(fields map[string]string) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeFields(encoded string) (map[string]string, error) {
	var fields map[string]string
	if err := json.Unmarshal([]byte(encoded), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
