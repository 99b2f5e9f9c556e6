package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/v2"
)

type tomlParser struct{}

// TOMLParser returns a koanf.Parser backed by BurntSushi/toml.
func TOMLParser() koanf.Parser { return tomlParser{} }

func (tomlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if _, err := toml.Decode(string(b), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tomlParser) Marshal(o map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type jsonParser struct{}

// JSONParser returns a koanf.Parser that keeps numbers as json.Number, so
// numeric GIDs survive with every digit.
func JSONParser() koanf.Parser { return jsonParser{} }

func (jsonParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	out := map[string]interface{}{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return out, nil
}

func (jsonParser) Marshal(o map[string]interface{}) ([]byte, error) {
	return json.Marshal(o)
}
