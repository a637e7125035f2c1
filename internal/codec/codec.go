// Package codec serializes mesh envelopes for a transport.
//
// JSON is the default and matches the logical wire shape
// {kind, payload, createdAt, senderId, id}. Proto carries the same fields in a
// protobuf Struct for transports where a compact binary frame is preferred.
// Both reject frames that decode but lack an id, sender or kind.
package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/miyah/internal/model"
)

// Codec encodes and decodes envelopes.
type Codec interface {
	Name() string
	Encode(env model.Envelope) ([]byte, error)
	Decode(data []byte) (model.Envelope, error)
}

// ByName returns the codec registered under name ("json" or "proto").
// An empty name selects JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "proto", "protobuf":
		return Proto{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q (must be json or proto)", name)
}

// JSON is the default envelope codec.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(env model.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return data, nil
}

func (JSON) Decode(data []byte) (model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Envelope{}, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	if err := model.ValidateEnvelope(&env); err != nil {
		return model.Envelope{}, err
	}
	return env, nil
}

// Proto encodes envelopes as a google.protobuf.Struct.
type Proto struct{}

func (Proto) Name() string { return "proto" }

func (Proto) Encode(env model.Envelope) ([]byte, error) {
	fields := map[string]any{
		"id":        env.ID,
		"senderId":  env.SenderID,
		"kind":      string(env.Kind),
		"createdAt": env.CreatedAt,
	}
	if len(env.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
		fields["payload"] = payload
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("building struct: %w", err)
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return data, nil
}

func (Proto) Decode(data []byte) (model.Envelope, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return model.Envelope{}, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	m := s.AsMap()

	env := model.Envelope{
		ID:       stringField(m, "id"),
		SenderID: stringField(m, "senderId"),
		Kind:     model.Kind(stringField(m, "kind")),
	}
	if v, ok := m["createdAt"].(float64); ok {
		env.CreatedAt = int64(v)
	}
	if v, ok := m["payload"]; ok && v != nil {
		payload, err := json.Marshal(v)
		if err != nil {
			return model.Envelope{}, fmt.Errorf("encoding payload: %w", err)
		}
		env.Payload = payload
	}
	if err := model.ValidateEnvelope(&env); err != nil {
		return model.Envelope{}, err
	}
	return env, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
