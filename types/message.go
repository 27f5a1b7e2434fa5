// Package types provides core types used across the agentnet substrate.
// This package has ZERO dependencies on other agentnet packages to avoid circular imports.
// All other packages should import types from here.
package types

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is the HSP protocol version spoken by this substrate.
const ProtocolVersion = "0.1"

// MessageType identifies the payload carried by an Envelope.
type MessageType string

// Wire names follow the HSP v0.1 protocol.
const (
	MessageTypeFact                    MessageType = "HSP::Fact_v0.1"
	MessageTypeCapabilityAdvertisement MessageType = "HSP::CapabilityAdvertisement_v0.1"
	MessageTypeTaskRequest             MessageType = "HSP::TaskRequest_v0.1"
	MessageTypeTaskResult              MessageType = "HSP::TaskResult_v0.1"
	MessageTypeAcknowledgement         MessageType = "HSP::Acknowledgement_v0.1"
)

// ParseMessageType validates a wire message type. Unknown values are a
// protocol error, never silently passed through.
func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(s) {
	case MessageTypeFact,
		MessageTypeCapabilityAdvertisement,
		MessageTypeTaskRequest,
		MessageTypeTaskResult,
		MessageTypeAcknowledgement:
		return MessageType(s), nil
	}
	return "", NewError(ErrProtocol, "unsupported message type: "+s)
}

// Priority is the delivery priority carried in QoS parameters.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// QoSParameters carries per-message delivery expectations.
type QoSParameters struct {
	RequiresAck bool     `json:"requires_ack"`
	Priority    Priority `json:"priority,omitempty"`
}

// Envelope is the HSP wire envelope. One is created per send; envelopes are
// transient and never persisted.
type Envelope struct {
	ID              string          `json:"id"`
	SenderID        string          `json:"sender_id"`
	RecipientID     string          `json:"recipient_id"` // empty = broadcast
	Timestamp       time.Time       `json:"timestamp"`
	MessageType     MessageType     `json:"message_type"`
	ProtocolVersion string          `json:"protocol_version"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	QoS             QoSParameters   `json:"qos"`
	Payload         json.RawMessage `json:"payload"`
}

// Broadcast reports whether the envelope is addressed to all agents.
func (e *Envelope) Broadcast() bool { return e.RecipientID == "" }

// FactPayload describes a fact asserted by an agent, structured or
// natural-language, with a confidence in [0,1].
type FactPayload struct {
	ID            string    `json:"id"`
	Statement     string    `json:"statement"`
	SourceAgentID string    `json:"source_agent_id"`
	CreatedAt     time.Time `json:"created_at"`
	Confidence    float64   `json:"confidence"`
	Tags          []string  `json:"tags,omitempty"`
}

// CapabilityAdvertisement announces a skill offered by an agent.
type CapabilityAdvertisement struct {
	CapabilityID string   `json:"capability_id"`
	AgentID      string   `json:"agent_id"`
	Name         string   `json:"name"`
	Version      string   `json:"version,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// TaskRequest asks a peer to execute one of its advertised capabilities.
type TaskRequest struct {
	TaskID         string          `json:"task_id"`
	CapabilityName string          `json:"capability_name"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
	RequesterID    string          `json:"requester_id,omitempty"`
}

// TaskStatus is the outcome reported in a TaskResult.
type TaskStatus string

const (
	TaskStatusSuccess    TaskStatus = "success"
	TaskStatusFailure    TaskStatus = "failure"
	TaskStatusInProgress TaskStatus = "in_progress"
)

// TaskResult reports the outcome of a previously requested task.
type TaskResult struct {
	TaskID  string          `json:"task_id"`
	Status  TaskStatus      `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Acknowledgement confirms receipt of an envelope sent with
// QoS.RequiresAck.
type Acknowledgement struct {
	Status          string    `json:"status"`
	TargetMessageID string    `json:"target_message_id"`
	AckTimestamp    time.Time `json:"ack_timestamp"`
}

// decodePayload unmarshals the raw payload into dst, mapping malformed
// payloads to a protocol error.
func (e *Envelope) decodePayload(dst any, want MessageType) error {
	if e.MessageType != want {
		return NewError(ErrProtocol, "envelope is "+string(e.MessageType)+", not "+string(want))
	}
	if len(e.Payload) == 0 {
		return NewError(ErrProtocol, "envelope has empty payload")
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return NewError(ErrProtocol, "malformed payload").WithCause(err)
	}
	return nil
}

// FactPayload decodes the envelope payload as a FactPayload.
func (e *Envelope) FactPayload() (*FactPayload, error) {
	var p FactPayload
	if err := e.decodePayload(&p, MessageTypeFact); err != nil {
		return nil, err
	}
	return &p, nil
}

// CapabilityAdvertisementPayload decodes the envelope payload as a
// CapabilityAdvertisement.
func (e *Envelope) CapabilityAdvertisementPayload() (*CapabilityAdvertisement, error) {
	var p CapabilityAdvertisement
	if err := e.decodePayload(&p, MessageTypeCapabilityAdvertisement); err != nil {
		return nil, err
	}
	return &p, nil
}

// TaskRequestPayload decodes the envelope payload as a TaskRequest.
func (e *Envelope) TaskRequestPayload() (*TaskRequest, error) {
	var p TaskRequest
	if err := e.decodePayload(&p, MessageTypeTaskRequest); err != nil {
		return nil, err
	}
	return &p, nil
}

// TaskResultPayload decodes the envelope payload as a TaskResult.
func (e *Envelope) TaskResultPayload() (*TaskResult, error) {
	var p TaskResult
	if err := e.decodePayload(&p, MessageTypeTaskResult); err != nil {
		return nil, err
	}
	return &p, nil
}

// AcknowledgementPayload decodes the envelope payload as an Acknowledgement.
func (e *Envelope) AcknowledgementPayload() (*Acknowledgement, error) {
	var p Acknowledgement
	if err := e.decodePayload(&p, MessageTypeAcknowledgement); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeEnvelope parses and validates a wire envelope. A malformed document
// or an unsupported protocol version is a protocol error and must not be
// retried by callers.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewError(ErrProtocol, "malformed envelope").WithCause(err)
	}
	if env.ID == "" || env.SenderID == "" {
		return nil, NewError(ErrProtocol, "envelope missing id or sender_id")
	}
	if env.ProtocolVersion != ProtocolVersion {
		return nil, NewError(ErrProtocol, "unsupported protocol version: "+env.ProtocolVersion)
	}
	if _, err := ParseMessageType(string(env.MessageType)); err != nil {
		return nil, err
	}
	return &env, nil
}
