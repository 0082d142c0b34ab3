package schema

import "encoding/json"

// StepType enumerates the kinds of workflow steps.
type StepType string

const (
	StepTypeEmail       StepType = "email"
	StepTypeSMS         StepType = "sms"
	StepTypePush        StepType = "push"
	StepTypeChat        StepType = "chat"
	StepTypeInApp       StepType = "in_app"
	StepTypeDelay       StepType = "delay"
	StepTypeDigest      StepType = "digest"
	StepTypeCustom      StepType = "custom"
	StepTypeHTTPRequest StepType = "http_request"
)

// Channel is a delivery channel backed by a provider integration.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelChat  Channel = "chat"
	ChannelInApp Channel = "in_app"
)

// LimitKind names the plan ceiling that applies to a step's time controls.
type LimitKind string

const (
	LimitNone   LimitKind = ""
	LimitDelay  LimitKind = "delay"
	LimitDigest LimitKind = "digest"
)

// StepKind is the closed set of per-type behaviors. Every step type is a
// distinct implementation, so a new type cannot compile without answering
// each question below.
type StepKind interface {
	Type() StepType
	// Channel returns the delivery channel when the step needs a provider integration.
	Channel() (Channel, bool)
	// RequiresPrimaryIntegration reports whether the integration must also be primary.
	RequiresPrimaryIntegration() bool
	// ResultSchema is the shape later steps see under steps.<id>.
	ResultSchema(payload *Node, declared json.RawMessage) *Node
	// ControlSchema is the JSON Schema the step's control values must satisfy.
	ControlSchema() json.RawMessage
	// TierLimit names the plan ceiling for amount/unit controls.
	TierLimit() LimitKind

	sealed()
}

// channelStep covers the five message channels. They differ only in data.
type channelStep struct {
	typ     StepType
	channel Channel
	primary bool
	result  func() *Node
	control string
}

func (k channelStep) Type() StepType { return k.typ }
func (k channelStep) Channel() (Channel, bool) { return k.channel, true }
func (k channelStep) RequiresPrimaryIntegration() bool { return k.primary }
func (k channelStep) ControlSchema() json.RawMessage { return json.RawMessage(k.control) }
func (k channelStep) TierLimit() LimitKind { return LimitNone }
func (k channelStep) ResultSchema(*Node, json.RawMessage) *Node { return k.result() }
func (channelStep) sealed() {}

type delayStep struct{}

func (delayStep) Type() StepType { return StepTypeDelay }
func (delayStep) Channel() (Channel, bool) { return "", false }
func (delayStep) RequiresPrimaryIntegration() bool { return false }
func (delayStep) ControlSchema() json.RawMessage { return json.RawMessage(delayControlSchema) }
func (delayStep) TierLimit() LimitKind { return LimitDelay }
func (delayStep) sealed() {}

func (delayStep) ResultSchema(*Node, json.RawMessage) *Node {
	return Object(map[string]*Node{"duration": Number()})
}

type digestStep struct{}

func (digestStep) Type() StepType { return StepTypeDigest }
func (digestStep) Channel() (Channel, bool) { return "", false }
func (digestStep) RequiresPrimaryIntegration() bool { return false }
func (digestStep) ControlSchema() json.RawMessage { return json.RawMessage(digestControlSchema) }
func (digestStep) TierLimit() LimitKind { return LimitDigest }
func (digestStep) sealed() {}

// ResultSchema exposes eventCount and the batched events. Each event's
// payload mirrors the workflow payload but stays open, since digested
// events may predate a payload schema change.
func (digestStep) ResultSchema(payload *Node, _ json.RawMessage) *Node {
	eventPayload := payload.Clone()
	if eventPayload == nil || eventPayload.Kind != KindObject {
		eventPayload = Open()
	}
	eventPayload.AdditionalProperties = &Additional{Allowed: true}

	event := Object(map[string]*Node{
		"id":      String(),
		"time":    StringFormat("date-time"),
		"payload": eventPayload,
	}, "id", "time", "payload")

	return Object(map[string]*Node{
		"eventCount": Integer(),
		"events":     ArrayOf(event),
	}, "eventCount", "events")
}

type customStep struct{}

func (customStep) Type() StepType { return StepTypeCustom }
func (customStep) Channel() (Channel, bool) { return "", false }
func (customStep) RequiresPrimaryIntegration() bool { return false }
func (customStep) ControlSchema() json.RawMessage { return json.RawMessage(customControlSchema) }
func (customStep) TierLimit() LimitKind { return LimitNone }
func (customStep) sealed() {}

func (customStep) ResultSchema(_ *Node, declared json.RawMessage) *Node {
	return ParseNode(declared)
}

type httpRequestStep struct{}

func (httpRequestStep) Type() StepType { return StepTypeHTTPRequest }
func (httpRequestStep) Channel() (Channel, bool) { return "", false }
func (httpRequestStep) RequiresPrimaryIntegration() bool { return false }
func (httpRequestStep) ControlSchema() json.RawMessage { return json.RawMessage(httpRequestControlSchema) }
func (httpRequestStep) TierLimit() LimitKind { return LimitNone }
func (httpRequestStep) sealed() {}

func (httpRequestStep) ResultSchema(*Node, json.RawMessage) *Node {
	return Object(map[string]*Node{
		"statusCode": Integer(),
		"body":       Open(),
		"headers":    Open(),
	})
}

func emptyResult() *Node { return Object(nil) }

func inAppResult() *Node {
	return Object(map[string]*Node{
		"seen":         Boolean(),
		"read":         Boolean(),
		"lastSeenDate": StringFormat("date-time"),
		"lastReadDate": StringFormat("date-time"),
	})
}

var stepKinds = []StepKind{
	channelStep{typ: StepTypeEmail, channel: ChannelEmail, primary: true, result: emptyResult, control: emailControlSchema},
	channelStep{typ: StepTypeSMS, channel: ChannelSMS, primary: true, result: emptyResult, control: smsControlSchema},
	channelStep{typ: StepTypePush, channel: ChannelPush, result: emptyResult, control: pushControlSchema},
	channelStep{typ: StepTypeChat, channel: ChannelChat, result: emptyResult, control: chatControlSchema},
	channelStep{typ: StepTypeInApp, channel: ChannelInApp, result: inAppResult, control: inAppControlSchema},
	delayStep{},
	digestStep{},
	customStep{},
	httpRequestStep{},
}

var kindsByType = func() map[StepType]StepKind {
	m := make(map[StepType]StepKind, len(stepKinds))
	for _, k := range stepKinds {
		m[k.Type()] = k
	}
	return m
}()

// KindOf returns the behavior set for a step type.
func KindOf(t StepType) (StepKind, error) {
	if t == "" {
		return nil, NewError(ErrCodeValidation, "step type is required")
	}
	k, ok := kindsByType[t]
	if !ok {
		return nil, NewErrorf(ErrCodeUnsupported, "unsupported step type %q", t)
	}
	return k, nil
}

// AllStepTypes lists every supported step type in declaration order.
func AllStepTypes() []StepType {
	out := make([]StepType, len(stepKinds))
	for i, k := range stepKinds {
		out[i] = k.Type()
	}
	return out
}
