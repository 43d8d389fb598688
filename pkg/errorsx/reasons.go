package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Turn stage failures, one per collaborator.
	ReasonTranscriptionFailed ReasonCode = "transcription_failed"
	ReasonReasoningFailed     ReasonCode = "reasoning_failed"
	ReasonSynthesisFailed     ReasonCode = "synthesis_failed"

	// Session and transport.
	ReasonDevicePermission  ReasonCode = "device_permission"
	ReasonTransportClosed   ReasonCode = "transport_closed"
	ReasonTransportSend     ReasonCode = "transport_send"
	ReasonProtocolViolation ReasonCode = "protocol_violation"
	ReasonTurnLimit         ReasonCode = "turn_limit"
	ReasonInvalidState      ReasonCode = "invalid_state"

	// Provider-level request failures.
	ReasonSTTRequest ReasonCode = "stt_request"
	ReasonLLMRequest ReasonCode = "llm_request"
	ReasonTTSRequest ReasonCode = "tts_request"
)
