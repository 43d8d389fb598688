// Package protocol defines the JSON wire envelope exchanged between a voice
// client and the session server, and the typed message sets for each
// direction. Every message is a single JSON object with a "type" tag, a
// "data" payload, and optional auxiliary fields.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Message type tags, client to server.
const (
	TypeConnect        = "connect"
	TypeStartRecording = "start_recording"
	TypeStopRecording  = "stop_recording"
	TypeAudioChunk     = "audio_chunk"
	TypeTextMessage    = "text_message"
)

// Message type tags, server to client. TypeAudioChunk is shared: upstream it
// carries a capture fragment, downstream a synthesis fragment.
const (
	TypeState         = "state"
	TypeTranscription = "transcription"
	TypeError         = "error"
)

// Wire state names carried by TypeState envelopes.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateIdle         = "idle"
	StateListening    = "listening"
	StateProcessing   = "processing"
	StateSpeaking     = "speaking"
)

// Envelope is the raw wire form of every message.
type Envelope struct {
	Type           string   `json:"type"`
	Data           string   `json:"data,omitempty"`
	ClientID       string   `json:"client_id,omitempty"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`
	Turn           *int     `json:"turn,omitempty"`
	MaxTurns       *int     `json:"max_turns,omitempty"`
}

// ClientMessage is the closed set of messages a client may send.
type ClientMessage interface{ clientMessage() }

// Connect optionally renames the connection with a caller-chosen identifier.
type Connect struct {
	ClientID string
}

// StartRecording asks the server to begin a capture phase.
type StartRecording struct{}

// StopRecording ends the capture phase. Blob is the complete utterance;
// it is the authoritative audio for transcription.
type StopRecording struct {
	Blob []byte
}

// CaptureChunk is an in-progress capture fragment. Fragments are an
// optimization only and are never reassembled into the utterance.
type CaptureChunk struct {
	Data []byte
}

// TextMessage carries already-transcribed text, bypassing capture.
type TextMessage struct {
	Text string
}

// UnknownClient preserves an unrecognized tag so callers can log and ignore
// it without tearing down the session.
type UnknownClient struct {
	Type string
}

func (Connect) clientMessage()        {}
func (StartRecording) clientMessage() {}
func (StopRecording) clientMessage()  {}
func (CaptureChunk) clientMessage()   {}
func (TextMessage) clientMessage()    {}
func (UnknownClient) clientMessage()  {}

// ServerMessage is the closed set of messages the server may send.
type ServerMessage interface{ serverMessage() }

// StateNotice reports the session state. ProcessingTime is set only on the
// speaking notice; Turn/MaxTurns let a client mirror the turn counter.
type StateNotice struct {
	State          string
	ProcessingTime *float64
	Turn           *int
	MaxTurns       *int
}

// Transcription carries recognized utterance text (or, on the text path,
// the agent's reply text).
type Transcription struct {
	Text string
}

// SynthesisChunk is one bounded fragment of synthesized PCM audio.
type SynthesisChunk struct {
	Data []byte
}

// ErrorNotice carries a human-readable error message.
type ErrorNotice struct {
	Message string
}

// UnknownServer preserves an unrecognized tag for the client's ignore arm.
type UnknownServer struct {
	Type string
}

func (StateNotice) serverMessage()    {}
func (Transcription) serverMessage()  {}
func (SynthesisChunk) serverMessage() {}
func (ErrorNotice) serverMessage()    {}
func (UnknownServer) serverMessage()  {}

// DecodeClient parses one client envelope. Malformed JSON or undecodable
// base64 payloads return an error; an unrecognized type returns
// UnknownClient with a nil error.
func DecodeClient(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeConnect:
		return Connect{ClientID: env.ClientID}, nil
	case TypeStartRecording:
		return StartRecording{}, nil
	case TypeStopRecording:
		blob, err := decodeAudio(env.Data)
		if err != nil {
			return nil, fmt.Errorf("stop_recording payload: %w", err)
		}
		return StopRecording{Blob: blob}, nil
	case TypeAudioChunk:
		data, err := decodeAudio(env.Data)
		if err != nil {
			return nil, fmt.Errorf("audio_chunk payload: %w", err)
		}
		return CaptureChunk{Data: data}, nil
	case TypeTextMessage:
		return TextMessage{Text: env.Data}, nil
	default:
		return UnknownClient{Type: env.Type}, nil
	}
}

// DecodeServer parses one server envelope for the client side.
func DecodeServer(raw []byte) (ServerMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeState:
		return StateNotice{
			State:          env.Data,
			ProcessingTime: env.ProcessingTime,
			Turn:           env.Turn,
			MaxTurns:       env.MaxTurns,
		}, nil
	case TypeTranscription:
		return Transcription{Text: env.Data}, nil
	case TypeAudioChunk:
		data, err := decodeAudio(env.Data)
		if err != nil {
			return nil, fmt.Errorf("audio_chunk payload: %w", err)
		}
		return SynthesisChunk{Data: data}, nil
	case TypeError:
		return ErrorNotice{Message: env.Data}, nil
	default:
		return UnknownServer{Type: env.Type}, nil
	}
}

// EncodeClient marshals a client message to its wire envelope.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	var env Envelope
	switch m := msg.(type) {
	case Connect:
		env = Envelope{Type: TypeConnect, ClientID: m.ClientID}
	case StartRecording:
		env = Envelope{Type: TypeStartRecording}
	case StopRecording:
		env = Envelope{Type: TypeStopRecording, Data: encodeAudio(m.Blob)}
	case CaptureChunk:
		env = Envelope{Type: TypeAudioChunk, Data: encodeAudio(m.Data)}
	case TextMessage:
		env = Envelope{Type: TypeTextMessage, Data: m.Text}
	default:
		return nil, fmt.Errorf("unencodable client message %T", msg)
	}
	return json.Marshal(env)
}

// EncodeServer marshals a server message to its wire envelope.
func EncodeServer(msg ServerMessage) ([]byte, error) {
	var env Envelope
	switch m := msg.(type) {
	case StateNotice:
		env = Envelope{
			Type:           TypeState,
			Data:           m.State,
			ProcessingTime: m.ProcessingTime,
			Turn:           m.Turn,
			MaxTurns:       m.MaxTurns,
		}
	case Transcription:
		env = Envelope{Type: TypeTranscription, Data: m.Text}
	case SynthesisChunk:
		env = Envelope{Type: TypeAudioChunk, Data: encodeAudio(m.Data)}
	case ErrorNotice:
		env = Envelope{Type: TypeError, Data: m.Message}
	default:
		return nil, fmt.Errorf("unencodable server message %T", msg)
	}
	return json.Marshal(env)
}

func decodeAudio(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(data)
}

func encodeAudio(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}
