package live

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/session"
)

// Outbound frames.

type setupFrame struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	Tools                    []tool           `json:"tools,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type tool struct {
	FunctionDeclarations []model.FunctionDeclaration `json:"functionDeclarations"`
}

type realtimeFrame struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type toolResponseFrame struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Inbound frames.

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn"`
	OutputTranscription *transcription `json:"outputTranscription"`
	Interrupted         bool           `json:"interrupted"`
	TurnComplete        bool           `json:"turnComplete"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCall struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ignoredKeys are server frames we understand but have no use for.
var ignoredKeys = map[string]bool{ //nolint:gochecknoglobals // fixed lookup
	"setupComplete":           true,
	"toolCallCancellation":    true,
	"goAway":                  true,
	"usageMetadata":           true,
	"sessionResumptionUpdate": true,
}

func encodeSetup(modelName string, cfg session.Config) ([]byte, error) {
	s := setup{
		Model:                    modelName,
		GenerationConfig:         generationConfig{ResponseModalities: []string{"AUDIO"}},
		OutputAudioTranscription: &struct{}{},
	}
	if cfg.Voice != "" {
		s.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		s.Tools = []tool{{FunctionDeclarations: cfg.Tools}}
	}
	return json.Marshal(setupFrame{Setup: s})
}

func encodeMedia(m session.Media) ([]byte, error) {
	return json.Marshal(realtimeFrame{RealtimeInput: realtimeInput{
		MediaChunks: []inlineData{{MimeType: m.MimeType, Data: base64.StdEncoding.EncodeToString(m.Data)}},
	}})
}

func encodeToolResponse(r session.ToolResponse) ([]byte, error) {
	return json.Marshal(toolResponseFrame{ToolResponse: toolResponse{
		FunctionResponses: []functionResponse{{ID: r.ID, Name: r.Name, Response: r.Response}},
	}})
}

// decode turns one server frame into zero or more session messages. Frames
// with no recognized key, or recognized keys of the wrong shape, are
// rejected with model.ErrUnrecognizedMessage.
func decode(raw []byte) ([]session.Message, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrUnrecognizedMessage, err)
	}

	var out []session.Message
	recognized := false
	for key := range top {
		if ignoredKeys[key] {
			recognized = true
		}
	}

	if body, ok := top["serverContent"]; ok {
		recognized = true
		msgs, err := decodeServerContent(body)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	if body, ok := top["toolCall"]; ok {
		recognized = true
		msgs, err := decodeToolCall(body)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}

	if !recognized {
		return nil, fmt.Errorf("%w: keys %v", model.ErrUnrecognizedMessage, keys(top))
	}
	return out, nil
}

func decodeServerContent(body json.RawMessage) ([]session.Message, error) {
	var sc serverContent
	if err := json.Unmarshal(body, &sc); err != nil {
		return nil, fmt.Errorf("%w: serverContent: %w", model.ErrUnrecognizedMessage, err)
	}
	var out []session.Message
	if sc.Interrupted {
		out = append(out, session.Interrupted{})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			switch {
			case p.InlineData != nil:
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("%w: inlineData: %w", model.ErrUnrecognizedMessage, err)
				}
				out = append(out, session.AudioOut{MimeType: p.InlineData.MimeType, Data: data})
			case p.Text != "":
				out = append(out, session.Transcript{Text: p.Text})
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, session.Transcript{Text: sc.OutputTranscription.Text})
	}
	return out, nil
}

func decodeToolCall(body json.RawMessage) ([]session.Message, error) {
	var tc toolCall
	if err := json.Unmarshal(body, &tc); err != nil {
		return nil, fmt.Errorf("%w: toolCall: %w", model.ErrUnrecognizedMessage, err)
	}
	if len(tc.FunctionCalls) == 0 {
		return nil, fmt.Errorf("%w: toolCall without function calls", model.ErrUnrecognizedMessage)
	}
	out := make([]session.Message, 0, len(tc.FunctionCalls))
	for _, fc := range tc.FunctionCalls {
		var args model.LogEventArgs
		if len(fc.Args) > 0 {
			if err := json.Unmarshal(fc.Args, &args); err != nil {
				return nil, fmt.Errorf("%w: args of %s: %w", model.ErrUnrecognizedMessage, fc.Name, err)
			}
		}
		out = append(out, session.LogEvent{CallID: fc.ID, Name: fc.Name, Args: args})
	}
	return out, nil
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
