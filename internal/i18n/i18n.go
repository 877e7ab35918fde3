// Package i18n turns errors into user-facing messages in English or Portuguese.
package i18n

import (
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/okian/courtside/internal/domain/model"
)

// Message keys.
const (
	KeyPermission        = "permission_denied"
	KeyEntityNotFound    = "entity_not_found"
	KeyConnection        = "connection_failed"
	KeyParse             = "parse_failed"
	KeyRateLimit         = "rate_limited"
	KeyInvalidTransition = "invalid_transition"
	KeyInvalidEvent      = "invalid_event"
	KeyGeneric           = "generic_failure"
	KeyJudgeInstruction  = "judge_instruction"
	KeyCoachInstruction  = "coach_instruction"
	KeyAnalysisPrompt    = "analysis_prompt"
	KeyAnalystRole       = "analyst_role"
)

var supported = []language.Tag{language.English, language.Portuguese} //nolint:gochecknoglobals // fixed language list

var matcher = language.NewMatcher(supported) //nolint:gochecknoglobals // built once

var cat = build() //nolint:gochecknoglobals // message catalog

func build() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	set := func(tag language.Tag, entries map[string]string) {
		for k, v := range entries {
			_ = b.SetString(tag, k, v)
		}
	}
	set(language.English, map[string]string{
		KeyPermission:        "Camera access error: check permissions.",
		KeyEntityNotFound:    "The API key or model was not found. Select another key and try again.",
		KeyConnection:        "Could not connect to the live judge. Please try again.",
		KeyParse:             "The analysis returned an unreadable response. Please try again.",
		KeyRateLimit:         "The analysis service is busy. Wait a moment and try again.",
		KeyInvalidTransition: "That action is not available right now.",
		KeyInvalidEvent:      "The event is incomplete and was not recorded.",
		KeyGeneric:           "Something went wrong. Please try again.",
		KeyJudgeInstruction:  "LinkVision Live Judge. Analyze the player's performance and call logPerformanceEvent for every notable success or error. Current view: %s. Framing precision: %s.",
		KeyCoachInstruction:  "You are LinkVision Live Coach. Talk to the athlete in real-time. Keep it brief, technical, and motivating.",
		KeyAnalysisPrompt:    "Analyze this tennis video (%s) in detail, in English. Identify every important shot and classify it as a success or an error.",
		KeyAnalystRole:       "You are an Elite Tennis Judge and Biomechanics Analyst. Output JSON only.",
	})
	set(language.Portuguese, map[string]string{
		KeyPermission:        "Erro ao acessar câmera: verifique as permissões.",
		KeyEntityNotFound:    "Chave de API ou modelo não encontrado. Selecione outra chave e tente novamente.",
		KeyConnection:        "Não foi possível conectar ao juiz ao vivo. Tente novamente.",
		KeyParse:             "A análise retornou uma resposta ilegível. Tente novamente.",
		KeyRateLimit:         "O serviço de análise está ocupado. Aguarde um momento e tente novamente.",
		KeyInvalidTransition: "Esta ação não está disponível agora.",
		KeyInvalidEvent:      "O evento está incompleto e não foi registrado.",
		KeyGeneric:           "Algo deu errado. Tente novamente.",
		KeyJudgeInstruction:  "Juiz LinkVision Live. Analise a performance do jogador e chame logPerformanceEvent para cada sucesso ou erro relevante. Visão atual: %s. Precisão de enquadramento: %s.",
		KeyCoachInstruction:  "Você é o LinkVision Live Coach. Fale com o atleta em tempo real. Seja breve, técnico e motivador.",
		KeyAnalysisPrompt:    "Analise detalhadamente este vídeo de tênis (%s) em português. Identifique cada golpe importante, classificando-o como sucesso ou erro.",
		KeyAnalystRole:       "Você é um Juiz de Elite e Analista Biomecânico de Tênis. Output apenas JSON.",
	})
	return b
}

// Match picks the supported language for an Accept-Language header or a
// plain language code. Unknown input falls back to English.
func Match(accept string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

// Code returns the two-letter code of a supported tag.
func Code(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}

// Sprintf formats the message for key in tag.
func Sprintf(tag language.Tag, key string, args ...any) string {
	return message.NewPrinter(tag, message.Catalog(cat)).Sprintf(key, args...)
}

// KeyFor classifies err into a message key.
func KeyFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrPermission):
		return KeyPermission
	case errors.Is(err, model.ErrEntityNotFound):
		return KeyEntityNotFound
	case errors.Is(err, model.ErrRateLimit):
		return KeyRateLimit
	case errors.Is(err, model.ErrParse):
		return KeyParse
	case errors.Is(err, model.ErrInvalidTransition):
		return KeyInvalidTransition
	case errors.Is(err, model.ErrInvalidEvent):
		return KeyInvalidEvent
	case errors.Is(err, model.ErrConnection), errors.Is(err, model.ErrUnrecognizedMessage):
		return KeyConnection
	default:
		return KeyGeneric
	}
}

// Localize renders err as a user-facing message. Nil yields "".
func Localize(err error, tag language.Tag) string {
	key := KeyFor(err)
	if key == "" {
		return ""
	}
	return Sprintf(tag, key)
}
