package domain

// Fallbacks holds every user-visible sentence the bot sends instead of a
// generated reply.
type Fallbacks struct {
	Malformed       string `yaml:"malformed" json:"malformed"`
	ContentPolicy   string `yaml:"contentPolicy" json:"contentPolicy"`
	Configuration   string `yaml:"configuration" json:"configuration"`
	Generic         string `yaml:"generic" json:"generic"`
	InvalidResponse string `yaml:"invalidResponse" json:"invalidResponse"`
	Unexpected      string `yaml:"unexpected" json:"unexpected"`
	Apology         string `yaml:"apology" json:"apology"`
}

// EnglishFallbacks is the default catalog.
func EnglishFallbacks() Fallbacks {
	return Fallbacks{
		Malformed:       "Sorry, your message is incomplete or malformed.",
		ContentPolicy:   "Sorry, I cannot process this kind of content.",
		Configuration:   "Sorry, there is a configuration problem with the model. Please contact the administrator.",
		Generic:         "There was a problem generating the response. Please try rephrasing your message.",
		InvalidResponse: "Sorry, I could not generate a valid response.",
		Unexpected:      "Sorry, an error occurred while processing your message. Please try again.",
		Apology:         "Sorry, an error occurred while processing your message.",
	}
}

// SpanishFallbacks is the catalog for Spanish-speaking workspaces.
func SpanishFallbacks() Fallbacks {
	return Fallbacks{
		Malformed:       "El mensaje está incompleto o tiene un formato inválido.",
		ContentPolicy:   "Lo siento, no puedo procesar ese tipo de contenido.",
		Configuration:   "Lo siento, hay un problema con la configuración del modelo. Por favor, contacta al administrador.",
		Generic:         "Hubo un problema al generar la respuesta. Por favor, intenta reformular tu mensaje.",
		InvalidResponse: "Lo siento, no pude generar una respuesta válida.",
		Unexpected:      "Lo siento, ocurrió un error al procesar tu mensaje. Por favor, intenta de nuevo.",
		Apology:         "Lo siento, ocurrió un error al procesar tu mensaje.",
	}
}

// FallbacksFor returns the built-in catalog for lang, defaulting to English.
func FallbacksFor(lang string) Fallbacks {
	switch lang {
	case "es":
		return SpanishFallbacks()
	default:
		return EnglishFallbacks()
	}
}

// Merge returns f with every non-empty field of override applied.
func (f Fallbacks) Merge(override Fallbacks) Fallbacks {
	pick := func(base, o string) string {
		if o != "" {
			return o
		}
		return base
	}
	return Fallbacks{
		Malformed:       pick(f.Malformed, override.Malformed),
		ContentPolicy:   pick(f.ContentPolicy, override.ContentPolicy),
		Configuration:   pick(f.Configuration, override.Configuration),
		Generic:         pick(f.Generic, override.Generic),
		InvalidResponse: pick(f.InvalidResponse, override.InvalidResponse),
		Unexpected:      pick(f.Unexpected, override.Unexpected),
		Apology:         pick(f.Apology, override.Apology),
	}
}

// ForCategory maps an inference failure category to its reply text.
// Every category, including unknown values, yields a sentence.
func (f Fallbacks) ForCategory(c Category) string {
	switch c {
	case CategoryContentPolicy:
		return f.ContentPolicy
	case CategoryConfiguration, CategoryMissingCredential:
		return f.Configuration
	case CategoryEmptyInput:
		return f.Malformed
	case CategoryEmptyOutput:
		return f.InvalidResponse
	default:
		return f.Generic
	}
}
