package conversation

import (
	"strconv"
	"strings"

	"github.com/fingro/fingro-bot/internal/domain"
)

// Attribute names as stored in a session's collected fields.
const (
	fieldCrop       = "crop"
	fieldArea       = "area_hectares"
	fieldIrrigation = "irrigation"
	fieldChannel    = "channel"
	fieldLocation   = "location"
	fieldAmount     = "requested_amount"
)

// Attribute is one datum the flow must collect: its field name, the prompt
// that asks for it, the re-prompt on invalid input, and a parser that
// validates and canonicalizes the user's answer.
type Attribute struct {
	Name        string
	Prompt      string
	Invalid     string
	Parse       func(input string) (any, bool)
}

// Flow is the fixed, ordered list of attributes for a conversation flow
// version. The collection order is deterministic.
type Flow struct {
	attributes []Attribute
}

// DefaultFlow returns flow v1: crop, area, irrigation system,
// commercialization channel, location, requested amount.
func DefaultFlow() *Flow {
	return &Flow{attributes: []Attribute{
		{Name: fieldCrop, Prompt: msgAskCrop, Invalid: msgInvalidInput, Parse: parseCrop},
		{Name: fieldArea, Prompt: msgAskArea, Invalid: msgInvalidArea, Parse: parseArea},
		{Name: fieldIrrigation, Prompt: msgAskIrrigation, Invalid: msgInvalidOption, Parse: parseIrrigation},
		{Name: fieldChannel, Prompt: msgAskChannel, Invalid: msgInvalidOption, Parse: parseChannel},
		{Name: fieldLocation, Prompt: msgAskLocation, Invalid: msgInvalidInput, Parse: parseLocation},
		{Name: fieldAmount, Prompt: msgAskAmount, Invalid: msgInvalidAmount, Parse: parseAmount},
	}}
}

// NextMissing returns the first attribute the session has not collected
// yet, or nil when all are present.
func (f *Flow) NextMissing(s *domain.Session) *Attribute {
	for i := range f.attributes {
		if !s.HasField(f.attributes[i].Name) {
			return &f.attributes[i]
		}
	}
	return nil
}

// cropVariations maps common spellings to canonical crop names.
var cropVariations = map[string][]string{
	"maiz":      {"maiz", "mais", "elote"},
	"frijol":    {"frijol", "frijoles", "frijoles negros", "frijol negro"},
	"papa":      {"papa", "papas", "patata", "patatas"},
	"tomate":    {"tomate", "tomates", "jitomate"},
	"chile":     {"chile", "chiles", "pimiento", "pimientos"},
	"cebolla":   {"cebolla", "cebollas"},
	"zanahoria": {"zanahoria", "zanahorias"},
	"aguacate":  {"aguacate", "aguacates", "palta"},
	"platano":   {"platano", "platanos", "banano"},
	"cafe":      {"cafe"},
	"arroz":     {"arroz"},
	"brocoli":   {"brocoli", "brocolis"},
	"lechuga":   {"lechuga", "lechugas"},
	"repollo":   {"repollo", "repollos", "col"},
	"arveja":    {"arveja", "arvejas", "guisante", "guisantes"},
}

// locationVariations maps common names to canonical department keys.
var locationVariations = map[string][]string{
	"guatemala":      {"guatemala", "ciudad de guatemala", "guatemala city"},
	"quetzaltenango": {"quetzaltenango", "xela", "xelaju"},
	"alta_verapaz":   {"alta verapaz", "coban"},
	"baja_verapaz":   {"baja verapaz", "salama"},
	"huehuetenango":  {"huehuetenango", "huehue"},
	"quiche":         {"quiche", "el quiche", "santa cruz del quiche"},
	"san_marcos":     {"san marcos"},
	"retalhuleu":     {"retalhuleu", "reu"},
	"sacatepequez":   {"sacatepequez", "la antigua", "antigua guatemala"},
	"chimaltenango":  {"chimaltenango", "chimal"},
	"escuintla":      {"escuintla"},
	"santa_rosa":     {"santa rosa", "cuilapa"},
	"solola":         {"solola"},
	"totonicapan":    {"totonicapan", "toto"},
	"suchitepequez":  {"suchitepequez", "suchi", "mazatenango"},
	"jalapa":         {"jalapa"},
	"jutiapa":        {"jutiapa"},
	"izabal":         {"izabal", "puerto barrios"},
	"zacapa":         {"zacapa"},
	"chiquimula":     {"chiquimula"},
	"el_progreso":    {"el progreso", "guastatoya"},
	"peten":          {"peten", "flores"},
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ñ", "n",
)

// normalize lowercases, trims and strips Spanish accents for comparisons.
func normalize(input string) string {
	return accentReplacer.Replace(strings.ToLower(strings.TrimSpace(input)))
}

func parseCrop(input string) (any, bool) {
	crop := normalize(input)
	if crop == "" || len(crop) > 64 {
		return nil, false
	}
	if _, err := strconv.ParseFloat(crop, 64); err == nil {
		return nil, false
	}
	for canonical, variants := range cropVariations {
		for _, v := range variants {
			if crop == v {
				return canonical, true
			}
		}
	}
	return crop, true
}

func parseArea(input string) (any, bool) {
	raw := normalize(input)
	for _, suffix := range []string{"hectareas", "hectarea", "has", "ha"} {
		raw = strings.TrimSuffix(raw, suffix)
	}
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")

	area, err := strconv.ParseFloat(raw, 64)
	if err != nil || area <= 0 || area > 10000 {
		return nil, false
	}
	return area, true
}

func parseIrrigation(input string) (any, bool) {
	switch normalize(input) {
	case "1", "goteo":
		return "goteo", true
	case "2", "aspersion":
		return "aspersion", true
	case "3", "gravedad":
		return "gravedad", true
	case "4", "temporal", "lluvia", "temporal (lluvia)":
		return "temporal", true
	}
	return nil, false
}

func parseChannel(input string) (any, bool) {
	switch normalize(input) {
	case "1", "exportacion":
		return "exportacion", true
	case "2", "mercado local", "mercado":
		return "mercado_local", true
	case "3", "venta directa", "directo", "directa":
		return "directo", true
	case "4", "intermediario", "coyote":
		return "intermediario", true
	}
	return nil, false
}

func parseLocation(input string) (any, bool) {
	loc := normalize(input)
	if loc == "" || len(loc) > 64 {
		return nil, false
	}
	for canonical, variants := range locationVariations {
		for _, v := range variants {
			if loc == v {
				return canonical, true
			}
		}
	}
	// Unknown places are kept as typed; the scoring engine falls back to
	// its default location score.
	return strings.ReplaceAll(loc, " ", "_"), true
}

func parseAmount(input string) (any, bool) {
	raw := normalize(input)
	raw = strings.TrimPrefix(raw, "q")
	raw = strings.ReplaceAll(raw, ",", "")
	raw = strings.TrimSpace(raw)

	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || amount <= 0 {
		return nil, false
	}
	return amount, true
}
