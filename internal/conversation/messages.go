package conversation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fingro/fingro-bot/internal/domain"
)

// Outgoing message texts. Conversational content is limited to prompts,
// validation re-prompts and business outcomes; infrastructure failures
// degrade to msgRetry without leaking internals.
const (
	msgWelcome = "¡Hola! 👋 Soy el asistente de FinGro, una empresa guatemalteca dedicada a apoyar " +
		"agricultores con financiamiento rápido y justo.\n\n" +
		"Le ayudamos a obtener el préstamo que necesita para su siembra, sin exceso de papeleo " +
		"y desde la comodidad de su teléfono 🌱\n\n" +
		"¿Qué cultivo está sembrando o planea sembrar? Por ejemplo: maíz, frijol, café."

	msgAskCrop = "🌿 ¿Qué cultivo planea sembrar?"

	msgAskArea = "¡Excelente! ¿Cuántas hectáreas cultivará? 🌾\nPor ejemplo: 2.5"

	msgInvalidArea = "❌ Por favor ingrese solo el número de hectáreas.\nPor ejemplo: 5"

	msgAskIrrigation = "¿Qué sistema de riego utiliza en su terreno? 💧\n\n" +
		"1. Goteo\n2. Aspersión\n3. Gravedad\n4. Temporal (lluvia)"

	msgAskChannel = "¿Cómo planea comercializar su cosecha? 🚛\n\n" +
		"1. Exportación\n2. Mercado local\n3. Venta directa\n4. Intermediario"

	msgAskLocation = "¿En qué departamento está ubicado su terreno? 📍"

	msgAskAmount = "💰 ¿Qué monto de préstamo necesita, en quetzales?\nPor ejemplo: 8000"

	msgInvalidAmount = "❌ Por favor ingrese solo el monto en quetzales.\nPor ejemplo: 8000"

	msgInvalidOption = "❌ No entendí su respuesta. Por favor elija una de las opciones mostradas."

	msgInvalidInput = "Por favor, ingrese una respuesta válida 🤔"

	msgAskYesNo = "❌ Por favor responda 'si' o 'no'"

	msgRetry = "¡Disculpe! Tuvimos un pequeño problema técnico 😅\n\n" +
		"Por favor escriba cualquier mensaje para intentarlo de nuevo."

	msgAccepted = "¡Excelente decisión! 🎉\n\n" +
		"Un asesor se pondrá en contacto con usted pronto para explicarle los detalles.\n\n" +
		"Gracias por confiar en FinGro 🌱"

	msgDeclinedByUser = "Entendido, gracias por su interés en FinGro 🌱\n\n" +
		"Si cambia de opinión, puede escribirnos cuando quiera."

	msgDeclineAmount = "Lo sentimos 🌱 El monto solicitado supera lo que podemos ofrecerle " +
		"con su perfil actual.\n\nPuede escribir 'reiniciar' para intentar con otro monto."

	msgDeclineScore = "Lo sentimos, su solicitud no puede ser aprobada en este momento 🌱\n\n" +
		"Le recomendamos mejorar su sistema de riego o diversificar sus canales de " +
		"comercialización, y volver a intentarlo más adelante."

	msgFinished = "Su solicitud ya fue completada ✅\n\nEscriba 'reiniciar' para comenzar una nueva."
)

func confirmationMessage(s *domain.Session) string {
	return fmt.Sprintf(
		"📋 Confirmemos sus datos:\n\n"+
			"Cultivo: %s\n"+
			"Área: %s hectáreas\n"+
			"Riego: %s\n"+
			"Comercialización: %s\n"+
			"Departamento: %s\n"+
			"Monto solicitado: %s\n\n"+
			"¿Es correcta esta información? Responda 'si' o 'no'",
		s.FieldString(fieldCrop),
		trimFloat(s.FieldFloat(fieldArea)),
		s.FieldString(fieldIrrigation),
		strings.ReplaceAll(s.FieldString(fieldChannel), "_", " "),
		strings.ReplaceAll(s.FieldString(fieldLocation), "_", " "),
		FormatCurrency(s.FieldFloat(fieldAmount)),
	)
}

func offerMessage(score *domain.ScoreResult, offer *domain.OfferResult) string {
	return fmt.Sprintf(
		"✅ ¡Análisis listo!\n\n"+
			"📊 FinGro Score: %s/100\n\n"+
			"¡Buenas noticias! 🎉 Califica para:\n\n"+
			"💰 Monto: %s\n"+
			"📊 Tasa: %s%% anual\n"+
			"⏱️ Plazo: %d meses\n"+
			"📅 Cuotas: %s/mes\n\n"+
			"¿Desea iniciar su solicitud? Responda 'si' o 'no' 📝",
		trimFloat(score.Score),
		FormatCurrency(offer.Amount),
		trimFloat(offer.AnnualRate*100),
		offer.TermMonths,
		FormatCurrency(offer.MonthlyPayment),
	)
}

// FormatCurrency formats an amount in quetzales as Q1,234.56.
func FormatCurrency(amount float64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	s := strconv.FormatFloat(amount, 'f', 2, 64)

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	prefix := "Q"
	if neg {
		prefix = "-Q"
	}
	return prefix + b.String() + "." + frac
}

// trimFloat renders a float without trailing zeros (2.50 -> "2.5").
func trimFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
