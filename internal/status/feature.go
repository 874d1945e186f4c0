package status

import "github.com/zsprackett/coursedesk/internal/channel"

// Feature binds a user-facing feature to the channel and event that report
// its progress.
type Feature struct {
	Name           string
	Channel        channel.ID
	Event          string
	SuccessMessage string
	FailureMessage string
}

var (
	Refund = Feature{
		Name:           "refund",
		Channel:        "refund",
		Event:          "ReceiveRefundStatus",
		SuccessMessage: "Reembolso Confirmado!",
		FailureMessage: "Falha no reembolso",
	}
	Payment = Feature{
		Name:           "payment",
		Channel:        "payment",
		Event:          "ReceivePaymentStatus",
		SuccessMessage: "Pagamento Confirmado!",
		FailureMessage: "Falha no pagamento",
	}
	Video = Feature{
		Name:           "video",
		Channel:        "video",
		Event:          "ReceiveVideoStatus",
		SuccessMessage: "Vídeo processado com sucesso!",
		FailureMessage: "Falha no processamento do vídeo",
	}
)

// Features returns the built-in features in display order.
func Features() []Feature {
	return []Feature{Refund, Payment, Video}
}

// Lookup finds a built-in feature by name.
func Lookup(name string) (Feature, bool) {
	for _, f := range Features() {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}
