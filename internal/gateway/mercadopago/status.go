package mercadopago

import "tienda/internal/model"

// MapStatus maps a gateway payment status string onto the internal
// vocabulary. Unknown statuses map to failed rather than passing through.
func MapStatus(gatewayStatus string) model.PaymentStatus {
	switch gatewayStatus {
	case "approved":
		return model.PaymentStatusPaid
	case "pending", "in_process", "in_mediation", "authorized":
		return model.PaymentStatusPending
	case "rejected":
		return model.PaymentStatusFailed
	case "cancelled", "expired":
		return model.PaymentStatusCancelled
	case "refunded", "charged_back":
		return model.PaymentStatusRefunded
	default:
		return model.PaymentStatusFailed
	}
}
