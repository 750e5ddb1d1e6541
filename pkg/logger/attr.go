package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the subscriber identifier under the key "user_id".
func UserID(id int64) slog.Attr {
	return slog.Int64("user_id", id)
}

// PaymentRef records the gateway payment reference under the key "payment_ref".
// If ref is empty, it returns an empty Attr.
func PaymentRef(ref string) slog.Attr {
	if ref == "" {
		return slog.Attr{}
	}
	return slog.String("payment_ref", ref)
}
