package lifecycle

import (
	"fmt"
	"time"
)

// User-facing notification texts. Deliberately generic: no internal error
// detail ever reaches the end user.

func msgPaymentConfirmed(expiry time.Time) string {
	return fmt.Sprintf("Payment received! Your subscription is active until %s.",
		expiry.Format("2006-01-02"))
}

func msgRenewalConfirmed(expiry time.Time) string {
	return fmt.Sprintf("Payment received! Your subscription has been extended until %s.",
		expiry.Format("2006-01-02"))
}

const (
	msgPaymentFailed = "Your payment was not completed. To get access to the channel, please pay the subscription again."
	msgRenewalFailed = "Your renewal payment failed and access has been suspended. Please pay again to restore it."
	msgExpired       = "Your subscription has expired. Please renew to restore access to the channel."
)
