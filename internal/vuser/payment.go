package vuser

import (
	"time"

	"tracewright/internal/fakedata"
)

// PaymentConfig drives the simulated payment processor.
type PaymentConfig struct {
	DeclineProbability float64       `yaml:"declineProbability"`
	RetrySuccessMin    float64       `yaml:"retrySuccessMin"`
	RetrySuccessMax    float64       `yaml:"retrySuccessMax"`
	ProcessingMin      time.Duration `yaml:"processingMin"`
	ProcessingMax      time.Duration `yaml:"processingMax"`
}

func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		DeclineProbability: 0.12,
		RetrySuccessMin:    0.30,
		RetrySuccessMax:    0.40,
		ProcessingMin:      400 * time.Millisecond,
		ProcessingMax:      1500 * time.Millisecond,
	}
}

var declineReasons = []fakedata.Weighted[string]{
	{Value: "insufficient_funds", Weight: 40},
	{Value: "card_declined", Weight: 30},
	{Value: "do_not_honor", Weight: 15},
	{Value: "expired_card", Weight: 8},
	{Value: "processing_error", Weight: 7},
}
