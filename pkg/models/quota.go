package models

// QuotaPeriod defines the time window for a quota policy.
type QuotaPeriod string

const (
	QuotaDaily   QuotaPeriod = "daily"
	QuotaMonthly QuotaPeriod = "monthly"
)

// QuotaPolicy caps the number of messages sent to a chat per period.
// ChatID "*" applies the policy to the total across all chats.
type QuotaPolicy struct {
	ChatID      string      `json:"chat_id" yaml:"chat_id" validate:"required"`
	MaxMessages int64       `json:"max_messages" yaml:"max_messages" validate:"gt=0"`
	Period      QuotaPeriod `json:"period" yaml:"period" validate:"omitempty,oneof=daily monthly"`
}

// QuotaStatus shows current usage against a policy.
type QuotaStatus struct {
	Policy    QuotaPolicy `json:"policy"`
	Used      int64       `json:"used"`
	Remaining int64       `json:"remaining"`
}
