package model

type DeliveryOutcome struct {
	Delivered bool   `json:"delivered"`
	Channel   string `json:"channel"`
	Detail    string `json:"detail"`
}
