package models

// MatchedPayload tells a peer who it was paired with. Initiator is true for
// the earlier-queued peer, which starts the offer/answer exchange.
type MatchedPayload struct {
	PartnerID string `json:"partnerId"`
	Room      string `json:"room"`
	Initiator bool   `json:"initiator"`
}
