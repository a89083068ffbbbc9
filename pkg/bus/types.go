package bus

type InboundMessage struct {
	Channel  string `json:"channel"`
	SenderID int64  `json:"sender_id"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
	Scope    string `json:"scope"`
}

type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}
