package xumm

// payloadRequest is the body of POST /payload.
type payloadRequest struct {
	TxJSON     txJSON         `json:"txjson"`
	Options    payloadOptions `json:"options"`
	CustomMeta *customMeta    `json:"custom_meta,omitempty"`
}

type txJSON struct {
	TransactionType string `json:"TransactionType"`
	Destination     string `json:"Destination"`
	Amount          any    `json:"Amount"`
	DestinationTag  uint32 `json:"DestinationTag,omitempty"`
	Account         string `json:"Account,omitempty"`
	Memos           []memo `json:"Memos,omitempty"`
}

// issuedAmount is an issued-currency amount. Native amounts are sent as a
// plain string of drops instead.
type issuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

type memo struct {
	Memo memoFields `json:"Memo"`
}

type memoFields struct {
	MemoData string `json:"MemoData"`
	MemoType string `json:"MemoType,omitempty"`
}

type payloadOptions struct {
	Submit bool `json:"submit"`
	// Expire is in minutes.
	Expire int `json:"expire"`
}

type customMeta struct {
	Identifier  string `json:"identifier,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// payloadCreated is the response of POST /payload.
type payloadCreated struct {
	UUID string `json:"uuid"`
	Next struct {
		Always string `json:"always"`
	} `json:"next"`
	Refs struct {
		QRPng string `json:"qr_png"`
	} `json:"refs"`
	Pushed bool `json:"pushed"`
}

// payloadStatus is the response of GET /payload/{uuid}.
type payloadStatus struct {
	Meta struct {
		Exists    bool   `json:"exists"`
		UUID      string `json:"uuid"`
		Resolved  bool   `json:"resolved"`
		Signed    bool   `json:"signed"`
		Cancelled bool   `json:"cancelled"`
		Expired   bool   `json:"expired"`
	} `json:"meta"`
	Response struct {
		Txid    string `json:"txid"`
		Account string `json:"account"`
	} `json:"response"`
	Payload struct {
		ExpiresAt string `json:"expires_at"`
	} `json:"payload"`
}

// payoutRequest is the body sent to the payout relay.
type payoutRequest struct {
	Destination    string `json:"destination"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Issuer         string `json:"issuer,omitempty"`
	Memo           string `json:"memo,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type payoutResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash"`
	Error   string `json:"error"`
}

// WebhookCallback is the subset of the gateway's webhook body the service
// reads.
type WebhookCallback struct {
	Meta struct {
		PayloadUUID string `json:"payload_uuidv4"`
	} `json:"meta"`
	PayloadResponse struct {
		PayloadUUID string `json:"payload_uuidv4"`
		Signed      bool   `json:"signed"`
		Txid        string `json:"txid"`
	} `json:"payloadResponse"`
}

// CorrelationID returns the payload uuid carried by the callback.
func (w WebhookCallback) CorrelationID() string {
	if w.PayloadResponse.PayloadUUID != "" {
		return w.PayloadResponse.PayloadUUID
	}
	return w.Meta.PayloadUUID
}
