package foxglove

import (
	"encoding/binary"
	"time"
)

const (
	OpServerInfo  = "serverInfo"
	OpAdvertise   = "advertise"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"

	BinaryOpMessageData = 0x01
)

type ServerInfoMsg struct {
	Op                 string            `json:"op"`
	Name               string            `json:"name"`
	Capabilities       []string          `json:"capabilities"`
	SupportedEncodings []string          `json:"supportedEncodings,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	SessionID          string            `json:"sessionId,omitempty"`
}

type Channel struct {
	ID             uint64 `json:"id"`
	Topic          string `json:"topic"`
	Encoding       string `json:"encoding"`
	SchemaName     string `json:"schemaName"`
	SchemaEncoding string `json:"schemaEncoding,omitempty"`
	Schema         string `json:"schema,omitempty"`
}

type AdvertiseMsg struct {
	Op       string    `json:"op"`
	Channels []Channel `json:"channels"`
}

type Subscription struct {
	ID        uint32 `json:"id"`
	ChannelID uint64 `json:"channelId"`
}

type SubscribeMsg struct {
	Op            string         `json:"op"`
	Subscriptions []Subscription `json:"subscriptions"`
}

type UnsubscribeMsg struct {
	Op              string   `json:"op"`
	SubscriptionIDs []uint32 `json:"subscriptionIds"`
}

type FrameTime struct {
	Sec  uint32 `json:"sec"`
	Nsec uint32 `json:"nsec"`
}

func frameTime(ts time.Time) FrameTime {
	return FrameTime{Sec: uint32(ts.Unix()), Nsec: uint32(ts.Nanosecond())}
}

type SpectrumMessage struct {
	Timestamp       FrameTime `json:"timestamp"`
	SenderTimestamp uint32    `json:"sender_timestamp"`
	Version         uint8     `json:"version"`
	Flags           uint8     `json:"flags"`
	Interpolated    bool      `json:"interpolated"`
	Bands           []uint16  `json:"bands"`
	Normalized      []float32 `json:"normalized"`
	Peak            float32   `json:"peak"`
	Mean            float32   `json:"mean"`
}

type RateMessage struct {
	Timestamp         FrameTime         `json:"timestamp"`
	RawTotal          uint64            `json:"raw_total"`
	DecodedTotal      uint64            `json:"decoded_total"`
	RawCumulative     float64           `json:"raw_cumulative"`
	RawWindowed       float64           `json:"raw_windowed"`
	DecodedCumulative float64           `json:"decoded_cumulative"`
	DecodedWindowed   float64           `json:"decoded_windowed"`
	DecodeErrors      map[string]uint64 `json:"decode_errors"`
}

// EncodeMessageData frames a payload as a foxglove binary messageData op.
func EncodeMessageData(subscriptionID uint32, logTime uint64, payload []byte) []byte {
	out := make([]byte, 1+4+8+len(payload))
	out[0] = BinaryOpMessageData
	binary.LittleEndian.PutUint32(out[1:5], subscriptionID)
	binary.LittleEndian.PutUint64(out[5:13], logTime)
	copy(out[13:], payload)
	return out
}
