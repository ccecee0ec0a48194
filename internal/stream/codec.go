package stream

import (
	"encoding/binary"
	"time"

	"github.com/bytedance/sonic"

	"options_bot/internal/models"
)

// Ticker text frames are JSON commands:
//
//	{"a":"subscribe","v":[256265]}
//	{"a":"mode","v":["ltp",[256265]]}
type command struct {
	Action string `json:"a"`
	Value  any    `json:"v"`
}

func subscribeFrame(tokens []uint32) ([]byte, error) {
	return sonic.Marshal(command{Action: "subscribe", Value: tokens})
}

func modeLTPFrame(tokens []uint32) ([]byte, error) {
	return sonic.Marshal(command{Action: "mode", Value: []any{"ltp", tokens}})
}

// ParseBinaryTicks decodes a binary tick frame. Layout (big-endian):
// int16 packet count, then per packet an int16 length prefix followed by
// the packet body. An LTP packet is 8 bytes: uint32 token, int32 last
// price in paise.
func ParseBinaryTicks(frame []byte, now time.Time) []models.Tick {
	if len(frame) < 2 {
		return nil
	}
	count := int(binary.BigEndian.Uint16(frame[0:2]))

	ticks := make([]models.Tick, 0, count)
	offset := 2
	for i := 0; i < count; i++ {
		if offset+2 > len(frame) {
			break
		}
		size := int(binary.BigEndian.Uint16(frame[offset : offset+2]))
		offset += 2
		if size < 8 || offset+size > len(frame) {
			break
		}
		pkt := frame[offset : offset+size]
		offset += size

		token := binary.BigEndian.Uint32(pkt[0:4])
		paise := int32(binary.BigEndian.Uint32(pkt[4:8]))
		ticks = append(ticks, models.Tick{
			Token:     token,
			LastPrice: float64(paise) / 100,
			At:        now,
		})
	}
	return ticks
}
