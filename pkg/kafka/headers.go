package kafkautils

import (
	"strconv"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// HeaderValue returns the last value of key, so a later SetHeader wins over an inherited one.
func HeaderValue(headers []kafka.Header, key string) (string, bool) {
	for i := len(headers) - 1; i >= 0; i-- {
		if headers[i].Key == key {
			return string(headers[i].Value), true
		}
	}
	return "", false
}

// HeaderInt parses an integer header, returning def when missing or malformed.
func HeaderInt(headers []kafka.Header, key string, def int64) int64 {
	v, ok := HeaderValue(headers, key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// SetHeader returns a copy of headers with key replaced by value.
func SetHeader(headers []kafka.Header, key, value string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: key, Value: []byte(value)})
}
