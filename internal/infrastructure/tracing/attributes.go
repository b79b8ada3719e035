package tracing

import (
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys written by the interception points.
const (
	AttrHTTPMethod          = "http.method"
	AttrHTTPURL             = "http.url"
	AttrHTTPRoute           = "http.route"
	AttrHTTPTarget          = "http.target"
	AttrHTTPHost            = "http.host"
	AttrHTTPScheme          = "http.scheme"
	AttrHTTPUserAgent       = "http.user_agent"
	AttrHTTPStatusCode      = "http.status_code"
	AttrHTTPDurationMS      = "http.duration_ms"
	AttrHTTPRequestSize     = "http.request_content_length"
	AttrHTTPResponseSize    = "http.response_content_length"
	AttrHTTPClientIP        = "http.client_ip"
	AttrRequestCanceled     = "request.canceled"
	AttrDBSystem            = "db.system"
	AttrDBStatement         = "db.statement"
	AttrDBOperation         = "db.operation"
	AttrDBExecutionTimeMS   = "db.execution_time_ms"
	AttrDBRows              = "db.result.rows"
	AttrRPCSystem           = "rpc.system"
	AttrRPCService          = "rpc.service"
	AttrRPCMethod           = "rpc.method"
	AttrRPCStatusCode       = "rpc.grpc.status_code"
	AttrRPCStreaming        = "rpc.streaming"
	AttrExceptionType       = "exception.type"
	AttrExceptionMessage    = "exception.message"
	AttrExceptionStacktrace = "exception.stacktrace"
	AttrOrphaned            = "span.orphaned"
	EventException          = "exception"
)

// Attr converts a Go scalar into a typed attribute. Unsigned values that do
// not fit an int64 and non-scalar values are stored as strings.
func Attr(key string, value any) attribute.KeyValue {
	k := attribute.Key(key)
	switch v := value.(type) {
	case string:
		return k.String(v)
	case bool:
		return k.Bool(v)
	case int:
		return k.Int(v)
	case int8:
		return k.Int64(int64(v))
	case int16:
		return k.Int64(int64(v))
	case int32:
		return k.Int64(int64(v))
	case int64:
		return k.Int64(v)
	case uint8:
		return k.Int64(int64(v))
	case uint16:
		return k.Int64(int64(v))
	case uint32:
		return k.Int64(int64(v))
	case uint:
		return uintAttr(k, uint64(v))
	case uint64:
		return uintAttr(k, v)
	case float32:
		return k.Float64(float64(v))
	case float64:
		return k.Float64(v)
	case time.Duration:
		return k.String(v.String())
	case error:
		return k.String(v.Error())
	case fmt.Stringer:
		return k.String(v.String())
	case nil:
		return k.String("")
	default:
		return k.String(fmt.Sprint(v))
	}
}

func uintAttr(k attribute.Key, v uint64) attribute.KeyValue {
	if v > math.MaxInt64 {
		return k.String(fmt.Sprint(v))
	}
	return k.Int64(int64(v))
}

// Milliseconds renders d as fractional milliseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
