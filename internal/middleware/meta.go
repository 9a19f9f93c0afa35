package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avtomat-kz/avtomat-api/pkg/middleware/requestid"
)

const responseMetaKey = "response_meta"

type responseMeta struct {
	started time.Time
	values  map[string]interface{}
}

// WithResponseMeta starts the processing clock and collects meta values that
// handlers attach to the response envelope.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(responseMetaKey, &responseMeta{started: time.Now(), values: map[string]interface{}{}})
		c.Next()
	}
}

// SetMeta records one meta value. It is a no-op outside WithResponseMeta.
func SetMeta(c *gin.Context, key string, value interface{}) {
	if m := lookupMeta(c); m != nil {
		m.values[key] = value
	}
}

// SetCacheHit records whether the payload was served from cache.
func SetCacheHit(c *gin.Context, hit bool) {
	SetMeta(c, "cache_hit", hit)
}

// ResponseMeta snapshots the collected values together with the elapsed time
// and the request id. It returns nil outside WithResponseMeta.
func ResponseMeta(c *gin.Context) map[string]interface{} {
	m := lookupMeta(c)
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m.values)+2)
	for k, v := range m.values {
		out[k] = v
	}
	out["processing_time_ms"] = time.Since(m.started).Milliseconds()
	if id := requestid.Value(c); id != "" {
		out["request_id"] = id
	}
	return out
}

func lookupMeta(c *gin.Context) *responseMeta {
	if c == nil {
		return nil
	}
	raw, ok := c.Get(responseMetaKey)
	if !ok {
		return nil
	}
	m, _ := raw.(*responseMeta)
	return m
}
