package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/config"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/internal/infrastructure/metrics"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"go.uber.org/zap"
)

// profiledWriter stamps the query headers right before the first byte of
// the response goes out.
type profiledWriter struct {
	gin.ResponseWriter
	profile *database.Profile
	stamped bool
}

func (w *profiledWriter) stamp() {
	if w.stamped || w.ResponseWriter.Written() {
		return
	}
	w.stamped = true
	h := w.ResponseWriter.Header()
	h.Set(constants.HeaderQueryCount, strconv.Itoa(w.profile.Count()))
	h.Set(constants.HeaderQueryTimeMs, strconv.FormatFloat(float64(w.profile.Total().Microseconds())/1000, 'f', 2, 64))
}

func (w *profiledWriter) WriteHeaderNow() {
	w.stamp()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *profiledWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

func (w *profiledWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}

// Profiler collects every statement a request issues. It reports the totals
// in response headers, warns about statements repeated at least the N+1
// threshold and logs slow ones.
func Profiler(cfg config.ProfilerConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}
		profile := database.NewProfile(cfg.SlowQueryThreshold)
		c.Request = c.Request.WithContext(database.WithProfile(c.Request.Context(), profile))
		w := &profiledWriter{ResponseWriter: c.Writer, profile: profile}
		c.Writer = w

		c.Next()

		w.stamp()
		metrics.ObserveRequestQueries(profile.Count())

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if cfg.NPlusOneThreshold > 0 {
			if repeated := profile.Repeated(cfg.NPlusOneThreshold); len(repeated) > 0 {
				metrics.RecordNPlusOne(route)
				for _, st := range repeated {
					logger.Warn("Possible N+1 query",
						zap.String("route", route),
						zap.String("request_id", GetRequestID(c)),
						zap.String("sql", st.SQL),
						zap.Int("count", st.Count),
						zap.Duration("total", st.Total),
					)
				}
			}
		}
		for _, q := range profile.Slow() {
			logger.Warn("Slow query",
				zap.String("route", route),
				zap.String("request_id", GetRequestID(c)),
				zap.String("sql", q.SQL),
				zap.Duration("duration", q.Duration),
			)
		}
	}
}
