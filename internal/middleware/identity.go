package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/arena-backend/internal/handlers"
	"github.com/yungbote/arena-backend/internal/platform/ctxutil"
	"github.com/yungbote/arena-backend/internal/platform/logger"
)

// IdentityMiddleware resolves the caller from the X-User-ID header set by the
// authenticating gateway in front of this service; session handling itself
// lives there, not here.
type IdentityMiddleware struct {
	log *logger.Logger
}

func NewIdentityMiddleware(baseLog *logger.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{log: baseLog.With("middleware", "Identity")}
}

func (m *IdentityMiddleware) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			handlers.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing X-User-ID header"))
			c.Abort()
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			handlers.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("invalid X-User-ID header"))
			c.Abort()
			return
		}

		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{
			UserID:    userID,
			RequestID: c.GetHeader("X-Request-ID"),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
