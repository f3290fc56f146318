package security

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	injectionPattern = regexp.MustCompile(`(?i)(\.\./|\.\.\\|%2e%2e%2f|<\s*script|javascript\s*:|on(error|load|click|mouseover)\s*=|<\s*iframe)`)
	sqlPattern       = regexp.MustCompile(`(?i)(\bunion\b\s+(all\s+)?\bselect\b|\bselect\b\s+.+\s+\bfrom\b|\binsert\b\s+\binto\b|\bdelete\b\s+\bfrom\b|\bdrop\b\s+\b(table|database)\b|\bupdate\b\s+\w+\s+\bset\b|'\s*or\s+'?\d+'?\s*=\s*'?\d+|'\s*;\s*--)`)
)

// maxScannedBody bounds how much of a request body is inspected.
const maxScannedBody = 64 << 10

// SuspiciousRequestLogger records authentication traffic and requests that
// look like injection attempts. It never alters the response.
func SuspiciousRequestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		inspect(c, logger)
		return err
	}
}

func inspect(c *fiber.Ctx, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("security inspection aborted", zap.Any("panic", r))
		}
	}()

	method := c.Method()
	path := c.Path()
	lowerPath := strings.ToLower(path)

	if method == fiber.MethodPost && (strings.Contains(lowerPath, "/auth") || strings.Contains(lowerPath, "password")) {
		logger.Info("auth request",
			zap.Time("timestamp", time.Now().UTC()),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("ip", c.IP()),
			zap.String("user_agent", c.Get(fiber.HeaderUserAgent)))
	}

	rawURL := c.OriginalURL()
	target := rawURL
	if decoded, err := url.QueryUnescape(rawURL); err == nil {
		target = decoded
	}
	body := c.Body()
	if len(body) > maxScannedBody {
		body = body[:maxScannedBody]
	}

	var matched []string
	if injectionPattern.MatchString(target) || injectionPattern.Match(body) {
		matched = append(matched, "injection")
	}
	if sqlPattern.MatchString(target) || sqlPattern.Match(body) {
		matched = append(matched, "sql")
	}
	if len(matched) == 0 {
		return
	}

	logger.Warn("suspicious request",
		zap.Time("timestamp", time.Now().UTC()),
		zap.Strings("patterns", matched),
		zap.String("method", method),
		zap.String("url", rawURL),
		zap.String("ip", c.IP()),
		zap.String("user_agent", c.Get(fiber.HeaderUserAgent)))
}
