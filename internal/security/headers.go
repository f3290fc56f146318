package security

import "github.com/gofiber/fiber/v2"

// ContentSecurityPolicy is sent on every response of routes mounting Headers.
const ContentSecurityPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https:; font-src 'self' data:; connect-src 'self'; frame-ancestors 'none'"

var protectiveHeaders = [][2]string{
	{fiber.HeaderXFrameOptions, "DENY"},
	{fiber.HeaderXContentTypeOptions, "nosniff"},
	{fiber.HeaderXXSSProtection, "1; mode=block"},
	{fiber.HeaderReferrerPolicy, "strict-origin-when-cross-origin"},
	{fiber.HeaderContentSecurityPolicy, ContentSecurityPolicy},
}

// Headers sets the protective response headers before calling onward. Error
// responses rendered further up the chain keep them.
func Headers() fiber.Handler {
	return func(c *fiber.Ctx) error {
		SetHeaders(c)
		return c.Next()
	}
}

// SetHeaders writes the protective headers on the current response.
func SetHeaders(c *fiber.Ctx) {
	for _, h := range protectiveHeaders {
		c.Set(h[0], h[1])
	}
}
