package handler

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/gofiber/fiber/v2"
)

// KeySetSource exposes the public half of the token signing key.
type KeySetSource interface {
	PublicJWKS() (jose.JSONWebKeySet, error)
}

func RegisterJWKSRoute(router fiber.Router, source KeySetSource) error {
	if source == nil {
		return fmt.Errorf("key set source is required")
	}

	router.Get("/.well-known/jwks.json", func(c *fiber.Ctx) error {
		set, err := source.PublicJWKS()
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "signing key unavailable")
		}
		c.Set(fiber.HeaderCacheControl, "public, max-age=300")
		return c.Status(fiber.StatusOK).JSON(set)
	})

	return nil
}
