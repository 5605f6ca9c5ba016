package handler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck is one dependency reported by /readyz.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

func PostgresCheck(sqlDB *sql.DB) ReadinessCheck {
	return ReadinessCheck{Name: "postgres", Ping: func(ctx context.Context) error {
		if sqlDB == nil {
			return errors.New("postgres is not configured")
		}
		return sqlDB.PingContext(ctx)
	}}
}

func RedisCheck(rdb *redis.Client) ReadinessCheck {
	return ReadinessCheck{Name: "redis", Ping: func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis is not configured")
		}
		return rdb.Ping(ctx).Err()
	}}
}

// RegisterHealthRoutes mounts /_health, /livez and /readyz. Only the given
// checks gate readiness.
func RegisterHealthRoutes(app fiber.Router, checks ...ReadinessCheck) {
	app.Get("/_health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).SendString("ok")
	})
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/readyz", ReadyzHandler(checks))
}

func ReadyzHandler(checks []ReadinessCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		results := make(fiber.Map, len(checks))
		ready := true
		for _, check := range checks {
			results[check.Name] = "ok"
			if err := check.Ping(ctx); err != nil {
				results[check.Name] = "down"
				ready = false
			}
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not_ready",
				"checks": results,
			})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ready",
			"checks": results,
		})
	}
}
