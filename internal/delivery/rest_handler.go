package delivery

import (
	"supporthub-ws/internal/auth"
	"supporthub-ws/internal/domain"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) handleListPrincipals(c *fiber.Ctx) error {
	role, err := domain.ParseRole(c.Params("role"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Unknown role",
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Roster retrieved successfully",
		"data": domain.RosterPayload{
			Role:       role,
			Principals: s.registry.ListByRole(role),
		},
	})
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	claims, _ := c.Locals("claims").(auth.Claims)
	key := c.Params("key")

	// Same rule as the WS path: only a party to the conversation may
	// read its history.
	if _, ok := domain.OtherParty(key, claims.Subject); !ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"message": "Not a party to this conversation",
		})
	}

	sinceSeq := int64(c.QueryInt("since_seq", 0))
	return c.JSON(fiber.Map{
		"success": true,
		"message": "History retrieved successfully",
		"data": domain.HistoryPayload{
			ConversationKey: key,
			SinceSeq:        sinceSeq,
			Messages:        s.store.History(key, sinceSeq),
		},
	})
}

func (s *Server) handleConversationStatus(c *fiber.Ctx) error {
	claims, _ := c.Locals("claims").(auth.Claims)
	key := c.Params("key")

	if _, ok := domain.OtherParty(key, claims.Subject); !ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"message": "Not a party to this conversation",
		})
	}

	a, b, _ := domain.ConversationParties(key)
	online := make(map[string]bool, 2)
	for _, id := range []string{a, b} {
		_, err := s.registry.Lookup(id)
		online[id] = err == nil
	}

	typing, err := s.redis.GetTypingSubjects(c.Context(), key)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to get typing state",
			"error":   err.Error(),
		})
	}

	lastActivity, _ := s.store.LastActivity(key)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Conversation status retrieved successfully",
		"data": fiber.Map{
			"conversation_key": key,
			"online":           online,
			"typing":           typing,
			"last_activity_at": lastActivity,
		},
	})
}
