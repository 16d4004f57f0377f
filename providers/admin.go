package providers

import (
	"errors"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/chatsync/src/service"
)

type announceRequest struct {
	Text string `json:"text"`
}

func (p *ChatServer) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  "/ws/{client_id}/{room}/{username}",
		"version":   Version,
		"clients":   p.hub.ClientCount(),
		"rooms":     len(p.hub.Rooms()),
		"bridge":    p.bridge != nil && p.bridge.Available(),
	})
}

func (p *ChatServer) handleRooms(c fiber.Ctx) error {
	rooms := p.service.GetRooms()
	names := make([]string, 0, len(rooms))
	for name := range rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]fiber.Map, 0, len(names))
	for _, name := range names {
		result = append(result, fiber.Map{
			"room":         name,
			"participants": rooms[name],
		})
	}
	return c.JSON(fiber.Map{"rooms": result, "count": len(result)})
}

func (p *ChatServer) handleHistory(c fiber.Ctx) error {
	room := c.Params("room")
	msgs, err := p.service.RoomHistory(room)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"room": room, "messages": msgs, "count": len(msgs)})
}

func (p *ChatServer) handleAnnounce(c fiber.Ctx) error {
	room := c.Params("room")
	var req announceRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := p.service.Announce(room, req.Text); err != nil {
		if errors.Is(err, service.ErrEmptyRoom) || errors.Is(err, service.ErrEmptyText) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"announced": true, "room": room})
}

func (p *ChatServer) handleClients(c fiber.Ctx) error {
	clients := p.service.GetClients()
	return c.JSON(fiber.Map{"clients": clients, "count": len(clients)})
}

func (p *ChatServer) handleClient(c fiber.Ctx) error {
	info, err := p.service.GetClientInfo(c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrClientNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	return c.JSON(info)
}
